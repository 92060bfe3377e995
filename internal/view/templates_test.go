package view

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderLogin(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	err = engine.Render(rec, "pages/login.html", TemplateData{
		Title:     "Sign in",
		CSRFToken: "tok",
		Flash:     &shared.FlashMessage{Kind: "error", Message: "<b>bad</b>"},
	})
	require.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "<form")
	assert.Contains(t, body, `value="tok"`)
	assert.Contains(t, body, "&lt;b&gt;bad&lt;/b&gt;")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatNumber(1234567, 0))
	assert.Equal(t, "72.50", FormatNumber(72.5, 2))
}
