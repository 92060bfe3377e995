package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	// Nav is set on pages behind the login.
	Nav  *Nav
	Data any
}

// Nav is the navigation bar of a signed-in user.
type Nav struct {
	Pages    []string
	Current  string
	Settings bool
	User     string
	Role     string
}

var printer = message.NewPrinter(language.English)

// FormatNumber groups thousands and keeps the given decimals.
func FormatNumber(v float64, digits int) string {
	return printer.Sprintf("%.*f", digits, v)
}

// FuncMap lists the helpers available to every template.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatNumber": FormatNumber,
		"join":         strings.Join,
		"active": func(current, path string) bool {
			return current == path || strings.HasPrefix(current, path+"/")
		},
	}
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(FuncMap()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
