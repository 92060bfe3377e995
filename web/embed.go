// Package web bundles the HTML templates and static assets into the binary.
package web

import "embed"

// Templates holds the layout, partial and page templates.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static holds the stylesheets served under /static/.
//
//go:embed static/**/*
var Static embed.FS
