package webassets

import "embed"

// FS contains the HTML templates and static assets.
//
//go:embed templates/*.tmpl static/*
var FS embed.FS
