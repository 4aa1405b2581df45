package webassets

import "embed"

// FS holds the dashboard templates and static assets.
//
//go:embed templates/*.tmpl assets/*
var FS embed.FS

// TemplatePattern matches every embedded page template.
const TemplatePattern = "templates/*.tmpl"
