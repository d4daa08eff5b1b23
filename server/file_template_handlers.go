package server

import (
	"embed"
	"html/template"
	"io/fs"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

const expiryLayout = "January 02, 2006 at 03:04:05 PM"

var templateFuncs = template.FuncMap{
	"expiry": formatExpiry,
}

// formatExpiry renders a token or session expiry for people; zero means none
func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "No expiration"
	}
	return t.Format(expiryLayout)
}

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplates parses every page template from the embedded filesystem
func ParseTemplates() (*template.Template, error) {
	return template.New("pages").Funcs(templateFuncs).ParseFS(TemplateFilesFS(), "*.html")
}
