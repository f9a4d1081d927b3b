// Package web serves the single chat page.
package web

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/zhouzirui/claudio/backend/internal/model/persona"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// Render executes the page for p.
func Render(p persona.Persona) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// Handler returns an http.Handler serving the page for the default persona.
// The page is rendered once at construction.
func Handler(store persona.Store) (http.Handler, error) {
	p, ok := persona.Resolve(store, "")
	if !ok {
		return nil, fmt.Errorf("default persona %q not found", persona.DefaultID)
	}

	page, err := Render(p)
	if err != nil {
		return nil, err
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(page)
	}), nil
}
