// Package templates handles HTML template rendering for Datastar SSE responses.
package templates

import (
	"bytes"
	"html/template"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"join": strings.Join,
	"add":  func(a, b int) int { return a + b },
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New parses every *.html fragment at the root of fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// NewFromDir parses the fragments of a directory on disk.
func NewFromDir(fragmentsDir string) (*Renderer, error) {
	return New(os.DirFS(fragmentsDir))
}

func parse(fsys fs.FS) (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fsys, "*.html")
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// MustRender renders a template and panics on error.
// Use only when you're certain the template exists.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload re-parses the fragments from fsys (useful for dev hot-reload).
func (r *Renderer) Reload(fsys fs.FS) error {
	tmpl, err := parse(fsys)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
