// Package view renders HTML templates into responses. A *Template is bound as
// "template" so handlers and scripts can end a request with a rendered page.
package view

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/morezero/apprunner/pkg/response"
)

const logPrefix = "view:template"

// Template is a set of named HTML templates.
type Template struct {
	set *template.Template
}

// ParseGlob parses every template file matching pattern.
func ParseGlob(pattern string) (*Template, error) {
	set, err := template.ParseGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s - parse %s: %w", logPrefix, pattern, err)
	}
	return &Template{set: set}, nil
}

// New wraps an already parsed template set.
func New(set *template.Template) *Template {
	return &Template{set: set}
}

// Render executes the template called name with data and returns the page.
func (t *Template) Render(name string, data interface{}) (response.Response, error) {
	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("%s - render %s: %w", logPrefix, name, err)
	}
	return response.NewString(buf.String(), "text/html; charset=utf-8"), nil
}

// Raise renders name and returns the page as a raised response, ready to be
// returned from a handler or script as its error value.
func (t *Template) Raise(name string, data interface{}) error {
	r, err := t.Render(name, data)
	if err != nil {
		return err
	}
	return response.Raise(r)
}

// Names lists the defined template names.
func (t *Template) Names() []string {
	var names []string
	for _, tpl := range t.set.Templates() {
		if tpl.Name() != "" {
			names = append(names, tpl.Name())
		}
	}
	return names
}
