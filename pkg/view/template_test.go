package view

import (
	"errors"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morezero/apprunner/pkg/response"
)

const templateTestPrefix = "view:template_test"

func TestRender(t *testing.T) {
	tpl := New(template.Must(template.New("post").Parse(`<h1>{{.Title}}</h1>`)))

	r, err := tpl.Render("post", map[string]string{"Title": "<b>hi</b>"})
	if err != nil {
		t.Fatalf("%s - Render failed: %v", templateTestPrefix, err)
	}
	if string(r.Body()) != "<h1>&lt;b&gt;hi&lt;/b&gt;</h1>" {
		t.Errorf("%s - expected escaped body, got %s", templateTestPrefix, r.Body())
	}
	if !strings.HasPrefix(r.ContentType(), "text/html") || r.StatusCode() != 200 {
		t.Errorf("%s - unexpected %s %d", templateTestPrefix, r.ContentType(), r.StatusCode())
	}

	if _, err := tpl.Render("missing", nil); err == nil {
		t.Errorf("%s - expected error for unknown template", templateTestPrefix)
	}
}

func TestRaise(t *testing.T) {
	tpl := New(template.Must(template.New("page").Parse(`Foobar`)))

	err := tpl.Raise("page", nil)
	r, ok := response.FromError(err)
	if !ok || string(r.Body()) != "Foobar" {
		t.Fatalf("%s - expected raised page, got %v", templateTestPrefix, err)
	}

	err = tpl.Raise("other", nil)
	if _, ok := response.FromError(err); ok || err == nil {
		t.Errorf("%s - render failure must be a plain error, got %v", templateTestPrefix, err)
	}
}

func TestParseGlob(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(`{{define "index"}}home{{end}}`), 0o644); err != nil {
		t.Fatalf("%s - write: %v", templateTestPrefix, err)
	}
	tpl, err := ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		t.Fatalf("%s - ParseGlob failed: %v", templateTestPrefix, err)
	}
	found := false
	for _, n := range tpl.Names() {
		found = found || n == "index"
	}
	if !found {
		t.Errorf("%s - expected index template, got %v", templateTestPrefix, tpl.Names())
	}

	_, err = ParseGlob(filepath.Join(dir, "*.none"))
	if err == nil || errors.Unwrap(err) == nil {
		t.Errorf("%s - expected wrapped error for empty glob, got %v", templateTestPrefix, err)
	}
}
