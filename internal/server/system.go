package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/response"
	"github.com/morezero/apprunner/pkg/script"
	"github.com/morezero/apprunner/pkg/view"
)

const systemLogPrefix = "server:system"

// SystemScript is the name the built-in app is registered under.
const SystemScript = "system"

// systemPageTemplate is the HTML for the host home page (white bg, black/blue text).
const systemPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>App Runner</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>App Runner</h1>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $ok := .Health.Checks}}<p>{{$name}}: {{if $ok}}OK{{else}}Failed{{end}}</p>{{end}}
    <p>Uptime: {{.Health.Uptime}}</p>
  </section>

  <section>
    <h2>Scripts</h2>
    {{if not .Scripts}}
    <p>No scripts registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Script</th><th>Version</th><th>Status</th><th>Source</th><th>Description</th></tr>
      </thead>
      <tbody>
        {{range .Scripts}}
        <tr>
          <td><a href="/{{.Name}}@{{.Version}}">{{.Name}}</a></td>
          <td>{{.Version}}</td>
          <td>{{.Status}}</td>
          <td>{{.Source}}</td>
          <td>{{.Description}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

var systemPage = view.New(template.Must(template.New("system").Parse(systemPageTemplate)))

// systemApp is the built-in handler object: the host home page, the script
// listing and script descriptions.
type systemApp struct {
	Registry *script.Registry `apprunner:"resolve"`

	health func(ctx context.Context) *Health
}

type systemPageData struct {
	Health  *Health
	Scripts []script.Entry
}

// Index renders the home page.
func (s *systemApp) Index(ctx context.Context) (response.Response, error) {
	return systemPage.Render("system", systemPageData{
		Health:  s.health(ctx),
		Scripts: s.Registry.List(),
	})
}

// Health reports host health as JSON.
func (s *systemApp) Health(ctx context.Context) (response.Response, error) {
	h := s.health(ctx)
	resp, err := response.NewJSON(h)
	if err != nil {
		return nil, err
	}
	if h.Status != "healthy" {
		return resp.WithStatus(http.StatusServiceUnavailable), nil
	}
	return resp, nil
}

// Scripts lists every registered script version and the alias table.
func (s *systemApp) Scripts() (response.Response, error) {
	return response.NewJSON(map[string]interface{}{
		"scripts": s.Registry.List(),
		"aliases": s.Registry.Aliases(),
	})
}

// Script describes the version a reference resolves to.
func (s *systemApp) Script(entry *script.Entry) (response.Response, error) {
	return response.NewJSON(entry)
}

func registerSystemApp(h *Host) error {
	app := apprunner.HandlerScript(func() interface{} {
		return &systemApp{health: h.Health}
	})
	err := h.Scripts.Register(SystemScript, "", app,
		script.WithSource("builtin"),
		script.WithDescription("Host home page, health and script listing"))
	if err != nil {
		return fmt.Errorf("%s - failed to register %s: %w", systemLogPrefix, SystemScript, err)
	}
	return nil
}
