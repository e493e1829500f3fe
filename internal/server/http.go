package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/apprunner/pkg/dispatcher"
	"github.com/morezero/apprunner/pkg/response"
)

const httpLogPrefix = "server:http"

// Handler returns the HTTP routes of h: /health, /ready and /{script}/{args...}.
// The root path runs the system app.
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/", h.handleScript())
	return mux
}

func (h *Host) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HealthCheckTimeout)
		defer cancel()
		health := h.Health(ctx)
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}

func (h *Host) handleScript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, args := splitPath(r.URL.Path)
		if ref == "" {
			ref = SystemScript
		}

		vars := map[string]interface{}{BindingRequest: r}
		if h.Records != nil {
			vars[BindingDB] = h.Records.WithContext(r.Context())
		}

		resp, err := h.Dispatcher.Run(r.Context(), dispatcher.Call{
			RequestID: r.Header.Get("X-Request-Id"),
			Ref:       ref,
			Args:      args,
			Vars:      vars,
			Transport: dispatcher.TransportHTTP,
		})
		if err != nil {
			detail, status := dispatcher.ToErrorDetail(err)
			slog.Debug(fmt.Sprintf("%s - %s %s: %d %s", httpLogPrefix, r.Method, r.URL.Path, status, detail.Code))
			writeJSON(w, status, detail)
			return
		}
		if err := response.Write(w, resp); err != nil {
			slog.Warn(fmt.Sprintf("%s - %s %s: %v", httpLogPrefix, r.Method, r.URL.Path, err))
		}
	}
}

// splitPath turns "/blog@^2/show/7" into ("blog@^2", ["show", "7"]). Empty
// segments are dropped.
func splitPath(path string) (string, []string) {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", httpLogPrefix, err))
	}
}
