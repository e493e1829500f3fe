package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/events"
	"github.com/morezero/apprunner/pkg/response"
	"github.com/morezero/apprunner/pkg/script"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

type greeter struct{}

func (g *greeter) Index() response.Response {
	return response.NewString("index", "text/plain")
}

func (g *greeter) Hello(name string) response.Response {
	return response.NewString("hello "+name, "text/plain")
}

func (g *greeter) Whoami(inv *InvocationContext) response.Response {
	return response.NewString(inv.UserID, "text/plain")
}

func (g *greeter) Boom() response.Response {
	panic("kaboom")
}

type recorder struct {
	mu     sync.Mutex
	events []*events.DispatchedEvent
}

func (r *recorder) publisher() events.EventPublisher {
	return events.NewCallbackPublisher(func(_ context.Context, e *events.DispatchedEvent) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
		return nil
	})
}

func (r *recorder) last(t *testing.T) *events.DispatchedEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatalf("%s - no event published", dispatcherTestPrefix)
	}
	return r.events[len(r.events)-1]
}

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *recorder, *bytes.Buffer) {
	t.Helper()
	reg := script.NewRegistry()
	scripts := map[string]apprunner.Script{
		"greeter": apprunner.HandlerScript(func() interface{} { return &greeter{} }),
		"site": apprunner.ScriptFunc(func(_ context.Context, scope *apprunner.Scope) (apprunner.Outcome, error) {
			v, _ := scope.Context.Get("site")
			s, _ := v.(string)
			return apprunner.Respond(response.NewString(s, "text/plain")), nil
		}),
		"slow": apprunner.ScriptFunc(func(ctx context.Context, _ *apprunner.Scope) (apprunner.Outcome, error) {
			<-ctx.Done()
			return apprunner.Outcome{}, ctx.Err()
		}),
		"broken": apprunner.ScriptFunc(func(context.Context, *apprunner.Scope) (apprunner.Outcome, error) {
			return apprunner.Outcome{}, errors.New("disk on fire")
		}),
	}
	for name, s := range scripts {
		if err := reg.Register(name, "1.0.0", s); err != nil {
			t.Fatalf("%s - Register(%s) failed: %v", dispatcherTestPrefix, name, err)
		}
	}

	rec := &recorder{}
	buf := &bytes.Buffer{}
	opts.Publisher = rec.publisher()
	opts.Logger = slog.New(slog.NewTextHandler(buf, nil))
	return NewDispatcher(reg, opts), rec, buf
}

func TestExecute_RunsHandler(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Options{})

	resp, err := d.Execute(context.Background(), "greeter@1", []string{"hello", "ada"}, nil)
	if err != nil {
		t.Fatalf("%s - Execute failed: %v", dispatcherTestPrefix, err)
	}
	if string(resp.Body()) != "hello ada" {
		t.Errorf("%s - unexpected body %q", dispatcherTestPrefix, resp.Body())
	}

	e := rec.last(t)
	if e.Script != "greeter" || e.Version != "1.0.0" || e.Outcome != events.OutcomeResponse || e.Status != 200 {
		t.Errorf("%s - unexpected event %+v", dispatcherTestPrefix, e)
	}
	if e.ID == "" || e.RequestID == "" || e.ID == e.RequestID {
		t.Errorf("%s - expected distinct generated ids, got %q and %q", dispatcherTestPrefix, e.ID, e.RequestID)
	}
}

func TestExecute_ScriptNotFound(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Options{})

	_, err := d.Execute(context.Background(), "missing", nil, nil)
	if !apprunner.IsCode(err, CodeScriptNotFound) {
		t.Fatalf("%s - expected SCRIPT_NOT_FOUND, got %v", dispatcherTestPrefix, err)
	}
	detail, status := ToErrorDetail(err)
	if status != 404 || detail.Message != "Unknown script: missing" {
		t.Errorf("%s - unexpected detail %d %+v", dispatcherTestPrefix, status, detail)
	}

	e := rec.last(t)
	if e.Script != "missing" || e.Outcome != events.OutcomeError || e.ErrorCode != CodeScriptNotFound {
		t.Errorf("%s - unexpected event %+v", dispatcherTestPrefix, e)
	}
}

func TestExecute_BindingsAndVars(t *testing.T) {
	d, _, _ := newTestDispatcher(t, Options{Bindings: map[string]interface{}{"site": "base"}})

	resp, err := d.Execute(context.Background(), "site", nil, nil)
	if err != nil || string(resp.Body()) != "base" {
		t.Fatalf("%s - expected base binding, got %v %v", dispatcherTestPrefix, resp, err)
	}

	resp, err = d.Execute(context.Background(), "site", nil, map[string]interface{}{"site": "call"})
	if err != nil || string(resp.Body()) != "call" {
		t.Fatalf("%s - expected per-call variable to win, got %v %v", dispatcherTestPrefix, resp, err)
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	d, rec, buf := newTestDispatcher(t, Options{})

	_, err := d.Execute(context.Background(), "greeter", []string{"boom"}, nil)
	var panicked *PanicError
	if !errors.As(err, &panicked) {
		t.Fatalf("%s - expected PanicError, got %v", dispatcherTestPrefix, err)
	}
	detail, status := ToErrorDetail(err)
	if status != 500 || detail.Code != CodeInternal || detail.Retryable {
		t.Errorf("%s - unexpected detail %d %+v", dispatcherTestPrefix, status, detail)
	}
	if !strings.Contains(buf.String(), "kaboom") {
		t.Errorf("%s - expected panic value in log, got %s", dispatcherTestPrefix, buf.String())
	}
	if e := rec.last(t); e.Outcome != events.OutcomePanic {
		t.Errorf("%s - expected panic outcome, got %s", dispatcherTestPrefix, e.Outcome)
	}
}

func TestExecute_Timeout(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Options{Timeout: 20 * time.Millisecond})

	_, err := d.Execute(context.Background(), "slow", nil, nil)
	detail, status := ToErrorDetail(err)
	if detail.Code != CodeTimeout || status != 504 || !detail.Retryable {
		t.Errorf("%s - unexpected detail %d %+v for %v", dispatcherTestPrefix, status, detail, err)
	}
	if e := rec.last(t); e.ErrorCode != CodeTimeout {
		t.Errorf("%s - expected TIMEOUT event, got %+v", dispatcherTestPrefix, e)
	}
}

func TestToErrorDetail(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		status    int
		retryable bool
	}{
		{"dispatch error", &apprunner.DispatchError{Code: apprunner.CodeMissingArgument, Status: 400, Message: "m"}, apprunner.CodeMissingArgument, 400, false},
		{"canceled", context.Canceled, CodeCanceled, 503, true},
		{"plain error", errors.New("boom"), CodeInternal, 500, true},
	}
	for _, tt := range tests {
		detail, status := ToErrorDetail(tt.err)
		if detail.Code != tt.code || status != tt.status || detail.Retryable != tt.retryable {
			t.Errorf("%s - %s: got %d %+v", dispatcherTestPrefix, tt.name, status, detail)
		}
	}
}

func TestDispatch(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		req    *DispatchRequest
		ok     bool
		status int
		body   string
		code   string
	}{
		{name: "default method", req: &DispatchRequest{ID: "r1", Script: "greeter"}, ok: true, status: 200, body: "index"},
		{name: "named method", req: &DispatchRequest{ID: "r2", Script: "greeter@^1.0.0", Args: []string{"hello", "bob"}}, ok: true, status: 200, body: "hello bob"},
		{name: "invocation context", req: &DispatchRequest{ID: "r3", Script: "greeter", Args: []string{"whoami"}, Ctx: &InvocationContext{UserID: "u-42"}}, ok: true, status: 200, body: "u-42"},
		{name: "missing argument", req: &DispatchRequest{ID: "r4", Script: "greeter", Args: []string{"hello"}}, status: 400, code: apprunner.CodeMissingArgument},
		{name: "missing script name", req: &DispatchRequest{ID: "r5"}, status: 400, code: CodeInvalidRequest},
		{name: "unknown script", req: &DispatchRequest{ID: "r6", Script: "greeter@2"}, status: 404, code: CodeScriptNotFound},
		{name: "script error", req: &DispatchRequest{ID: "r7", Script: "broken"}, status: 500, code: CodeInternal},
		{name: "client timeout", req: &DispatchRequest{ID: "r8", Script: "slow", Ctx: &InvocationContext{TimeoutMs: 10}}, status: 504, code: CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(ctx, tt.req)
			if resp.ID != tt.req.ID || resp.Ok != tt.ok || resp.Status != tt.status {
				t.Fatalf("%s - unexpected envelope %+v", dispatcherTestPrefix, resp)
			}
			if tt.ok {
				if resp.Body != tt.body || resp.ContentType != "text/plain" || resp.Error != nil {
					t.Errorf("%s - unexpected body %+v", dispatcherTestPrefix, resp)
				}
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("%s - expected error %s, got %+v", dispatcherTestPrefix, tt.code, resp.Error)
			}
		})
	}

	if e := rec.last(t); e.RequestID != "r8" || e.Transport != TransportComms {
		t.Errorf("%s - expected request id and transport on event, got %+v", dispatcherTestPrefix, e)
	}
}

func TestDispatch_GeneratesID(t *testing.T) {
	d, _, _ := newTestDispatcher(t, Options{})
	resp := d.Dispatch(context.Background(), &DispatchRequest{Script: "greeter"})
	if resp.ID == "" || !resp.Ok {
		t.Errorf("%s - expected generated id and ok, got %+v", dispatcherTestPrefix, resp)
	}
}

func TestDispatch_RejectsReservedVars(t *testing.T) {
	d, _, _ := newTestDispatcher(t, Options{
		Bindings: map[string]interface{}{"site": "base"},
		Reserved: []string{"request"},
	})
	ctx := context.Background()

	for _, name := range []string{"context", "logger", "arguments", "invocation", "site", "request"} {
		resp := d.Dispatch(ctx, &DispatchRequest{
			ID:     "rv-" + name,
			Script: "site",
			Vars:   map[string]interface{}{name: "remote"},
		})
		if resp.Ok || resp.Status != 400 || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
			t.Errorf("%s - expected var %q to be rejected, got %+v", dispatcherTestPrefix, name, resp)
		}
	}

	resp := d.Dispatch(ctx, &DispatchRequest{ID: "rv-ok", Script: "site", Vars: map[string]interface{}{"theme": "dark"}})
	if !resp.Ok || resp.Body != "base" {
		t.Errorf("%s - expected unreserved var to pass, got %+v", dispatcherTestPrefix, resp)
	}
}

func TestDispatch_NilResponsePointer(t *testing.T) {
	d, _, _ := newTestDispatcher(t, Options{})
	var nilString *response.StringResponse
	empty := apprunner.ScriptFunc(func(context.Context, *apprunner.Scope) (apprunner.Outcome, error) {
		return apprunner.Outcome{Response: nilString}, nil
	})
	if err := d.scripts.Register("empty", "1.0.0", empty); err != nil {
		t.Fatalf("%s - Register failed: %v", dispatcherTestPrefix, err)
	}

	resp := d.Dispatch(context.Background(), &DispatchRequest{ID: "np-1", Script: "empty"})
	if resp.Ok || resp.Status != 500 || resp.Error == nil || resp.Error.Code != apprunner.CodeNoResponse {
		t.Errorf("%s - expected NO_RESPONSE envelope, got %+v", dispatcherTestPrefix, resp)
	}
}

func TestDispatchRequest_Unmarshal(t *testing.T) {
	raw := `{
		"id": "req-1",
		"script": "blog@^2.0.0",
		"args": ["show", "7"],
		"vars": {"theme": "dark"},
		"ctx": {"tenantId": "tenant-1", "env": "production", "timeoutMs": 1500}
	}`

	var req DispatchRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("%s - failed to unmarshal: %v", dispatcherTestPrefix, err)
	}
	if req.Script != "blog@^2.0.0" || len(req.Args) != 2 || req.Vars["theme"] != "dark" {
		t.Errorf("%s - unexpected request %+v", dispatcherTestPrefix, req)
	}
	if req.Ctx == nil || req.Ctx.TenantID != "tenant-1" || req.Ctx.TimeoutMs != 1500 {
		t.Errorf("%s - unexpected ctx %+v", dispatcherTestPrefix, req.Ctx)
	}
}

func TestDispatchResponse_Marshal(t *testing.T) {
	resp := errorResponse("req-1", 404, &ErrorDetail{Code: CodeScriptNotFound, Message: "Unknown script: x"})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("%s - failed to marshal: %v", dispatcherTestPrefix, err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s - failed to unmarshal: %v", dispatcherTestPrefix, err)
	}
	if decoded["ok"] != false || decoded["status"] != float64(404) {
		t.Errorf("%s - unexpected envelope %v", dispatcherTestPrefix, decoded)
	}
	if _, present := decoded["body"]; present {
		t.Errorf("%s - empty body should be omitted: %v", dispatcherTestPrefix, decoded)
	}
	errObj, _ := decoded["error"].(map[string]interface{})
	if errObj["code"] != CodeScriptNotFound || errObj["retryable"] != false {
		t.Errorf("%s - unexpected error object %v", dispatcherTestPrefix, errObj)
	}
}
