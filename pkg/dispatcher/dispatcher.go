// Package dispatcher runs registered scripts on behalf of a host. It looks the
// script up, executes it with apprunner, turns failures into ErrorDetail
// envelopes and publishes a DispatchedEvent for every run.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/commsutil"
	"github.com/morezero/apprunner/pkg/events"
	"github.com/morezero/apprunner/pkg/response"
	"github.com/morezero/apprunner/pkg/script"
)

const logPrefix = "dispatcher:dispatch"

// Error codes added at the host boundary.
const (
	CodeScriptNotFound = "SCRIPT_NOT_FOUND"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeTimeout        = "TIMEOUT"
	CodeCanceled       = "CANCELED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Transports recorded on DispatchedEvent.
const (
	TransportHTTP  = "http"
	TransportComms = "comms"
	TransportCLI   = "cli"
)

// BindingInvocation is the binding holding the request's *InvocationContext.
const BindingInvocation = "invocation"

// PanicError is returned when a script panics.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("script panicked: %v", e.Value)
}

// Options configures a Dispatcher.
type Options struct {
	Finders   *apprunner.Finders
	Publisher events.EventPublisher
	Logger    *slog.Logger
	// Bindings are set on every run before the per-call variables.
	Bindings map[string]interface{}
	// Reserved names the host binds per call; remote requests may not set them.
	Reserved []string
	// CaptureLimit of 0 keeps the apprunner default; < 0 disables the limit.
	CaptureLimit int
	Timeout      time.Duration
}

// Dispatcher is safe for concurrent use; every call gets its own AppRunner.
type Dispatcher struct {
	scripts *script.Registry
	opts    Options
}

// NewDispatcher creates a Dispatcher over scripts.
func NewDispatcher(scripts *script.Registry, opts Options) *Dispatcher {
	if opts.Publisher == nil {
		opts.Publisher = &events.NoOpPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{scripts: scripts, opts: opts}
}

// Call describes one script run.
type Call struct {
	RequestID string
	Ref       string
	Args      []string
	Vars      map[string]interface{}
	Transport string
}

// Execute runs the script ref with args and vars for an in-process host.
func (d *Dispatcher) Execute(ctx context.Context, ref string, args []string, vars map[string]interface{}) (response.Response, error) {
	return d.Run(ctx, Call{Ref: ref, Args: args, Vars: vars})
}

// Run executes call and publishes its DispatchedEvent. Panics raised by the
// script are recovered and returned as *PanicError.
func (d *Dispatcher) Run(ctx context.Context, call Call) (response.Response, error) {
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}
	start := time.Now()

	entry, err := d.scripts.Lookup(call.Ref)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - lookup %q: %v", logPrefix, call.Ref, err))
		notFound := &apprunner.DispatchError{
			Code:    CodeScriptNotFound,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("Unknown script: %s", call.Ref),
		}
		d.publish(ctx, call, nil, start, nil, notFound)
		return nil, notFound
	}

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	opts := []apprunner.Option{
		apprunner.WithName(entry.Ref()),
		apprunner.WithLogger(d.opts.Logger),
		apprunner.WithArguments(call.Args...),
		apprunner.WithFinders(d.opts.Finders),
	}
	if d.opts.CaptureLimit != 0 {
		opts = append(opts, apprunner.WithCaptureLimit(d.opts.CaptureLimit))
	}
	runner := apprunner.New(entry.Script, opts...)
	runner.SetVariables(d.opts.Bindings).SetVariables(call.Vars)

	slog.Debug(fmt.Sprintf("%s - running %s id=%s args=%v", logPrefix, entry.Ref(), call.RequestID, call.Args))
	resp, err := d.execute(ctx, entry.Ref(), runner)
	d.publish(ctx, call, entry, start, resp, err)
	return resp, err
}

func (d *Dispatcher) execute(ctx context.Context, ref string, runner *apprunner.AppRunner) (resp response.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			d.opts.Logger.Error(fmt.Sprintf("%s - %s panicked: %v\n%s", logPrefix, ref, p, debug.Stack()))
			resp, err = nil, &PanicError{Value: p}
		}
	}()
	return runner.Execute(ctx)
}

func (d *Dispatcher) publish(ctx context.Context, call Call, entry *script.Entry, start time.Time, resp response.Response, err error) {
	event := &events.DispatchedEvent{
		ID:         uuid.NewString(),
		RequestID:  call.RequestID,
		Script:     call.Ref,
		Args:       call.Args,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Transport:  call.Transport,
	}
	if entry != nil {
		event.Script = entry.Name
		event.Version = entry.Version
	}

	var panicked *PanicError
	switch {
	case errors.As(err, &panicked):
		event.Outcome = events.OutcomePanic
		event.Status = http.StatusInternalServerError
		event.ErrorCode = CodeInternal
	case err != nil:
		detail, status := ToErrorDetail(err)
		event.Outcome = events.OutcomeError
		event.Status = status
		event.ErrorCode = detail.Code
	default:
		event.Outcome = events.OutcomeResponse
		event.Status = statusOf(resp)
	}

	if perr := d.opts.Publisher.PublishDispatched(context.WithoutCancel(ctx), event); perr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish dispatched event for %s: %v", logPrefix, event.Script, perr))
	}
}

// Dispatch runs the script named by a transport request and always returns a
// response envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) *DispatchResponse {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	slog.Debug(fmt.Sprintf("%s - script=%s id=%s", logPrefix, req.Script, req.ID))

	if req.Script == "" {
		return errorResponse(req.ID, http.StatusBadRequest, &ErrorDetail{
			Code:    CodeInvalidRequest,
			Message: "script is required",
		})
	}

	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Ctx.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	vars := make(map[string]interface{}, len(req.Vars)+1)
	for k, v := range req.Vars {
		if d.reserved(k) {
			slog.Warn(fmt.Sprintf("%s - rejected reserved var %q id=%s", logPrefix, k, req.ID))
			return errorResponse(req.ID, http.StatusBadRequest, &ErrorDetail{
				Code:    CodeInvalidRequest,
				Message: fmt.Sprintf("var %q is reserved", k),
			})
		}
		vars[k] = v
	}
	if req.Ctx != nil {
		vars[BindingInvocation] = req.Ctx
	}

	resp, err := d.Run(ctx, Call{
		RequestID: req.ID,
		Ref:       req.Script,
		Args:      req.Args,
		Vars:      vars,
		Transport: TransportComms,
	})
	if err != nil {
		detail, status := ToErrorDetail(err)
		return errorResponse(req.ID, status, detail)
	}
	if response.IsNil(resp) {
		return errorResponse(req.ID, http.StatusInternalServerError, &ErrorDetail{
			Code:    apprunner.CodeNoResponse,
			Message: "App did not produce any response",
		})
	}
	return &DispatchResponse{
		ID:          req.ID,
		Ok:          true,
		Status:      statusOf(resp),
		ContentType: resp.ContentType(),
		Body:        string(resp.Body()),
	}
}

// reserved reports whether name is bound by the runner or the host and so
// cannot come from a remote request.
func (d *Dispatcher) reserved(name string) bool {
	switch name {
	case apprunner.BindingContext, apprunner.BindingLogger, apprunner.BindingArguments, BindingInvocation:
		return true
	}
	if _, ok := d.opts.Bindings[name]; ok {
		return true
	}
	for _, r := range d.opts.Reserved {
		if r == name {
			return true
		}
	}
	return false
}

// Subscribe answers DispatchRequests received on subject. ctx bounds every
// dispatch made by the subscription.
func (d *Dispatcher) Subscribe(ctx context.Context, nc *comms.Conn, subject string) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var req DispatchRequest
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			resp := errorResponse("", http.StatusBadRequest, &ErrorDetail{
				Code:    CodeInvalidRequest,
				Message: "Failed to decode request",
			})
			if err := commsutil.RespondJSON(msg, resp); err != nil {
				slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
			}
			return
		}

		resp := d.Dispatch(ctx, &req)
		if err := commsutil.RespondJSON(msg, resp); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to respond to %s: %v", logPrefix, req.ID, err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	return sub, nil
}

// ToErrorDetail maps a dispatch failure to its envelope detail and HTTP status.
func ToErrorDetail(err error) (*ErrorDetail, int) {
	var de *apprunner.DispatchError
	var panicked *PanicError
	switch {
	case errors.As(err, &de):
		return &ErrorDetail{Code: de.Code, Message: de.Message, Details: de.Details}, de.StatusCode()
	case errors.As(err, &panicked):
		return &ErrorDetail{Code: CodeInternal, Message: "Internal error"}, http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrorDetail{Code: CodeTimeout, Message: "Script timed out", Retryable: true}, http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return &ErrorDetail{Code: CodeCanceled, Message: "Request canceled", Retryable: true}, http.StatusServiceUnavailable
	default:
		return &ErrorDetail{Code: CodeInternal, Message: err.Error(), Retryable: true}, http.StatusInternalServerError
	}
}

func errorResponse(id string, status int, detail *ErrorDetail) *DispatchResponse {
	return &DispatchResponse{ID: id, Ok: false, Status: status, Error: detail}
}

func statusOf(resp response.Response) int {
	if response.IsNil(resp) || resp.StatusCode() == 0 {
		return http.StatusOK
	}
	return resp.StatusCode()
}
