package apprunner

import (
	"context"
	"io"
	"log/slog"
	"reflect"

	"github.com/morezero/apprunner/pkg/response"
)

// Scope is what a script sees while it runs.
type Scope struct {
	// Context holds the named bindings; it is read-only during execution.
	Context *Context
	// Arguments is the working copy of the path arguments.
	Arguments *Arguments
	// Output replaces the process output stream; everything written to it is
	// logged rather than sent to the client.
	Output io.Writer
	Logger *slog.Logger
}

// Outcome is the result of running a script: either a final Response or a
// Handler whose method is dispatched next.
type Outcome struct {
	Response response.Response
	Handler  interface{}
}

// Respond returns an Outcome ending the request with r.
func Respond(r response.Response) Outcome {
	return Outcome{Response: r}
}

// Handle returns an Outcome dispatching to a method of h.
func Handle(h interface{}) Outcome {
	return Outcome{Handler: h}
}

// Script is a loadable unit of application code.
type Script interface {
	Run(ctx context.Context, scope *Scope) (Outcome, error)
}

// ScriptFunc adapts a function to Script.
type ScriptFunc func(ctx context.Context, scope *Scope) (Outcome, error)

// Run calls f.
func (f ScriptFunc) Run(ctx context.Context, scope *Scope) (Outcome, error) {
	return f(ctx, scope)
}

// HandlerScript returns a Script that always yields a new handler from factory.
func HandlerScript(factory func() interface{}) Script {
	return ScriptFunc(func(context.Context, *Scope) (Outcome, error) {
		return Handle(factory()), nil
	})
}

// load runs s and normalizes its result. A raised response becomes the
// Response of the Outcome; a handler that is itself a response is treated as
// one. Other errors are returned untouched.
func load(ctx context.Context, s Script, scope *Scope) (Outcome, error) {
	out, err := s.Run(ctx, scope)
	if err != nil {
		if r, ok := response.FromError(err); ok {
			return Respond(r), nil
		}
		if response.IsRaised(err) {
			return Outcome{}, errNoResponse()
		}
		return Outcome{}, err
	}
	if !response.IsNil(out.Response) {
		return Outcome{Response: out.Response}, nil
	}
	if r, ok := out.Handler.(response.Response); ok {
		if response.IsNil(r) {
			return Outcome{}, errNoResponse()
		}
		return Respond(r), nil
	}
	if out.Handler == nil || isNilValue(reflect.ValueOf(out.Handler)) {
		return Outcome{}, errNoResponse()
	}
	return out, nil
}
