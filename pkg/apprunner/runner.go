// Package apprunner runs one application script for one request: it loads the
// script, picks the handler method named by the path arguments, binds context
// values and path arguments to the method's parameters and returns the
// response the handler produces.
package apprunner

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/morezero/apprunner/pkg/response"
)

const logPrefix = "apprunner:runner"

// AppRunner executes a Script exactly once. Variables and arguments are set up
// before Execute and are frozen once it starts.
type AppRunner struct {
	name         string
	script       Script
	logger       *slog.Logger
	finders      *Finders
	captureLimit int

	bindings  []Binding
	arguments []string
	executed  atomic.Bool
}

// Option configures an AppRunner.
type Option func(*AppRunner)

// WithName sets the name used in log messages.
func WithName(name string) Option {
	return func(r *AppRunner) { r.name = name }
}

// WithLogger sets the logger, which is also the "logger" binding unless one is set.
func WithLogger(logger *slog.Logger) Option {
	return func(r *AppRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithArguments sets the path arguments.
func WithArguments(args ...string) Option {
	return func(r *AppRunner) { r.arguments = append([]string(nil), args...) }
}

// WithFinders sets the entity finders used for identifier parameters.
func WithFinders(f *Finders) Option {
	return func(r *AppRunner) { r.finders = f }
}

// WithCaptureLimit sets the output capture limit in bytes; <= 0 means unlimited.
func WithCaptureLimit(limit int) Option {
	return func(r *AppRunner) { r.captureLimit = limit }
}

// New creates an AppRunner for script.
func New(script Script, opts ...Option) *AppRunner {
	r := &AppRunner{
		name:         "app",
		script:       script,
		logger:       slog.Default(),
		captureLimit: DefaultCaptureLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetVariable binds value to name.
func (r *AppRunner) SetVariable(name string, value interface{}) *AppRunner {
	if r.frozen("SetVariable") {
		return r
	}
	for i := range r.bindings {
		if r.bindings[i].Name == name {
			r.bindings[i].Value = value
			return r
		}
	}
	r.bindings = append(r.bindings, Binding{Name: name, Value: value})
	return r
}

// SetVariables binds every entry of vars, in key order.
func (r *AppRunner) SetVariables(vars map[string]interface{}) *AppRunner {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.SetVariable(name, vars[name])
	}
	return r
}

// Variable returns the value bound to name.
func (r *AppRunner) Variable(name string) (interface{}, bool) {
	for _, b := range r.bindings {
		if b.Name == name {
			return b.Value, true
		}
	}
	return nil, false
}

// SetArguments replaces the path arguments.
func (r *AppRunner) SetArguments(args []string) *AppRunner {
	if r.frozen("SetArguments") {
		return r
	}
	r.arguments = append([]string(nil), args...)
	return r
}

// Arguments returns a copy of the path arguments.
func (r *AppRunner) Arguments() []string {
	return append([]string(nil), r.arguments...)
}

func (r *AppRunner) frozen(op string) bool {
	if r.executed.Load() {
		r.logger.Warn(fmt.Sprintf("%s - %s ignored for %s: already executed", logPrefix, op, r.name))
		return true
	}
	return false
}

// Execute runs the script and, when it yields a handler, the selected handler
// method. DispatchErrors describe user-facing failures; any other error comes
// from application code and is returned as-is.
func (r *AppRunner) Execute(ctx context.Context) (response.Response, error) {
	if !r.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	r.logger.Debug(fmt.Sprintf("%s - executing %s args=%v", logPrefix, r.name, r.arguments))

	args := NewArguments(r.arguments...)
	vars := r.freeze(ctx, args)
	capture := NewOutputCapture(r.logger, r.captureLimit)
	defer capture.Flush()

	scope := &Scope{Context: vars, Arguments: args, Output: capture, Logger: r.logger}
	out, err := load(ctx, r.script, scope)
	if err != nil {
		if IsCode(err, CodeNoResponse) {
			capture.Flush()
		}
		return nil, err
	}
	if out.Response != nil {
		return out.Response, nil
	}
	return r.dispatch(ctx, out.Handler, scope, capture)
}

func (r *AppRunner) freeze(ctx context.Context, args *Arguments) *Context {
	bindings := make([]Binding, 0, len(r.bindings)+3)
	bindings = append(bindings, r.bindings...)
	defaults := []Binding{
		{Name: BindingContext, Value: ctx},
		{Name: BindingLogger, Value: r.logger},
	}
	for _, d := range defaults {
		if _, ok := r.Variable(d.Name); !ok {
			bindings = append(bindings, d)
		}
	}
	// The working arguments always win over a caller-provided binding.
	bindings = append(bindings, Binding{Name: BindingArguments, Value: args})
	return newContext(bindings)
}

func (r *AppRunner) dispatch(ctx context.Context, handler interface{}, scope *Scope, capture *OutputCapture) (response.Response, error) {
	ht := describeHandler(handler)

	md, consume, err := ht.selectMethod(scope.Arguments.All())
	if err != nil {
		return nil, err
	}
	if consume {
		scope.Arguments.Shift()
	}
	r.logger.Debug(fmt.Sprintf("%s - %s dispatching to %T.%s", logPrefix, r.name, handler, md.Name))

	r.inject(handler, ht, scope.Context)

	res, err := Resolve(ctx, md.Params, scope.Context, scope.Arguments.All(), r.finders)
	if err != nil {
		return nil, err
	}
	scope.Arguments.Drop(res.Consumed)

	method := reflect.ValueOf(handler).MethodByName(md.Name)
	var results []reflect.Value
	if md.Variadic {
		results = method.CallSlice(res.Values)
	} else {
		results = method.Call(res.Values)
	}

	resp, err := normalize(results)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		capture.Flush()
		return nil, errNoResponse()
	}
	return resp, nil
}

// inject assigns bindings to the matching exported fields of handler. A
// LoggerAware handler gets the logger through SetLogger instead of its field.
func (r *AppRunner) inject(handler interface{}, ht *handlerType, vars *Context) {
	if ht.loggerAware {
		if logger, ok := vars.Get(BindingLogger); ok {
			if l, ok := logger.(*slog.Logger); ok {
				handler.(LoggerAware).SetLogger(l)
			}
		}
	}
	if len(ht.fields) == 0 {
		return
	}

	target := reflect.ValueOf(handler)
	if target.IsNil() {
		return
	}
	target = target.Elem()
	for _, b := range vars.bindings {
		key := strings.ToLower(b.Name)
		if ht.loggerAware && b.Name == BindingLogger {
			continue
		}
		index, ok := ht.fields[key]
		if !ok || b.Value == nil {
			continue
		}
		field, err := target.FieldByIndexErr(index)
		if err != nil || !field.CanSet() {
			continue
		}
		v := reflect.ValueOf(b.Value)
		if !v.Type().AssignableTo(field.Type()) {
			r.logger.Debug(fmt.Sprintf("%s - %s not injected into %s: %s is not assignable to %s", logPrefix, b.Name, target.Type(), v.Type(), field.Type()))
			continue
		}
		field.Set(v)
	}
}

var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// normalize turns method results into a response. A non-nil error wins; a
// raised response carried by it is the success result. A nil pointer behind
// a Response is no response at all.
func normalize(results []reflect.Value) (response.Response, error) {
	for _, v := range results {
		if !v.Type().Implements(typeOfError) || isNilValue(v) {
			continue
		}
		err := v.Interface().(error)
		if r, ok := response.FromError(err); ok {
			return r, nil
		}
		if response.IsRaised(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, v := range results {
		if !v.IsValid() || isNilValue(v) {
			continue
		}
		if r, ok := v.Interface().(response.Response); ok && !response.IsNil(r) {
			return r, nil
		}
	}
	return nil, nil
}
