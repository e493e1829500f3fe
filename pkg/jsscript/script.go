// Package jsscript runs JavaScript application scripts with goja. A script is
// the body of a function: it ends the request by returning or throwing a value
// built with response(...) or json(...).
//
// Globals available to a script:
//
//	response(body, [contentType], [status])  text response, text/html by default
//	json(value, [status])                    JSON response
//	echo(...), print(...), console.log(...)  write to the captured output
//	args                                     the path arguments, as an array
//
// Every context binding is also a global under its own name; Go fields and
// methods are exposed with a lower-cased first letter.
package jsscript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/response"
)

const logPrefix = "jsscript:script"

// Script is a compiled JavaScript script. It can be run any number of times,
// each run gets a fresh runtime.
type Script struct {
	name    string
	program *goja.Program
}

// Compile compiles source under name.
func Compile(name, source string) (*Script, error) {
	wrapped := "(function(){\n" + source + "\n})()"
	program, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("%s - compile %s: %w", logPrefix, name, err)
	}
	return &Script{name: name, program: program}, nil
}

// Load reads and compiles the script file at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - read %s: %w", logPrefix, path, err)
	}
	return Compile(filepath.Base(path), string(data))
}

// Name returns the name the script was compiled under.
func (s *Script) Name() string {
	return s.name
}

// Run executes the script. A returned or thrown response ends the request;
// any other thrown value is an error. Cancelling ctx interrupts the script.
func (s *Script) Run(ctx context.Context, scope *apprunner.Scope) (apprunner.Outcome, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if err := s.install(vm, scope); err != nil {
		return apprunner.Outcome{}, err
	}

	result, err := vm.RunProgram(s.program)
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			if r, ok := exc.Value().Export().(response.Response); ok {
				return apprunner.Outcome{}, response.Raise(r)
			}
		}
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return apprunner.Outcome{}, fmt.Errorf("%s - %s interrupted: %w", logPrefix, s.name, ctx.Err())
		}
		return apprunner.Outcome{}, fmt.Errorf("%s - %s: %w", logPrefix, s.name, err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if r, ok := result.Export().(response.Response); ok {
			return apprunner.Respond(r), nil
		}
	}
	return apprunner.Outcome{}, nil
}

func (s *Script) install(vm *goja.Runtime, scope *apprunner.Scope) error {
	if scope.Context != nil {
		for _, b := range scope.Context.Bindings() {
			if err := vm.Set(b.Name, b.Value); err != nil {
				return fmt.Errorf("%s - binding %s: %w", logPrefix, b.Name, err)
			}
		}
	}

	args := []interface{}{}
	if scope.Arguments != nil {
		for _, a := range scope.Arguments.All() {
			args = append(args, a)
		}
	}
	out := scope.Output

	write := func(sep, end string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if out == nil {
				return goja.Undefined()
			}
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			fmt.Fprint(out, strings.Join(parts, sep)+end)
			return goja.Undefined()
		}
	}

	console := vm.NewObject()
	if err := console.Set("log", write(" ", "\n")); err != nil {
		return fmt.Errorf("%s - console: %w", logPrefix, err)
	}

	globals := map[string]interface{}{
		"args":     args,
		"console":  console,
		"echo":     write("", ""),
		"print":    write(" ", "\n"),
		"response": newResponse(vm),
		"json":     newJSON(vm),
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("%s - global %s: %w", logPrefix, name, err)
		}
	}
	return nil
}

func newResponse(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		body := call.Argument(0)
		contentType := "text/html"
		if ct := call.Argument(1); !goja.IsUndefined(ct) && !goja.IsNull(ct) {
			contentType = ct.String()
		}
		var text string
		if !goja.IsUndefined(body) && !goja.IsNull(body) {
			text = body.String()
		}
		r := response.NewString(text, contentType)
		if status := call.Argument(2); !goja.IsUndefined(status) {
			r = r.WithStatus(int(status.ToInteger()))
		}
		return vm.ToValue(r)
	}
}

func newJSON(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		r, err := response.NewJSON(call.Argument(0).Export())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if status := call.Argument(1); !goja.IsUndefined(status) {
			r = r.WithStatus(int(status.ToInteger()))
		}
		return vm.ToValue(r)
	}
}
