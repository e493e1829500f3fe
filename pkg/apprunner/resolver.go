package apprunner

import (
	"context"
	"errors"
	"reflect"
	"strconv"
)

// Resolution is the argument list computed for a method call.
type Resolution struct {
	// Values holds one value per declared parameter.
	Values []reflect.Value
	// Consumed is the number of path arguments used, counted from the front.
	Consumed int
}

// Resolve binds context values and path arguments to params. Each parameter
// is tried, in order, by binding name, as a remainder container, by run-time
// type of a context value, through a registered Finder, and finally as a
// scalar taken from the next path argument. A context value is bound at most
// once.
func Resolve(ctx context.Context, params []ParamDescriptor, vars *Context, pathArgs []string, finders *Finders) (Resolution, error) {
	r := &resolver{
		ctx:     ctx,
		vars:    vars,
		args:    pathArgs,
		finders: finders,
		used:    make(map[string]bool),
	}
	values := make([]reflect.Value, len(params))
	for i, p := range params {
		v, err := r.bind(p, i == len(params)-1)
		if err != nil {
			return Resolution{}, err
		}
		values[i] = v
	}
	return Resolution{Values: values, Consumed: r.next}, nil
}

type resolver struct {
	ctx     context.Context
	vars    *Context
	args    []string
	next    int
	finders *Finders
	used    map[string]bool
}

func (r *resolver) bind(p ParamDescriptor, last bool) (reflect.Value, error) {
	if v, ok := r.byName(p); ok {
		return v, nil
	}

	switch p.Kind {
	case KindRemainder:
		if !last {
			return reflect.Value{}, errDictionaryNotLast()
		}
		return r.remainder(p.Type), nil
	case KindObject:
		if v, ok := r.byType(p.Type); ok {
			return v, nil
		}
		if finder, ok := r.finders.Lookup(p.Type); ok {
			return r.lookup(p, finder)
		}
		return reflect.Value{}, errInvalidParameterType(p.Type.String())
	case KindUntyped, KindString, KindInt, KindBool:
		return r.scalar(p)
	default:
		return reflect.Value{}, errInvalidParameterType(p.Type.String())
	}
}

func (r *resolver) byName(p ParamDescriptor) (reflect.Value, bool) {
	if p.Name == "" || r.vars == nil || r.used[p.Name] {
		return reflect.Value{}, false
	}
	value, ok := r.vars.Get(p.Name)
	if !ok {
		return reflect.Value{}, false
	}
	if value == nil {
		r.used[p.Name] = true
		return reflect.Zero(p.Type), true
	}
	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(p.Type) {
		return reflect.Value{}, false
	}
	r.used[p.Name] = true
	return v, true
}

func (r *resolver) byType(t reflect.Type) (reflect.Value, bool) {
	if r.vars == nil {
		return reflect.Value{}, false
	}
	for _, b := range r.vars.bindings {
		if r.used[b.Name] || b.Value == nil {
			continue
		}
		v := reflect.ValueOf(b.Value)
		if v.Type().AssignableTo(t) {
			r.used[b.Name] = true
			return v, true
		}
	}
	return reflect.Value{}, false
}

func (r *resolver) remainder(t reflect.Type) reflect.Value {
	rest := append([]string{}, r.args[r.next:]...)
	r.next = len(r.args)
	if t.Kind() == reflect.Slice {
		return reflect.ValueOf(rest).Convert(t)
	}
	container := reflect.New(t.Elem())
	container.Interface().(RemainderReceiver).ReceiveArguments(rest)
	return container
}

func (r *resolver) lookup(p ParamDescriptor, finder Finder) (reflect.Value, error) {
	id, ok := r.take()
	if !ok {
		return reflect.Value{}, errMissingIdentifier(p.Position)
	}
	entity, err := finder.FindByID(r.ctx, id)
	if errors.Is(err, ErrNotFound) {
		return reflect.Value{}, errMissingIdentifier(p.Position)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.ValueOf(entity)
	if !v.IsValid() || isNilValue(v) {
		return reflect.Value{}, errMissingIdentifier(p.Position)
	}
	if !v.Type().AssignableTo(p.Type) {
		return reflect.Value{}, errInvalidParameterType(p.Type.String())
	}
	return v, nil
}

func (r *resolver) scalar(p ParamDescriptor) (reflect.Value, error) {
	raw, ok := r.take()
	if !ok {
		if p.Kind == KindUntyped {
			return reflect.Value{}, errExpectingArgument(p.Position + 1)
		}
		return reflect.Value{}, errMissingArgument(p.Kind.String(), p.Position)
	}

	v := reflect.New(p.Type).Elem()
	switch p.Kind {
	case KindUntyped:
		v.Set(reflect.ValueOf(raw))
	case KindString:
		v.SetString(raw)
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, errMissingArgument(p.Kind.String(), p.Position)
		}
		v.SetBool(b)
	case KindInt:
		if v.CanUint() {
			n, err := strconv.ParseUint(raw, 10, p.Type.Bits())
			if err != nil {
				return reflect.Value{}, errMissingArgument(p.Kind.String(), p.Position)
			}
			v.SetUint(n)
			break
		}
		n, err := strconv.ParseInt(raw, 10, p.Type.Bits())
		if err != nil {
			return reflect.Value{}, errMissingArgument(p.Kind.String(), p.Position)
		}
		v.SetInt(n)
	}
	return v, nil
}

func (r *resolver) take() (string, bool) {
	if r.next >= len(r.args) {
		return "", false
	}
	s := r.args[r.next]
	r.next++
	return s, true
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
