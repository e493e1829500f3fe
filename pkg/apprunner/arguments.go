package apprunner

import "strings"

// RemainderReceiver is implemented by container types that can take the
// remaining path arguments of a request. A handler parameter of such a type
// (or of type []string) receives every unconsumed argument and must be last.
type RemainderReceiver interface {
	ReceiveArguments(values []string)
}

// Arguments is an ordered list of URL path segments left over after the
// script was resolved.
type Arguments struct {
	values []string
}

// NewArguments creates an Arguments holding a copy of values.
func NewArguments(values ...string) *Arguments {
	a := &Arguments{}
	a.ReceiveArguments(values)
	return a
}

// ReceiveArguments replaces the contents with a copy of values.
func (a *Arguments) ReceiveArguments(values []string) {
	a.values = append([]string(nil), values...)
}

// Len returns the number of arguments.
func (a *Arguments) Len() int {
	return len(a.values)
}

// All returns a copy of the arguments.
func (a *Arguments) All() []string {
	return append([]string(nil), a.values...)
}

// Get returns the argument at index i.
func (a *Arguments) Get(i int) (string, bool) {
	if i < 0 || i >= len(a.values) {
		return "", false
	}
	return a.values[i], true
}

// Shift removes and returns the first argument.
func (a *Arguments) Shift() (string, bool) {
	if len(a.values) == 0 {
		return "", false
	}
	v := a.values[0]
	a.values = a.values[1:]
	return v, true
}

// Drop removes the first n arguments.
func (a *Arguments) Drop(n int) {
	if n >= len(a.values) {
		a.values = nil
		return
	}
	if n > 0 {
		a.values = a.values[n:]
	}
}

func (a *Arguments) String() string {
	return strings.Join(a.values, ",")
}
