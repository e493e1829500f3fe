package apprunner

// Binding names the runner provides when the caller has not set them.
const (
	BindingContext   = "context"
	BindingLogger    = "logger"
	BindingArguments = "arguments"
)

// Binding is one named value of an invocation context.
type Binding struct {
	Name  string
	Value interface{}
}

// Context is the read-only set of named values available to a script and its
// handler for one execution. Bindings keep the order they were set in.
type Context struct {
	bindings []Binding
	index    map[string]int
}

func newContext(bindings []Binding) *Context {
	c := &Context{
		bindings: make([]Binding, 0, len(bindings)),
		index:    make(map[string]int, len(bindings)),
	}
	for _, b := range bindings {
		if i, ok := c.index[b.Name]; ok {
			c.bindings[i].Value = b.Value
			continue
		}
		c.index[b.Name] = len(c.bindings)
		c.bindings = append(c.bindings, b)
	}
	return c
}

// Get returns the value bound to name.
func (c *Context) Get(name string) (interface{}, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.bindings[i].Value, true
}

// Names returns the binding names in order.
func (c *Context) Names() []string {
	names := make([]string, len(c.bindings))
	for i, b := range c.bindings {
		names[i] = b.Name
	}
	return names
}

// Bindings returns a copy of the bindings in order.
func (c *Context) Bindings() []Binding {
	return append([]Binding(nil), c.bindings...)
}

// Len returns the number of bindings.
func (c *Context) Len() int {
	return len(c.bindings)
}
