package apprunner

import (
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// ParamKind classifies a declared method parameter for binding.
type ParamKind int

const (
	// KindUntyped is an interface{} parameter; it takes the raw path argument.
	KindUntyped ParamKind = iota
	KindString
	KindInt
	KindBool
	// KindRemainder takes every remaining path argument.
	KindRemainder
	// KindObject is a pointer, struct or interface parameter, filled from the
	// context by type or looked up through a Finder.
	KindObject
	// KindInvalid cannot be bound except by name.
	KindInvalid
)

func (k ParamKind) String() string {
	switch k {
	case KindUntyped:
		return "untyped"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	case KindRemainder:
		return "remainder"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// ParamDescriptor describes one declared parameter of a handler method.
type ParamDescriptor struct {
	Name     string
	Type     reflect.Type
	Kind     ParamKind
	Position int
	Variadic bool
}

// MethodDescriptor describes a routable handler method.
type MethodDescriptor struct {
	Name     string
	Params   []ParamDescriptor
	Variadic bool
}

// ParameterNamer lets a handler name the parameters of its methods, keyed by
// method name. Names allow context values to be bound by name.
type ParameterNamer interface {
	ParameterNames() map[string][]string
}

// LoggerAware handlers receive the logger binding through SetLogger instead of
// field injection.
type LoggerAware interface {
	SetLogger(logger *slog.Logger)
}

// DefaultMethod is called when the first path argument names no method.
const DefaultMethod = "Index"

var (
	typeOfAny         = reflect.TypeOf((*interface{})(nil)).Elem()
	typeOfRemainder   = reflect.TypeOf((*RemainderReceiver)(nil)).Elem()
	typeOfStrings     = reflect.TypeOf([]string(nil))
	typeOfNamer       = reflect.TypeOf((*ParameterNamer)(nil)).Elem()
	typeOfLoggerAware = reflect.TypeOf((*LoggerAware)(nil)).Elem()

	identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

	// Capability methods are never routable.
	reservedMethods = map[string]bool{
		"SetLogger":      true,
		"ParameterNames": true,
	}

	handlerTypes sync.Map // reflect.Type -> *handlerType
)

// handlerType is everything dispatch needs to know about a handler type. It is
// computed once per type.
type handlerType struct {
	methods     map[string]*MethodDescriptor
	fields      map[string][]int // lower-cased binding name -> field index
	loggerAware bool
}

func describeHandler(handler interface{}) *handlerType {
	t := reflect.TypeOf(handler)
	if ht, ok := handlerTypes.Load(t); ok {
		return ht.(*handlerType)
	}

	var names map[string][]string
	if t.Implements(typeOfNamer) {
		names = handler.(ParameterNamer).ParameterNames()
	}

	ht := &handlerType{
		methods:     make(map[string]*MethodDescriptor),
		fields:      make(map[string][]int),
		loggerAware: t.Implements(typeOfLoggerAware),
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if reservedMethods[m.Name] {
			continue
		}
		ht.methods[m.Name] = describeMethod(m, names[m.Name])
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		collectFields(t.Elem(), ht.fields)
	}

	actual, _ := handlerTypes.LoadOrStore(t, ht)
	return actual.(*handlerType)
}

// describeMethod builds descriptors for m; the receiver is not a parameter.
func describeMethod(m reflect.Method, names []string) *MethodDescriptor {
	mt := m.Type
	md := &MethodDescriptor{Name: m.Name, Variadic: mt.IsVariadic()}
	for i := 1; i < mt.NumIn(); i++ {
		pos := i - 1
		p := ParamDescriptor{
			Type:     mt.In(i),
			Position: pos,
			Variadic: md.Variadic && i == mt.NumIn()-1,
		}
		if pos < len(names) {
			p.Name = names[pos]
		}
		p.Kind = classify(p.Type)
		md.Params = append(md.Params, p)
	}
	return md
}

func classify(t reflect.Type) ParamKind {
	if t == typeOfAny {
		return KindUntyped
	}
	if t.Kind() == reflect.Slice && typeOfStrings.ConvertibleTo(t) {
		return KindRemainder
	}
	if t.Kind() == reflect.Pointer && t.Implements(typeOfRemainder) {
		return KindRemainder
	}
	switch t.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt
	case reflect.Bool:
		return KindBool
	case reflect.Pointer, reflect.Struct, reflect.Interface:
		return KindObject
	default:
		return KindInvalid
	}
}

func collectFields(t reflect.Type, fields map[string][]int) {
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Tag.Get("apprunner")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, taken := fields[key]; !taken {
			fields[key] = f.Index
		}
	}
}

// controllerName strips an optional suffix from a path argument and turns it
// into an exported method name. ok is false when the argument is not
// identifier-like.
func controllerName(arg string) (stripped, method string, ok bool) {
	stripped, _, _ = strings.Cut(arg, ".")
	if !identifierRegex.MatchString(stripped) {
		return stripped, "", false
	}
	var b strings.Builder
	upper := true
	for _, r := range stripped {
		if r == '-' || r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return stripped, "", false
	}
	return stripped, b.String(), true
}

// selectMethod picks the method named by the first path argument, falling
// back to DefaultMethod. consume reports whether the argument names the
// method and must be removed from the path arguments.
func (ht *handlerType) selectMethod(args []string) (md *MethodDescriptor, consume bool, err error) {
	requested := strings.ToLower(DefaultMethod)
	if len(args) > 0 {
		stripped, name, ok := controllerName(args[0])
		requested = stripped
		if ok {
			if md, found := ht.methods[name]; found {
				return md, true, nil
			}
		}
	}
	if md, found := ht.methods[DefaultMethod]; found {
		return md, false, nil
	}
	return nil, false, errUnknownController(requested)
}
