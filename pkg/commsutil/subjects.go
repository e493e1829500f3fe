package commsutil

import (
	"strings"
)

// Default COMMS subjects.
const (
	SubjectDispatch   = "apprunner.dispatch.v1"
	SubjectDispatched = "apprunner.dispatched"
)

// BuildDispatchedSubject builds the per-script dispatched event subject under
// base. Dots in the script name become underscores so the name stays one token.
func BuildDispatchedSubject(base, script string) string {
	if base == "" {
		base = SubjectDispatched
	}
	return base + "." + subjectToken(script)
}

func subjectToken(s string) string {
	s = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
