package commsutil

import "testing"

func TestBuildDispatchedSubject(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		script string
		want   string
	}{
		{"basic", "", "blog", "apprunner.dispatched.blog"},
		{"dotted name", "", "admin.users", "apprunner.dispatched.admin_users"},
		{"custom base", "site.events", "blog", "site.events.blog"},
		{"wildcards", "", "a*b>", "apprunner.dispatched.a_b_"},
		{"empty", "", "", "apprunner.dispatched._"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDispatchedSubject(tt.base, tt.script)
			if got != tt.want {
				t.Errorf("BuildDispatchedSubject(%q, %q) = %q, want %q", tt.base, tt.script, got, tt.want)
			}
		})
	}
}
