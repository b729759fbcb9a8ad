package permissions

import "testing"

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		NotDetermined: "not-determined",
		Restricted:    "restricted",
		Denied:        "denied",
		Authorized:    "authorized",
		Status(42):    "unknown",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(status), got, want)
		}
	}
}

func TestOnlyUndecidedStatusPrompts(t *testing.T) {
	if !NotDetermined.canPrompt() {
		t.Error("undecided status should prompt")
	}
	for _, s := range []Status{Restricted, Denied, Authorized} {
		if s.canPrompt() {
			t.Errorf("%s should not prompt", s)
		}
	}
}
