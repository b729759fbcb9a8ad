// Package permissions checks that the process may open the microphone.
package permissions

import "errors"

// ErrMicrophoneDenied is returned when capture has not been authorised.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status mirrors the platform's microphone authorisation states.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not-determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// canPrompt reports whether asking the user could still change the outcome.
func (s Status) canPrompt() bool {
	return s == NotDetermined
}
