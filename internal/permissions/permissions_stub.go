//go:build !darwin

package permissions

import "github.com/rs/zerolog"

// CheckMicrophone always reports access on platforms without a permission model.
func CheckMicrophone() Status {
	return Authorized
}

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions(log zerolog.Logger) error {
	log.Debug().Str("status", CheckMicrophone().String()).Msg("Microphone permission")
	return nil
}
