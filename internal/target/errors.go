package target

import (
	"fmt"
	"strings"
)

// UnsupportedPlatformError reports a host outside {darwin,linux} x {arm64,x64}.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %s-%s (supported: darwin-arm64, darwin-x64, linux-arm64, linux-x64)", e.OS, e.Arch)
}

// InvalidBackendError reports an unknown backend name, or one that is not
// permitted on the resolved OS.
type InvalidBackendError struct {
	Value   string
	OS      OS
	Allowed []string
}

func (e *InvalidBackendError) Error() string {
	if e.OS != "" {
		return fmt.Sprintf("invalid backend %q for %s (expected one of %s)", e.Value, e.OS, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("invalid backend %q (expected one of %s)", e.Value, strings.Join(e.Allowed, ", "))
}
