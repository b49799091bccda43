// Package target resolves the canonical build target (OS, architecture,
// accelerator backend and C runtime) for the machine running the build.
package target

import (
	"fmt"
	"sort"
	"strings"
)

// OS is a supported operating system.
type OS string

const (
	Darwin OS = "darwin"
	Linux  OS = "linux"
)

// Arch is a supported CPU architecture, using Node's naming.
type Arch string

const (
	ARM64 Arch = "arm64"
	X64   Arch = "x64"
)

// Backend is the compute accelerator the native library is built for.
type Backend string

const (
	Metal  Backend = "metal"
	CPU    Backend = "cpu"
	CUDA   Backend = "cuda"
	Vulkan Backend = "vulkan"
)

// Libc is the C runtime variant the binaries link against.
type Libc string

const (
	GNU   Libc = "gnu"
	Musl  Libc = "musl"
	Apple Libc = "apple"
)

// PackageBaseName prefixes every platform package name.
const PackageBaseName = "node-whisper-cpp"

// Target is the tuple a build is produced for. It is a value type; pass it by value.
type Target struct {
	OS      OS
	Arch    Arch
	Backend Backend
	Libc    Libc
}

// Backends returns every backend name in declaration order.
func Backends() []Backend {
	return []Backend{Metal, CPU, CUDA, Vulkan}
}

// IsValid reports whether b is a known backend.
func (b Backend) IsValid() bool {
	switch b {
	case Metal, CPU, CUDA, Vulkan:
		return true
	default:
		return false
	}
}

// SupportedOn reports whether b may be used on os.
func (b Backend) SupportedOn(os OS) bool {
	switch os {
	case Darwin:
		return b == Metal
	case Linux:
		return b == CPU || b == CUDA || b == Vulkan
	default:
		return false
	}
}

func (b Backend) String() string { return string(b) }

// ParseBackend returns the Backend for value or an *InvalidBackendError.
func ParseBackend(value string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(value)))
	if !b.IsValid() {
		return "", &InvalidBackendError{Value: value, Allowed: backendStrings()}
	}
	return b, nil
}

// NormalizeOS maps a GOOS value onto an OS, or "" when unsupported.
func NormalizeOS(goos string) OS {
	switch strings.ToLower(strings.TrimSpace(goos)) {
	case "darwin", "mac", "macos":
		return Darwin
	case "linux":
		return Linux
	default:
		return ""
	}
}

// NormalizeArch maps a GOARCH value onto an Arch, or "" when unsupported.
func NormalizeArch(goarch string) Arch {
	switch strings.ToLower(strings.TrimSpace(goarch)) {
	case "arm64", "aarch64":
		return ARM64
	case "amd64", "x64", "x86_64", "x86-64":
		return X64
	default:
		return ""
	}
}

// Validate checks the os/libc/backend pairing rules.
func (t Target) Validate() error {
	if t.OS != Darwin && t.OS != Linux {
		return &UnsupportedPlatformError{OS: string(t.OS), Arch: string(t.Arch)}
	}
	if t.Arch != ARM64 && t.Arch != X64 {
		return &UnsupportedPlatformError{OS: string(t.OS), Arch: string(t.Arch)}
	}
	if !t.Backend.SupportedOn(t.OS) {
		return &InvalidBackendError{Value: string(t.Backend), OS: t.OS, Allowed: backendStringsFor(t.OS)}
	}
	switch t.OS {
	case Darwin:
		if t.Libc != Apple {
			return fmt.Errorf("libc %q is not valid on %s", t.Libc, t.OS)
		}
	case Linux:
		if t.Libc != GNU && t.Libc != Musl {
			return fmt.Errorf("libc %q is not valid on %s", t.Libc, t.OS)
		}
	}
	return nil
}

// PlatformID joins arch-os-backend and, on linux, the libc.
func PlatformID(t Target) string {
	parts := []string{string(t.Arch), string(t.OS), string(t.Backend)}
	if t.OS == Linux {
		parts = append(parts, string(t.Libc))
	}
	return strings.Join(parts, "-")
}

// PackageName is the npm package name (without scope) of the platform package.
func PackageName(t Target) string {
	return PackageBaseName + "-" + PlatformID(t)
}

// String returns the PlatformID.
func (t Target) String() string {
	return PlatformID(t)
}

func backendStrings() []string {
	out := make([]string, 0, 4)
	for _, b := range Backends() {
		out = append(out, b.String())
	}
	return out
}

func backendStringsFor(os OS) []string {
	var out []string
	for _, b := range Backends() {
		if b.SupportedOn(os) {
			out = append(out, b.String())
		}
	}
	sort.Strings(out)
	return out
}
