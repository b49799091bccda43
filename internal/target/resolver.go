package target

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spader/whisperbuild/internal/logging"
)

// BackendEnv overrides backend detection when set.
const BackendEnv = "NODE_WHISPER_CPP_BACKEND"

// Resolver detects the Target of the host. Every field is injectable so tests
// never touch real system tools.
type Resolver struct {
	GOOS   string
	GOARCH string
	Prober Prober
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

// NewResolver returns a Resolver for the running process.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		Prober:    ExecProber{},
		LookupEnv: os.LookupEnv,
		Logger:    logger,
	}
}

func (r *Resolver) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}

func (r *Resolver) prober() Prober {
	if r.Prober != nil {
		return r.Prober
	}
	return ExecProber{}
}

func (r *Resolver) lookupEnv(key string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

// Detect determines the full target from the host.
func (r *Resolver) Detect(ctx context.Context) (Target, error) {
	osName := NormalizeOS(r.GOOS)
	archName := NormalizeArch(r.GOARCH)
	if osName == "" || archName == "" {
		return Target{}, &UnsupportedPlatformError{OS: r.GOOS, Arch: r.GOARCH}
	}

	backend, err := r.detectBackend(ctx, osName)
	if err != nil {
		return Target{}, err
	}

	t := Target{
		OS:      osName,
		Arch:    archName,
		Backend: backend,
		Libc:    r.detectLibc(ctx, osName),
	}
	r.logger().Debug("detected target", "platform", PlatformID(t))
	return t, nil
}

// Resolve detects the target and replaces only its backend when override is set.
func (r *Resolver) Resolve(ctx context.Context, override Backend) (Target, error) {
	detected, err := r.Detect(ctx)
	if err != nil {
		return Target{}, err
	}
	if override == "" {
		return detected, nil
	}
	if err := checkBackend(string(override), detected.OS); err != nil {
		return Target{}, err
	}
	detected.Backend = override
	return detected, nil
}

func (r *Resolver) detectBackend(ctx context.Context, osName OS) (Backend, error) {
	if value, ok := r.lookupEnv(BackendEnv); ok && strings.TrimSpace(value) != "" {
		if err := checkBackend(value, osName); err != nil {
			return "", err
		}
		return Backend(strings.ToLower(strings.TrimSpace(value))), nil
	}

	if osName == Darwin {
		return Metal, nil
	}

	// CUDA wins over Vulkan on hosts that expose both.
	prober := r.prober()
	if res := prober.Probe(ctx, "nvidia-smi"); res.Found() {
		return CUDA, nil
	}
	if res := prober.Probe(ctx, "vulkaninfo"); res.Found() {
		return Vulkan, nil
	}
	return CPU, nil
}

func (r *Resolver) detectLibc(ctx context.Context, osName OS) Libc {
	if osName == Darwin {
		return Apple
	}
	// musl's ldd exits non-zero for --version but still names itself.
	res := r.prober().Probe(ctx, "ldd", "--version")
	if strings.Contains(res.Output, "musl") {
		return Musl
	}
	return GNU
}

func checkBackend(value string, osName OS) error {
	b, err := ParseBackend(value)
	if err != nil {
		return err
	}
	if !b.SupportedOn(osName) {
		return &InvalidBackendError{Value: value, OS: osName, Allowed: backendStringsFor(osName)}
	}
	return nil
}
