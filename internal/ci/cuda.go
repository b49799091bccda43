package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spader/whisperbuild/internal/logging"
)

const (
	// DefaultCUDAPrefix is where NVIDIA's packages install toolkits.
	DefaultCUDAPrefix = "/usr/local"
	keyringFile       = "/tmp/cuda-keyring.deb"
)

// CUDAVersion is a toolkit release, major.minor.patch.
type CUDAVersion struct {
	Major, Minor, Patch int
}

// ParseCUDAVersion accepts exactly three numeric components.
func ParseCUDAVersion(value string) (CUDAVersion, error) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	if len(parts) != 3 {
		return CUDAVersion{}, fmt.Errorf("invalid cuda version: %s (expected major.minor.patch)", value)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return CUDAVersion{}, fmt.Errorf("invalid cuda version: %s (expected major.minor.patch)", value)
		}
		nums[i] = n
	}
	return CUDAVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v CUDAVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// CUDAPaths are the canonical locations of a toolkit install.
type CUDAPaths struct {
	Package string `json:"pkg"`
	Root    string `json:"cuda"`
	Bin     string `json:"bin"`
	Lib     string `json:"lib"`
}

// PathsFor resolves the apt package and install tree of v under prefix.
func PathsFor(prefix string, v CUDAVersion) CUDAPaths {
	if prefix == "" {
		prefix = DefaultCUDAPrefix
	}
	root := filepath.Join(prefix, fmt.Sprintf("cuda-%d.%d", v.Major, v.Minor))
	return CUDAPaths{
		Package: fmt.Sprintf("cuda-toolkit-%d-%d", v.Major, v.Minor),
		Root:    root,
		Bin:     filepath.Join(root, "bin"),
		Lib:     filepath.Join(root, "lib64"),
	}
}

// CUDA installs toolkits and publishes their paths to the workflow.
type CUDA struct {
	Provisioner *Provisioner
	GitHub      *GitHub
	// Repository is the NVIDIA apt repository base URL.
	Repository string
	Keyring    string
	Prefix     string
	Lookup     LookupFunc
	Stdout     io.Writer
	Logger     *slog.Logger
}

func (c *CUDA) logger() *slog.Logger {
	return logging.Ensure(c.Logger).With("component", "ci.cuda")
}

func (c *CUDA) owner() (string, bool) {
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	user, ok := lookup("USER")
	return user, ok && user != ""
}

func (c *CUDA) paths(version string) (CUDAPaths, error) {
	v, err := ParseCUDAVersion(version)
	if err != nil {
		return CUDAPaths{}, err
	}
	return PathsFor(c.Prefix, v), nil
}

// EmitPaths makes sure the toolkit root exists and is owned by the runner
// user, sets the path/bin/lib/pkg step outputs and prints the paths as JSON.
func (c *CUDA) EmitPaths(ctx context.Context, version string) (CUDAPaths, error) {
	paths, err := c.paths(version)
	if err != nil {
		return CUDAPaths{}, err
	}
	if err := os.MkdirAll(paths.Root, 0o755); err != nil {
		if err := c.Provisioner.sudo(ctx, "mkdir", "-p", paths.Root); err != nil {
			return CUDAPaths{}, err
		}
	}
	if err := c.chown(ctx, paths); err != nil {
		return CUDAPaths{}, err
	}

	outputs := []struct{ key, value string }{
		{"path", paths.Root},
		{"bin", paths.Bin},
		{"lib", paths.Lib},
		{"pkg", paths.Package},
	}
	for _, o := range outputs {
		if err := c.GitHub.Output(o.key, o.value); err != nil {
			return CUDAPaths{}, err
		}
	}

	if c.Stdout != nil {
		if err := json.NewEncoder(c.Stdout).Encode(paths); err != nil {
			return CUDAPaths{}, err
		}
	}
	return paths, nil
}

// NormalizeCachePermissions hands a restored toolkit cache back to the
// runner user.
func (c *CUDA) NormalizeCachePermissions(ctx context.Context, version string) error {
	paths, err := c.paths(version)
	if err != nil {
		return err
	}
	return c.chown(ctx, paths)
}

func (c *CUDA) chown(ctx context.Context, paths CUDAPaths) error {
	user, ok := c.owner()
	if !ok {
		return nil
	}
	return c.Provisioner.sudo(ctx, "chown", "-R", user+":"+user, paths.Root)
}

// Install installs the toolkit through NVIDIA's apt repository unless nvcc
// is already present, then exports CUDA_PATH, LD_LIBRARY_PATH and PATH when
// the workflow env and path files are available.
func (c *CUDA) Install(ctx context.Context, version string) (CUDAPaths, error) {
	paths, err := c.paths(version)
	if err != nil {
		return CUDAPaths{}, err
	}
	logger := c.logger().With("package", paths.Package)

	if _, err := os.Stat(filepath.Join(paths.Bin, "nvcc")); err == nil {
		logger.Info("using cached toolkit", "path", paths.Root)
	} else {
		logger.Info("installing toolkit", "repository", c.Repository)
		deb := fmt.Sprintf("%s/cuda-keyring_%s_all.deb", strings.TrimSuffix(c.Repository, "/"), c.Keyring)
		if err := c.Provisioner.Download(ctx, deb, keyringFile); err != nil {
			return CUDAPaths{}, err
		}
		if err := c.Provisioner.DpkgInstall(ctx, keyringFile); err != nil {
			return CUDAPaths{}, err
		}
		if err := c.Provisioner.AptUpdate(ctx); err != nil {
			return CUDAPaths{}, err
		}
		// Toolkit only. Runners have no GPU, so no driver.
		if err := c.Provisioner.AptInstall(ctx, paths.Package); err != nil {
			return CUDAPaths{}, err
		}
	}

	if c.GitHub.Enabled() {
		if err := c.GitHub.Export("CUDA_PATH", paths.Root); err != nil {
			return CUDAPaths{}, err
		}
		if err := c.GitHub.Append("LD_LIBRARY_PATH", paths.Lib, ":"); err != nil {
			return CUDAPaths{}, err
		}
		if err := c.GitHub.Path(paths.Bin); err != nil {
			return CUDAPaths{}, err
		}
	}

	logger.Info("toolkit ready", "path", paths.Root)
	return paths, nil
}
