package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnv names the variable that points at an alternative config file.
const ConfigEnv = "WHISPERBUILD_CONFIG"

// DefaultConfigFile is looked up at the repository root when no path is given.
const DefaultConfigFile = "whisperbuild.yaml"

// Config is the optional repository configuration. Every field has a default.
type Config struct {
	Scope            string       `yaml:"scope"`
	PackageName      string       `yaml:"package_name"`
	PlatformPackages string       `yaml:"platform_packages"`
	Native           NativeConfig `yaml:"native"`
	Tools            Tools        `yaml:"tools"`
	Retry            RetryConfig  `yaml:"retry"`
	CI               CIConfig     `yaml:"ci"`
}

// NativeConfig pins the native library source and its CMake generator.
type NativeConfig struct {
	Repository string `yaml:"repository"`
	Ref        string `yaml:"ref"`
	Generator  string `yaml:"generator"`
	BuildType  string `yaml:"build_type"`
	Parallel   int    `yaml:"parallel,omitempty"`
}

// Tools names the external executables. Relative names are resolved on PATH.
type Tools struct {
	CMake string `yaml:"cmake"`
	Git   string `yaml:"git"`
	Node  string `yaml:"node"`
	NPM   string `yaml:"npm"`
	TSC   string `yaml:"tsc,omitempty"`
}

// RetryConfig bounds retries of transient package-index operations.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// CIConfig drives host provisioning on CI runners.
type CIConfig struct {
	AptPackages    []string `yaml:"apt_packages"`
	CUDARepository string   `yaml:"cuda_repository"`
	CUDAKeyring    string   `yaml:"cuda_keyring"`
}

// DefaultConfig mirrors the repository's release conventions.
var DefaultConfig = Config{
	Scope:            "@spader",
	PackageName:      "node-whisper-cpp",
	PlatformPackages: filepath.Join("packages", "@node-whisper-cpp"),
	Native: NativeConfig{
		Repository: "https://github.com/ggml-org/whisper.cpp.git",
		Ref:        "v1.7.6",
		Generator:  "Ninja",
		BuildType:  "Release",
	},
	Tools: Tools{
		CMake: "cmake",
		Git:   "git",
		Node:  "node",
		NPM:   "npm",
	},
	Retry: RetryConfig{
		Attempts:  3,
		BaseDelay: 1500 * time.Millisecond,
	},
	CI: CIConfig{
		AptPackages: []string{
			"build-essential",
			"cmake",
			"ninja-build",
			"pkg-config",
			"git",
			"curl",
			"ca-certificates",
			"gnupg",
			"python3",
			"unzip",
		},
		CUDARepository: "https://developer.download.nvidia.com/compute/cuda/repos/ubuntu2204/x86_64",
		CUDAKeyring:    "1.1-1",
	},
}

// Defaults returns a deep copy of DefaultConfig.
func Defaults() Config {
	cfg := DefaultConfig
	cfg.CI.AptPackages = append([]string(nil), DefaultConfig.CI.AptPackages...)
	return cfg
}

// ConfigPath picks the config file: explicit, then $WHISPERBUILD_CONFIG,
// then <root>/whisperbuild.yaml. The boolean reports whether the file must exist.
func ConfigPath(root, explicit string, lookup func(string) (string, bool)) (string, bool) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, true
	}
	if lookup != nil {
		if p, ok := lookup(ConfigEnv); ok && strings.TrimSpace(p) != "" {
			return strings.TrimSpace(p), true
		}
	}
	return filepath.Join(root, DefaultConfigFile), false
}

// LoadConfig reads the config file at path over the defaults. A missing
// optional file yields the defaults.
func LoadConfig(path string, required bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			getLogger().Debug("no config file, using defaults", "path", path)
			return Defaults(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	getLogger().Debug("loaded config", "path", path)
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.fillBlanks()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fillBlanks restores defaults for fields explicitly set to empty values.
func (c *Config) fillBlanks() {
	d := DefaultConfig
	setIfEmpty(&c.Scope, d.Scope)
	setIfEmpty(&c.PackageName, d.PackageName)
	setIfEmpty(&c.PlatformPackages, d.PlatformPackages)
	setIfEmpty(&c.Native.Repository, d.Native.Repository)
	setIfEmpty(&c.Native.Ref, d.Native.Ref)
	setIfEmpty(&c.Native.BuildType, d.Native.BuildType)
	setIfEmpty(&c.Tools.CMake, d.Tools.CMake)
	setIfEmpty(&c.Tools.Git, d.Tools.Git)
	setIfEmpty(&c.Tools.Node, d.Tools.Node)
	setIfEmpty(&c.Tools.NPM, d.Tools.NPM)
	setIfEmpty(&c.CI.CUDARepository, d.CI.CUDARepository)
	setIfEmpty(&c.CI.CUDAKeyring, d.CI.CUDAKeyring)
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = d.Retry.Attempts
	}
}

// Validate rejects values no stage can work with.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Scope, "@") {
		return fmt.Errorf("scope %q must start with @", c.Scope)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry base delay must not be negative")
	}
	if c.Native.Parallel < 0 {
		return fmt.Errorf("native parallel must not be negative")
	}
	return nil
}

// LanguagePackage is the scoped name of the platform-independent package.
func (c Config) LanguagePackage() string {
	return c.Scope + "/" + c.PackageName
}

// BindingPackage is the unscoped name of a platform package.
func (c Config) BindingPackage(platformID string) string {
	return c.PackageName + "-" + platformID
}

// LanguageTarball is the canonical archive name of the language package.
func (c Config) LanguageTarball() string {
	return c.PackageName + ".tgz"
}

// BindingTarball is the canonical archive name of a platform package.
func (c Config) BindingTarball(platformID string) string {
	return c.BindingPackage(platformID) + ".tgz"
}

// Resolve fills in TSC, preferring the repository's node_modules copy.
func (t Tools) Resolve(root string) Tools {
	if t.TSC != "" {
		return t
	}
	local := filepath.Join(root, "node_modules", ".bin", "tsc")
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		t.TSC = local
	} else {
		t.TSC = "tsc"
	}
	return t
}

func setIfEmpty(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
