package target

import "testing"

func validTargets(os OS) []Target {
	var out []Target
	libcs := []Libc{Apple}
	if os == Linux {
		libcs = []Libc{GNU, Musl}
	}
	for _, arch := range []Arch{ARM64, X64} {
		for _, backend := range Backends() {
			if !backend.SupportedOn(os) {
				continue
			}
			for _, libc := range libcs {
				out = append(out, Target{OS: os, Arch: arch, Backend: backend, Libc: libc})
			}
		}
	}
	return out
}

func TestPlatformID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		target Target
		want   string
	}{
		{Target{OS: Darwin, Arch: ARM64, Backend: Metal, Libc: Apple}, "arm64-darwin-metal"},
		{Target{OS: Linux, Arch: X64, Backend: CPU, Libc: GNU}, "x64-linux-cpu-gnu"},
		{Target{OS: Linux, Arch: ARM64, Backend: Vulkan, Libc: Musl}, "arm64-linux-vulkan-musl"},
	}
	for _, tc := range cases {
		if got := PlatformID(tc.target); got != tc.want {
			t.Fatalf("PlatformID(%+v) = %q, want %q", tc.target, got, tc.want)
		}
	}
}

func TestPackageName(t *testing.T) {
	t.Parallel()

	got := PackageName(Target{OS: Linux, Arch: X64, Backend: CUDA, Libc: GNU})
	if got != "node-whisper-cpp-x64-linux-cuda-gnu" {
		t.Fatalf("PackageName() = %q", got)
	}
}

func TestPlatformIDInjectivePerOS(t *testing.T) {
	t.Parallel()

	for _, os := range []OS{Darwin, Linux} {
		seen := map[string]Target{}
		for _, tgt := range validTargets(os) {
			if err := tgt.Validate(); err != nil {
				t.Fatalf("generated invalid target %+v: %v", tgt, err)
			}
			id := PlatformID(tgt)
			if prev, ok := seen[id]; ok {
				t.Fatalf("PlatformID collision %q for %+v and %+v", id, prev, tgt)
			}
			seen[id] = tgt
		}
	}
}

func TestValidateRejectsMismatchedPairs(t *testing.T) {
	t.Parallel()

	invalid := []Target{
		{OS: Darwin, Arch: ARM64, Backend: CPU, Libc: Apple},
		{OS: Linux, Arch: X64, Backend: Metal, Libc: GNU},
		{OS: Darwin, Arch: ARM64, Backend: Metal, Libc: GNU},
		{OS: Linux, Arch: X64, Backend: CPU, Libc: Apple},
		{OS: "windows", Arch: X64, Backend: CPU, Libc: GNU},
	}
	for _, tgt := range invalid {
		if err := tgt.Validate(); err == nil {
			t.Fatalf("Validate(%+v) error = nil, want error", tgt)
		}
	}
}

func TestParseBackend(t *testing.T) {
	t.Parallel()

	if b, err := ParseBackend(" CUDA "); err != nil || b != CUDA {
		t.Fatalf("ParseBackend(CUDA) = %q, %v", b, err)
	}
	if _, err := ParseBackend("rocm"); err == nil {
		t.Fatalf("ParseBackend(rocm) error = nil, want error")
	}
}

func TestNormalizeHostNames(t *testing.T) {
	t.Parallel()

	if NormalizeArch("amd64") != X64 || NormalizeArch("aarch64") != ARM64 || NormalizeArch("386") != "" {
		t.Fatalf("NormalizeArch mapping incorrect")
	}
	if NormalizeOS("darwin") != Darwin || NormalizeOS("linux") != Linux || NormalizeOS("windows") != "" {
		t.Fatalf("NormalizeOS mapping incorrect")
	}
}
