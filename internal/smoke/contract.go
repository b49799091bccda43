package smoke

import (
	"errors"
	"fmt"
	"strings"
)

// RequiredExports are the functions the language package must expose.
var RequiredExports = []string{"createContext", "systemInfo", "version"}

// ContextOptions configures a native whisper context.
type ContextOptions struct {
	Model     string `json:"model"`
	UseGPU    *bool  `json:"use_gpu,omitempty"`
	FlashAttn *bool  `json:"flash_attn,omitempty"`
	GPUDevice *int   `json:"gpu_device,omitempty"`
}

// Validate checks the options before they are handed to the binding.
func (o ContextOptions) Validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return errors.New("context options: model path is required")
	}
	if o.GPUDevice != nil && *o.GPUDevice < 0 {
		return fmt.Errorf("context options: gpu_device must be >= 0, got %d", *o.GPUDevice)
	}
	return nil
}

// Segment is one transcribed span. T0 and T1 are in centiseconds.
type Segment struct {
	T0   int64  `json:"t0"`
	T1   int64  `json:"t1"`
	Text string `json:"text"`
}

// TranscribeOptions mirrors the binding's transcribe() argument. OnSegment,
// when set, is called once per segment as it is decoded.
type TranscribeOptions struct {
	PCM       []float32     `json:"-"`
	Language  string        `json:"language,omitempty"`
	Threads   int           `json:"threads,omitempty"`
	OnSegment func(Segment) `json:"-"`
}

// Surface is what the probe script reports about the installed package.
type Surface struct {
	Exports    []string `json:"exports"`
	Version    string   `json:"version"`
	SystemInfo string   `json:"systemInfo"`
	// ContextFreed is true when a context was created and freed.
	ContextFreed bool `json:"contextFreed"`
}

// Check verifies the reported surface against the binding contract.
func (s Surface) Check(wantContext bool) error {
	have := make(map[string]bool, len(s.Exports))
	for _, name := range s.Exports {
		have[name] = true
	}
	var missing []string
	for _, name := range RequiredExports {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("binding surface is missing %s", strings.Join(missing, ", "))
	}
	if s.Version == "" {
		return errors.New("version() returned an empty string")
	}
	if wantContext && !s.ContextFreed {
		return errors.New("createContext()/free() round trip did not complete")
	}
	return nil
}

// surfaceProbe imports the package named by argv[1], optionally builds and
// frees a context with the options in argv[2], and prints a Surface as JSON.
const surfaceProbe = `const m = await import(process.argv[1]);
const opts = process.argv[2] ? JSON.parse(process.argv[2]) : null;
let contextFreed = false;
if (opts) { m.createContext(opts).free(); contextFreed = true; }
console.log(JSON.stringify({exports: Object.keys(m).sort(), version: m.version(), systemInfo: m.systemInfo(), contextFreed}));`
