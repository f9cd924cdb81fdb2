package bundle

import (
	"time"

	"github.com/woxQAQ/wasmllm/internal/model"
	"github.com/woxQAQ/wasmllm/internal/wasm"
)

// Bundle is a loaded model bundle: its manifest, the compiled engine module
// and the raw weights that every instance loads.
type Bundle struct {
	// Manifest is the parsed bundle metadata
	Manifest *Manifest

	// Compiled is the compiled engine module
	Compiled *wasm.CompiledModule

	// Weights is the WMDL buffer and Header its validated header
	Weights []byte
	Header  model.Header

	// LoadedAt is the timestamp when the bundle was loaded
	LoadedAt time.Time
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Family returns the model family, which may be empty.
func (b *Bundle) Family() string {
	return b.Manifest.Family
}

// Version returns the bundle version.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}

// Capacity returns the output capacity to use when a request sets none.
// It falls back to the prompt length plus the model's generation budget.
func (b *Bundle) Capacity(promptLen int) int {
	if b.Manifest.Defaults.Capacity > 0 {
		return b.Manifest.Defaults.Capacity
	}
	return promptLen + int(b.Header.MaxNewTokens)
}
