// Package enginetest builds the engine module and small models for tests
// that run the engine under wazero.
package enginetest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/woxQAQ/wasmllm/internal/model"
)

// EnginePackage is the import path of the engine command.
const EnginePackage = "github.com/woxQAQ/wasmllm/cmd/engine"

// BuildEngine compiles the engine as a wasip1 reactor and returns the path
// of the .wasm file. The test is skipped in -short mode or when no Go
// toolchain is on PATH.
func BuildEngine(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping engine build in short mode")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}

	out := filepath.Join(t.TempDir(), "engine.wasm")
	cmd := exec.Command(goBin, "build", "-buildmode=c-shared", "-o", out, EnginePackage)
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building engine: %v\n%s", err, output)
	}
	return out
}

// IdentityModel returns a WMDL model of vocabulary n that maps every token
// to itself.
func IdentityModel(t testing.TB, n int) []byte {
	t.Helper()
	vals := make([]float32, n*n)
	for i := 0; i < n; i++ {
		vals[i*n+i] = 1
	}
	embed, err := model.NewTensor("embed", model.F32, []int{n, n}, vals)
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, model.NoToken, 0, embed)
}

// SuccessorModel returns a model of vocabulary n that maps t to (t+1) mod n
// and generates up to maxNew tokens, stopping at eos.
func SuccessorModel(t testing.TB, n int, eos, maxNew uint32) []byte {
	t.Helper()
	eye := make([]float32, n*n)
	head := make([]float32, n*n)
	for v := 0; v < n; v++ {
		eye[v*n+v] = 1
		head[v*n+(v+n-1)%n] = 1
	}
	embed, err := model.NewTensor("embed", model.F32, []int{n, n}, eye)
	if err != nil {
		t.Fatal(err)
	}
	out, err := model.NewTensor("head", model.F32, []int{n, n}, head)
	if err != nil {
		t.Fatal(err)
	}
	return encode(t, eos, maxNew, embed, out)
}

func encode(t testing.TB, eos, maxNew uint32, tensors ...*model.Tensor) []byte {
	t.Helper()
	w, err := model.NewWeights(eos, maxNew, tensors...)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := model.Encode(w)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}
