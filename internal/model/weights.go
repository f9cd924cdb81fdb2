package model

import "fmt"

// NoToken marks an unset token id (for example, no end-of-sequence token).
const NoToken = ^uint32(0)

// Weights is a decoded model: an ordered list of tensors plus generation
// settings carried in the header. Weights are immutable once built.
type Weights struct {
	// EOS stops generation when produced. NoToken disables it.
	EOS uint32

	// MaxNewTokens is how many tokens may be generated after the prompt.
	MaxNewTokens uint32

	tensors []*Tensor
	index   map[string]int
}

// NewWeights builds a Weights from tensors, rejecting duplicate or empty names.
func NewWeights(eos, maxNew uint32, tensors ...*Tensor) (*Weights, error) {
	w := &Weights{
		EOS:          eos,
		MaxNewTokens: maxNew,
		tensors:      make([]*Tensor, 0, len(tensors)),
		index:        make(map[string]int, len(tensors)),
	}
	for _, t := range tensors {
		if t.Name == "" {
			return nil, fmt.Errorf("tensor name is required")
		}
		if _, dup := w.index[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tensor %q", t.Name)
		}
		w.index[t.Name] = len(w.tensors)
		w.tensors = append(w.tensors, t)
	}
	return w, nil
}

// Tensor looks up a tensor by name.
func (w *Weights) Tensor(name string) (*Tensor, bool) {
	i, ok := w.index[name]
	if !ok {
		return nil, false
	}
	return w.tensors[i], true
}

// Tensors returns the tensors in file order. The slice must not be modified.
func (w *Weights) Tensors() []*Tensor {
	return w.tensors
}

// Len returns the number of tensors.
func (w *Weights) Len() int {
	return len(w.tensors)
}

// SizeBytes returns the total size of all tensor data.
func (w *Weights) SizeBytes() int {
	n := 0
	for _, t := range w.tensors {
		n += len(t.Data)
	}
	return n
}
