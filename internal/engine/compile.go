package engine

import (
	"fmt"
	"slices"

	"github.com/woxQAQ/wasmllm/internal/model"
)

// Tensor roles.
const (
	TensorEmbed    = "embed"
	TensorBias     = "bias"
	TensorNorm     = "norm"
	TensorHead     = "head"
	TensorHeadBias = "head_bias"
)

// FFN tensor names for block i.
func ffnUp(i int) string   { return fmt.Sprintf("ffn.%d.up", i) }
func ffnDown(i int) string { return fmt.Sprintf("ffn.%d.down", i) }
func ffnNorm(i int) string { return fmt.Sprintf("ffn.%d.norm", i) }

type block struct {
	norm []float32
	up   *model.Tensor // [H, D]
	down *model.Tensor // [D, H]
}

// Model is a compiled forward pass over a set of weights. It owns scratch
// buffers sized at compile time, so Run does not allocate. A Model is not
// safe for concurrent use.
type Model struct {
	weights *model.Weights

	vocab int
	dim   int

	embed    *model.Tensor
	bias     []float32
	blocks   []block
	norm     []float32
	head     *model.Tensor
	headBias []float32

	eos    uint32
	maxNew int

	h      []float32
	x      []float32
	hidden []float32
}

// Compile binds the tensors of w to their roles:
//
//	embed      [V, D]  required
//	bias       [D]     added to the embedding
//	ffn.i.up   [H, D]  residual block i (i = 0, 1, ...), with
//	ffn.i.down [D, H]  h += down · gelu(up · rmsnorm(h))
//	ffn.i.norm [D]     optional
//	norm       [D]     final RMSNorm
//	head       [V, D]  output projection, tied to embed when absent
//	head_bias  [V]
//
// Tensors with other names are ignored.
func Compile(w *model.Weights) (*Model, error) {
	embed, ok := w.Tensor(TensorEmbed)
	if !ok {
		return nil, &LayoutError{Tensor: TensorEmbed, Message: "required tensor is missing"}
	}
	if len(embed.Shape) != 2 {
		return nil, &LayoutError{Tensor: TensorEmbed, Message: fmt.Sprintf("want [vocab, dim], got %v", embed.Shape)}
	}

	m := &Model{
		weights: w,
		vocab:   embed.Shape[0],
		dim:     embed.Shape[1],
		embed:   embed,
		head:    embed,
		eos:     w.EOS,
		maxNew:  int(w.MaxNewTokens),
	}

	var err error
	if m.bias, err = m.vector(TensorBias, m.dim); err != nil {
		return nil, err
	}
	if m.norm, err = m.vector(TensorNorm, m.dim); err != nil {
		return nil, err
	}
	if m.headBias, err = m.vector(TensorHeadBias, m.vocab); err != nil {
		return nil, err
	}
	if head, ok := w.Tensor(TensorHead); ok {
		if !slices.Equal(head.Shape, []int{m.vocab, m.dim}) {
			return nil, &LayoutError{Tensor: TensorHead, Message: fmt.Sprintf("want [%d %d], got %v", m.vocab, m.dim, head.Shape)}
		}
		m.head = head
	}

	maxHidden := 0
	for i := 0; ; i++ {
		up, ok := w.Tensor(ffnUp(i))
		if !ok {
			if _, orphan := w.Tensor(ffnDown(i)); orphan {
				return nil, &LayoutError{Tensor: ffnDown(i), Message: "block has no up projection"}
			}
			break
		}
		b, err := m.block(i, up)
		if err != nil {
			return nil, err
		}
		maxHidden = max(maxHidden, up.Shape[0])
		m.blocks = append(m.blocks, b)
	}

	m.h = make([]float32, m.dim)
	m.x = make([]float32, m.dim)
	m.hidden = make([]float32, maxHidden)
	return m, nil
}

// vector decodes an optional 1-D tensor of length n.
func (m *Model) vector(name string, n int) ([]float32, error) {
	t, ok := m.weights.Tensor(name)
	if !ok {
		return nil, nil
	}
	if !slices.Equal(t.Shape, []int{n}) {
		return nil, &LayoutError{Tensor: name, Message: fmt.Sprintf("want [%d], got %v", n, t.Shape)}
	}
	return t.Float32s(), nil
}

func (m *Model) block(i int, up *model.Tensor) (block, error) {
	if len(up.Shape) != 2 || up.Shape[1] != m.dim {
		return block{}, &LayoutError{Tensor: ffnUp(i), Message: fmt.Sprintf("want [hidden, %d], got %v", m.dim, up.Shape)}
	}
	hidden := up.Shape[0]
	down, ok := m.weights.Tensor(ffnDown(i))
	if !ok {
		return block{}, &LayoutError{Tensor: ffnDown(i), Message: "block has no down projection"}
	}
	if !slices.Equal(down.Shape, []int{m.dim, hidden}) {
		return block{}, &LayoutError{Tensor: ffnDown(i), Message: fmt.Sprintf("want [%d %d], got %v", m.dim, hidden, down.Shape)}
	}
	norm, err := m.vector(ffnNorm(i), m.dim)
	if err != nil {
		return block{}, err
	}
	return block{norm: norm, up: up, down: down}, nil
}

// Weights returns the weights the model was compiled from.
func (m *Model) Weights() *model.Weights { return m.weights }

// Vocab returns the vocabulary size.
func (m *Model) Vocab() int { return m.vocab }

// Dim returns the embedding width.
func (m *Model) Dim() int { return m.dim }

// Blocks returns the number of feed-forward blocks.
func (m *Model) Blocks() int { return len(m.blocks) }
