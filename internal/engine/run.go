package engine

import (
	"github.com/chewxy/math32"
)

// rmsEps keeps RMSNorm finite on all-zero activations.
const rmsEps = 1e-5

// TokenSource is a read-only sequence of token ids.
type TokenSource interface {
	Len() int
	At(i int) (uint32, bool)
}

// TokenSink is a fixed-capacity sequence the engine writes into.
type TokenSink interface {
	Len() int
	Set(i int, v uint32) bool
}

// Run maps every input token to the most likely next token, then keeps
// generating from the last output for up to MaxNewTokens steps or until the
// EOS token is produced. It stops as soon as dst is full and returns the
// number of tokens written; slots at and after that index are not touched.
//
// An input token outside the vocabulary stops the run with a *TokenError;
// tokens written before it remain valid.
func (m *Model) Run(src TokenSource, dst TokenSink) (int, error) {
	capacity := dst.Len()
	written := 0

	var last uint32
	produced := false
	for i := 0; i < src.Len() && written < capacity; i++ {
		tok, ok := src.At(i)
		if !ok {
			break
		}
		if uint64(tok) >= uint64(m.vocab) {
			return written, &TokenError{Position: i, Token: tok, Vocab: m.vocab}
		}
		last = m.step(tok)
		dst.Set(written, last)
		written++
		produced = true
	}
	if !produced {
		return written, nil
	}

	for n := 0; n < m.maxNew && written < capacity && last != m.eos; n++ {
		last = m.step(last)
		dst.Set(written, last)
		written++
	}
	return written, nil
}

// step runs one position through the network and returns argmax(logits).
// Ties go to the lowest token id.
func (m *Model) step(tok uint32) uint32 {
	h := m.h
	m.embed.Row(int(tok), h)
	if m.bias != nil {
		add(h, m.bias)
	}

	for _, b := range m.blocks {
		x := m.x
		if b.norm != nil {
			rmsNorm(x, h, b.norm)
		} else {
			copy(x, h)
		}
		hidden := m.hidden[:b.up.Rows()]
		for j := range hidden {
			hidden[j] = gelu(b.up.Dot(j, x))
		}
		for j := range h {
			h[j] += b.down.Dot(j, hidden)
		}
	}

	x := h
	if m.norm != nil {
		rmsNorm(m.x, h, m.norm)
		x = m.x
	}

	best := 0
	bestScore := math32.Inf(-1)
	for v := 0; v < m.vocab; v++ {
		s := m.head.Dot(v, x)
		if m.headBias != nil {
			s += m.headBias[v]
		}
		if s > bestScore {
			best, bestScore = v, s
		}
	}
	return uint32(best)
}

func add(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

func rmsNorm(dst, src, weight []float32) {
	var ss float32
	for _, v := range src {
		ss += v * v
	}
	scale := 1 / math32.Sqrt(ss/float32(len(src))+rmsEps)
	for i, v := range src {
		dst[i] = v * scale * weight[i]
	}
}

// gelu uses the sigmoid approximation x·σ(1.702x).
func gelu(x float32) float32 {
	return x / (1 + math32.Exp(-1.702*x))
}
