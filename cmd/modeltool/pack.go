package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/wasmllm/internal/engine"
	"github.com/woxQAQ/wasmllm/internal/model"
)

// packSpec is the YAML description of a model to pack.
type packSpec struct {
	// EOS defaults to model.NoToken when omitted.
	EOS          *uint32      `yaml:"eos"`
	MaxNewTokens uint32       `yaml:"max_new_tokens"`
	Tensors      []tensorSpec `yaml:"tensors"`
}

type tensorSpec struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Shape []int  `yaml:"shape"`
	// Exactly one of Values and Fill is set. Fill is "zeros", "ones" or
	// "identity" (square 2-D tensors only).
	Values []float32 `yaml:"values"`
	Fill   string    `yaml:"fill"`
}

func newPackCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pack SPEC.yaml",
		Short: "Pack a YAML tensor description into a WMDL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".wmdl"
			}
			return packHandler(cmd, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: SPEC with a .wmdl extension)")
	return cmd
}

func packHandler(cmd *cobra.Command, specPath, output string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return err
	}
	var spec packSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse %s: %w", specPath, err)
	}

	w, err := spec.weights()
	if err != nil {
		return err
	}
	// Refuse to write a file the engine would reject on load.
	if _, err := engine.Compile(w); err != nil {
		return err
	}

	buf, err := model.Encode(w)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, buf, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tensors, %d bytes\n", output, w.Len(), len(buf))
	return nil
}

func (s *packSpec) weights() (*model.Weights, error) {
	eos := model.NoToken
	if s.EOS != nil {
		eos = *s.EOS
	}

	tensors := make([]*model.Tensor, 0, len(s.Tensors))
	for _, ts := range s.Tensors {
		dtype, err := model.ParseDType(ts.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", ts.Name, err)
		}
		vals, err := ts.values()
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", ts.Name, err)
		}
		t, err := model.NewTensor(ts.Name, dtype, ts.Shape, vals)
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, t)
	}
	return model.NewWeights(eos, s.MaxNewTokens, tensors...)
}

func (ts *tensorSpec) values() ([]float32, error) {
	n := 1
	for _, d := range ts.Shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid shape %v", ts.Shape)
		}
		n *= d
	}

	switch {
	case ts.Fill != "" && ts.Values != nil:
		return nil, fmt.Errorf("values and fill are mutually exclusive")
	case ts.Fill == "":
		if len(ts.Values) != n {
			return nil, fmt.Errorf("%d values for shape %v", len(ts.Values), ts.Shape)
		}
		return ts.Values, nil
	}

	vals := make([]float32, n)
	switch ts.Fill {
	case "zeros":
	case "ones":
		for i := range vals {
			vals[i] = 1
		}
	case "identity":
		if len(ts.Shape) != 2 || ts.Shape[0] != ts.Shape[1] {
			return nil, fmt.Errorf("identity fill needs a square matrix, got %v", ts.Shape)
		}
		for i := 0; i < ts.Shape[0]; i++ {
			vals[i*ts.Shape[0]+i] = 1
		}
	default:
		return nil, fmt.Errorf("unknown fill %q", ts.Fill)
	}
	return vals, nil
}
