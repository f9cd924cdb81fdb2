package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/wasmllm/internal/engine"
	"github.com/woxQAQ/wasmllm/internal/model"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE.wmdl",
		Short: "Show the header and tensors of a WMDL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectHandler(cmd, args[0])
		},
	}
}

func inspectHandler(cmd *cobra.Command, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	header, err := model.PeekHeader(buf)
	if err != nil {
		return err
	}
	w, err := model.Decode(buf)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:        %d\n", header.Version)
	fmt.Fprintf(out, "size:           %d bytes\n", header.TotalLen)
	fmt.Fprintf(out, "eos:            %s\n", tokenString(header.EOS))
	fmt.Fprintf(out, "max new tokens: %d\n", header.MaxNewTokens)
	if m, err := engine.Compile(w); err != nil {
		fmt.Fprintf(out, "layout:         incompatible (%v)\n", err)
	} else {
		fmt.Fprintf(out, "layout:         vocab %d, dim %d, %d blocks\n", m.Vocab(), m.Dim(), m.Blocks())
	}
	fmt.Fprintln(out)

	var data [][]string
	for _, t := range w.Tensors() {
		data = append(data, []string{t.Name, t.DType.String(), shapeString(t.Shape), strconv.Itoa(len(t.Data))})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "BYTES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func tokenString(tok uint32) string {
	if tok == model.NoToken {
		return "none"
	}
	return strconv.FormatUint(uint64(tok), 10)
}

func shapeString(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	return strings.Join(dims, "x")
}
