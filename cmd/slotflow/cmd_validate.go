package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateFlags struct {
	file string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a pipeline file without running it",
	RunE:  runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVarP(&validateFlags.file, "file", "f", "", "Pipeline file (required)")
	_ = validateCmd.MarkFlagRequired("file")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	p, err := loadPipeline(validateFlags.file)
	if err != nil {
		return err
	}
	levels, err := p.Graph.TopologicalLevels()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pipeline: %s\n", p.Name)
	fmt.Fprintf(out, "Nodes:    %d\n", len(p.Runnables()))
	fmt.Fprintf(out, "Levels:   %d\n", len(levels))
	for i, level := range levels {
		fmt.Fprintf(out, "  %d:", i)
		for _, n := range level {
			fmt.Fprintf(out, " %s", n.ID())
		}
		fmt.Fprintln(out)
	}
	return nil
}
