// slotflow runs dataflow pipelines described in YAML.
//
// Usage:
//
//	slotflow run -f <pipeline.yaml> [--sqlite=<path>] [--nats=<url>] [--otlp=<host:port>]
//	slotflow validate -f <pipeline.yaml>
//	slotflow types
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/slotflow/pkg/algorithm"
	"github.com/wehubfusion/slotflow/pkg/nodes"
	"github.com/wehubfusion/slotflow/pkg/pipeline"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "slotflow",
	Short: "Run slot-based dataflow pipelines",
	Long: "slotflow builds a graph of nodes from a pipeline file and runs it,\n" +
		"grouping rows into batches by their annotations.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCatalog() (*algorithm.Catalog, error) {
	catalog := algorithm.NewCatalog()
	if err := nodes.RegisterAll(catalog); err != nil {
		return nil, fmt.Errorf("register node types: %w", err)
	}
	return catalog, nil
}

// loadPipeline parses the pipeline file and builds its graph.
func loadPipeline(path string) (*pipeline.Pipeline, error) {
	def, err := pipeline.Load(path)
	if err != nil {
		return nil, err
	}
	catalog, err := newCatalog()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.Build(def, catalog, nodes.DataTypes())
	if err != nil {
		return nil, fmt.Errorf("build pipeline %s: %w", path, err)
	}
	return p, nil
}
