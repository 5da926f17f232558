package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/slotflow/pkg/nodes"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the node types and data types pipelines can use",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

func runTypes(cmd *cobra.Command, _ []string) error {
	catalog, err := newCatalog()
	if err != nil {
		return err
	}
	infos := catalog.NodeTypes().Types()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Type\tName\tDescription\n")
	fmt.Fprintf(w, "----\t----\t-----------\n")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Name, info.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nData types:")
	for _, h := range nodes.DataTypes().Types() {
		fmt.Fprintf(out, " %s", h)
	}
	fmt.Fprintln(out)
	return nil
}
