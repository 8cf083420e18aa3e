package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zph/esroll/pkg/topology"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List the clusters defined in a topology file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := topologyPath(cmd.Flags())
		if err != nil {
			return err
		}
		file, err := topology.ParseTopologyFile(path)
		if err != nil {
			return err
		}
		listClusters(cmd.OutOrStdout(), file)
		return nil
	},
}

func listClusters(out io.Writer, file *topology.File) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMASTERS\tCLIENTS\tDATA")
	for _, c := range file.Clusters {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", c.Name, len(c.Masters), len(c.Clients), len(c.Data))
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(clustersCmd)
	clustersCmd.Flags().String("topology", "", "Path to the cluster topology YAML file")
}
