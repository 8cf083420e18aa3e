package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zph/esroll/pkg/restart"
)

var rootCmd = &cobra.Command{
	Use:   "esroll",
	Short: "Rolling restart tool for Elasticsearch clusters",
	Long: `esroll restarts every node of an Elasticsearch cluster one at a time:
masters first, then client (coordinating) nodes, then data nodes.

Before touching any node it checks that the cluster is green with no
relocating or unassigned shards, and repairs replicas whose sync markers
disagree with their primary. Shard allocation is disabled around each
data-node restart. Progress is kept in a file so an interrupted run can be
resumed without restarting finished nodes again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, restart.ErrDeclined) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a run outcome to the process status. Declining the plan is
// a clean exit; pre-flight failures, operator aborts and every other error
// exit 1.
func exitCode(err error) int {
	if err == nil || errors.Is(err, restart.ErrDeclined) {
		return 0
	}
	return 1
}
