// Command dagnode is the full-node entrypoint of spec.md §1: it wires
// the store, pool, DAG manager, replay-protection service, PBFT engine,
// finaliser, query facade, and sync driver together and runs them
// against a TCP peer listener.
//
// The subcommand structure follows the teacher's cmd/consensus — a
// cobra root command with independent, focused subcommands — rather
// than a single flag-soup binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "dagnode",
		Short: "Block-DAG + PBFT full node",
		Long: `dagnode runs the consensus core of a block-DAG cryptocurrency
network: DAG admission, PBFT-style round/step finality voting, period
finalisation against a pluggable state executor, and read-only query
serving. The RLPx handshake, JSON-RPC schema, and EVM execution are
external collaborators this binary does not implement.`,
	}

	root.AddCommand(runCmd(), keygenCmd(), genesisCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
