// Command usersync mirrors identity provider principals that are missing from
// the local users table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "usersync",
	Short: "Reconcile identity provider users into the local mirror",
	Long: `usersync lists every principal in the identity provider realm and creates
local user rows for those that have none. Existing rows are never modified.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newRunCmd(), newWatchCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
