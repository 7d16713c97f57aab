package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vesu-liquidator/internal/version"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print build information",
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "liquidator", version.String())
	},
}
