package app

import (
	"github.com/spf13/cobra"

	srcapp "github.com/Blackdeer1524/RowStore/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "run the concurrent lock-manager stress scenario",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return srcapp.Start(cmd.Context(), rootCmd.Options)
		},
	})
}
