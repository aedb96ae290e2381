package app

import (
	"context"

	"github.com/Blackdeer1524/RowStore/src/cli"
)

var rootCmd = cli.Init("stress")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
