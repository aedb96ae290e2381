package app

import (
	"context"

	"github.com/Blackdeer1524/RowStore/src/cli"
)

// Start runs the stress entrypoint with the parsed CLI options.
func Start(ctx context.Context, opts cli.Options) error {
	return Run(ctx, NewStress(opts))
}
