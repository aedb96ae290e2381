package main

import (
	"context"

	"github.com/Blackdeer1524/RowStore/cmd/stress/app"
)

func main() {
	app.MustExecute(context.Background())
}
