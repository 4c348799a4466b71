package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

func main() {
	app := mustBootstrapTrackAPI()

	err := app.Run()
	app.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-api stopped", "error", err.Error())
		os.Exit(1)
	}
}
