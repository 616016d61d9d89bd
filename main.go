package main

import (
	"context"
	"log/slog"
	"os"
)

// App is the process-wide application instance, set up before the cli
// command tree runs.
var App *StakeApp

func main() {
	App = initApp()
	err := App.cliCmd.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
