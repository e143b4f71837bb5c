package main

import (
	"log/slog"
	"os"

	"ticket-ledger/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		slog.Error("Exited with error", "error", err)
		os.Exit(1)
	}
}
