package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/subxact/internal/cli"
	"github.com/roach88/subxact/internal/config"
	"github.com/roach88/subxact/internal/telemetry"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx := context.Background()

	// configuration errors are reported by the root command
	cfg, _ := config.Load()
	shutdown, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "subxact")
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
	}

	err = cli.NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	_ = shutdown(ctx)
	os.Exit(cli.GetExitCode(err))
}
