package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/surfin-stream/internal/cli"
)

// embeddedConfig is the application.yaml compiled into the binary. A file
// passed with --config and environment variables override it.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	rootCmd := cli.NewRootCommand(&cli.Command{
		Embedded:    embeddedConfig,
		EnvFilePath: envFilePath,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Signals:     sigChan,
	})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
