package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcrodman/muxnet/internal"
	"github.com/dcrodman/muxnet/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs every server enabled in the config",
	Long: `Runs every server enabled in the config, each on its own event loop.

Lines read from stdin are relayed to every server: INFO prints their state,
SHUTDOWN stops accepting connections and exits once the connected clients are
gone, and SHUTDOWNNOW closes everything immediately.`,
	Args: cobra.NoArgs,
	Run:  ServeCommand,
}

func ServeCommand(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The first signal drains the servers; a second one gets the default
	// behavior and ends the process.
	context.AfterFunc(ctx, stop)

	controller := &internal.Controller{
		Config:  cfg,
		DataDir: configDir(),
		Console: os.Stdin,
	}
	if err := controller.Start(ctx); err != nil {
		fmt.Println("error running servers:", err)
		os.Exit(1)
	}
}

func loadConfig() *core.Config {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println("error loading config:", err)
		os.Exit(1)
	}
	return cfg
}

func configDir() string {
	if ConfigFlag == "" {
		return "."
	}
	return ConfigFlag
}
