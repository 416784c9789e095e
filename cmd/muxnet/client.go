package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
)

// newClient returns the config, logger and loop shared by the client
// commands.
func newClient(name string) (*core.Config, *zap.SugaredLogger, *reactor.Loop) {
	cfg := loadConfig()
	logger, err := core.NewLogger(cfg)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}
	loop, err := reactor.NewLoop(reactor.Config{
		Name:          name,
		BufferSize:    cfg.Reactor.BufferSize,
		PollEvents:    cfg.Reactor.PollEvents,
		PacketLogging: cfg.Debugging.PacketLoggingEnabled,
		ShutdownGrace: cfg.Reactor.ShutdownGrace,
	}, logger)
	if err != nil {
		fail(err)
	}
	return cfg, logger, loop
}

// runLoop runs loop until it stops or the process is interrupted, which closes
// the connections at once.
func runLoop(loop *reactor.Loop) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer context.AfterFunc(ctx, loop.ShutdownNow)()
	if err := loop.Run(context.Background()); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Println(err)
	os.Exit(1)
}
