package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
)

// frontend owns the loop a Backend runs on.
//
// The loop multiplexes every connection of the Backend on one goroutine, so
// the Backend never has to synchronize access to its own state.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *zap.SugaredLogger

	loop *reactor.Loop
}

// Start creates the loop and initializes the Backend on it. The loop does
// not run until Run is called.
func (f *frontend) Start() error {
	loop, err := reactor.NewLoop(reactor.Config{
		Name:           f.Backend.Identifier(),
		BufferSize:     f.Config.Reactor.BufferSize,
		PollEvents:     f.Config.Reactor.PollEvents,
		MaxConnections: f.Config.MaxConnections,
		PacketLogging:  f.Config.Debugging.PacketLoggingEnabled,
		ShutdownGrace:  f.Config.Reactor.ShutdownGrace,
	}, f.Logger)
	if err != nil {
		return err
	}

	if _, err := f.Backend.Init(loop, f.Address); err != nil {
		loop.Close()
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}
	f.loop = loop
	return nil
}

// Run blocks until the loop has exited. Cancelling ctx shuts it down
// gracefully.
func (f *frontend) Run(ctx context.Context) error {
	return f.loop.Run(ctx)
}

// Close releases a started loop that will never run.
func (f *frontend) Close() {
	f.loop.Close()
}

// Execute relays a console line to the loop.
func (f *frontend) Execute(line string) {
	f.loop.Execute(line)
}
