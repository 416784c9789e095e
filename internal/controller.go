package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dcrodman/muxnet/internal/chat"
	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/data"
	"github.com/dcrodman/muxnet/internal/core/debug"
	"github.com/dcrodman/muxnet/internal/echo"
	"github.com/dcrodman/muxnet/internal/longsum"
	"github.com/dcrodman/muxnet/internal/upper"
)

// Controller is the main entrypoint for muxnet. It's responsible for initializing
// any shared resources (such as database and logging), defining the servers, and
// launching everything.
type Controller struct {
	Config *core.Config
	// DataDir is where a relative SQLite filename is resolved.
	DataDir string
	// Console supplies the lines relayed to every server, such as INFO and
	// SHUTDOWN. Nil disables the console.
	Console io.Reader
	// Logger overrides the logger built from Config.
	Logger *zap.SugaredLogger

	db      *gorm.DB
	servers []*frontend
}

// Start runs every enabled server until all of them have exited, which
// happens once ctx is cancelled, a SHUTDOWN command has been relayed or one of
// them has failed.
func (c *Controller) Start(ctx context.Context) error {
	if c.Logger == nil {
		logger, err := core.NewLogger(c.Config)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		c.Logger = logger
		defer func() { _ = logger.Sync() }()
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.PprofPort != 0 {
		debug.StartPprofServer(c.Logger, c.Config.Debugging.PprofPort)
	}

	db, err := data.Open(data.Options{
		Engine:   c.Config.Database.Engine,
		Dir:      c.DataDir,
		Filename: c.Config.Database.Filename,
		DSN:      c.Config.DatabaseURL(),
		Debug:    c.Config.Debugging.DatabaseLoggingEnabled,
	})
	switch {
	case errors.Is(err, data.ErrDisabled):
		c.Logger.Infof("no database engine configured, long-sum results will not be recorded")
	case err != nil:
		return err
	default:
		c.db = db
		defer c.shutdownDatabase()
	}

	c.declareServers()
	return c.run(ctx)
}

// Set up all of the servers we want to run. A server whose port is 0 is left
// out.
func (c *Controller) declareServers() {
	c.servers = nil
	add := func(port int, b Backend) {
		if port == 0 {
			return
		}
		c.servers = append(c.servers, &frontend{
			Address: c.Config.ListenAddress(port),
			Backend: b,
		})
	}

	add(c.Config.ChatServer.Port, &chat.Server{
		Name:   "CHAT",
		Config: c.Config,
		Logger: c.Logger,
	})
	add(c.Config.EchoServer.Port, &echo.Server{
		Name:   "ECHO",
		Config: c.Config,
		Logger: c.Logger,
	})
	add(c.Config.EchoUDPServer.Port, &echo.UDPServer{
		Name:   "ECHOUDP",
		Config: c.Config,
		Logger: c.Logger,
		Plus:   c.Config.EchoUDPServer.Plus,
		Ports:  c.Config.EchoUDPServer.Ports,
	})
	add(c.Config.SumServer.Port, &longsum.Server{
		Name:   "SUM",
		Config: c.Config,
		Logger: c.Logger,
	})

	udp := &longsum.UDPServer{
		Name:   "LONGSUM",
		Config: c.Config,
		Logger: c.Logger,
	}
	if c.db != nil {
		udp.Ledger = data.NewLedger(c.db)
	}
	add(c.Config.LongSumUDPServer.Port, udp)

	add(c.Config.UpperUDPServer.Port, &upper.Server{
		Name:   "UPPER",
		Config: c.Config,
		Logger: c.Logger,
	})
}

func (c *Controller) run(ctx context.Context) error {
	if len(c.servers) == 0 {
		return errors.New("no servers are enabled")
	}

	// Failure to initialize one of the registered servers is considered terminal.
	for i, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.Logger
		if err := server.Start(); err != nil {
			c.abandon(c.servers[:i])
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g := taskgroup.New(func(error) { cancel() })
	for _, server := range c.servers {
		g.Go(func() error {
			if err := server.Run(ctx); err != nil {
				c.Logger.Error(err)
				return err
			}
			return nil
		})
	}
	if c.Console != nil {
		go c.relayConsole()
	}
	return g.Wait()
}

// abandon releases the loops of servers that were started but will never run.
func (c *Controller) abandon(servers []*frontend) {
	for _, server := range servers {
		server.Close()
	}
}

// relayConsole hands every console line to every server until the console is
// exhausted. Servers that have already exited ignore it.
func (c *Controller) relayConsole() {
	scanner := bufio.NewScanner(c.Console)
	for scanner.Scan() {
		for _, server := range c.servers {
			server.Execute(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		c.Logger.Warnf("error reading console: %v", err)
	}
}

func (c *Controller) shutdownDatabase() {
	if err := data.Shutdown(c.db); err != nil {
		c.Logger.Warnf("error closing database: %v", err)
	}
}
