// Package server initializes and runs the blinddb server application.
// It wires the identity directory, the ciphertext table engine, the TCP
// protocol endpoint and the gRPC health endpoint, and handles graceful
// shutdown with an optional snapshot export.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/arkadyv/blinddb/internal/algebra"
	"github.com/arkadyv/blinddb/internal/logging"
	"github.com/arkadyv/blinddb/internal/server/config"
	"github.com/arkadyv/blinddb/internal/server/engine"
	"github.com/arkadyv/blinddb/internal/server/identity"
	"github.com/arkadyv/blinddb/internal/server/protocol"
	"github.com/arkadyv/blinddb/internal/server/snapshot"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	engine   *engine.Engine
	users    identity.Repository
	protocol *protocol.Server
	snapshot *snapshot.Service
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	var users identity.Repository
	if c.DatabaseDSN == "" {
		users = identity.NewInMemoryRepository()
	} else {
		pg, err := identity.NewPostgresRepository(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("identity db init error: %w", err)
		}
		users = pg
	}

	eng := engine.New(algebra.BigInt{})
	srv := protocol.NewServer(c.EndpointAddr, eng, users, c.AuthTimeout, logger)
	snap := snapshot.NewService(eng, c, logger)

	return &App{
		config:   c,
		logger:   logger,
		engine:   eng,
		users:    users,
		protocol: srv,
		snapshot: snap,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startProtocolServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "starting protocol endpoint", "addr", app.config.EndpointAddr)
	if err := app.protocol.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startHealthServer runs a gRPC endpoint exposing only the standard health
// service, for load balancers and container orchestrators.
func (app *App) startHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	listener, err := net.Listen("tcp", app.config.EndpointAddrHealth)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	s := grpc.NewServer()
	h := health.NewServer()
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, h)

	go func() {
		<-ctx.Done()
		h.Shutdown()
		s.GracefulStop()
	}()

	app.logger.Info(ctx, "starting health endpoint", "addr", app.config.EndpointAddrHealth)
	if err := s.Serve(listener); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startProtocolServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHealthServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.config.SnapshotOnShutdown {
		app.logger.Info(context.Background(), "exporting snapshots before exit")
		app.snapshot.ExportAll(context.Background())
	}
}
