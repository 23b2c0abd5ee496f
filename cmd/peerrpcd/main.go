// Command peerrpcd wires a Supervisor over a TCP listener with the demo
// echo and health services registered, following the teacher's clawc.go
// convention of plain stdlib flag parsing for CLI entry points.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	echosvc "github.com/tarinet/peerrpc/examples/echo"
	healthsvc "github.com/tarinet/peerrpc/examples/health"
	"github.com/tarinet/peerrpc/server"
	"github.com/tarinet/peerrpc/transport"
	"github.com/tarinet/peerrpc/transport/tcp"
)

const protocolEcho = "/example/echo/1.0"
const protocolHealth = "/example/health/1.0"

func main() {
	echoAddr := flag.String("echo-addr", ":7790", "address to listen on for the echo protocol")
	healthAddr := flag.String("health-addr", ":7791", "address to listen on for the health protocol")
	maxSessions := flag.Int("max-sessions", 1000, "maximum simultaneous sessions per listener (0 = unbounded)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*echoAddr, *healthAddr, *maxSessions, logger); err != nil {
		logger.Error("peerrpcd exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// run binds one listener per protocol, a stand-in for the out-of-scope
// transport-level protocol negotiation (e.g. multistream-select) spec.md
// §4.5 assumes already happened by the time a substream notification
// reaches the supervisor.
func run(echoAddr, healthAddr string, maxSessions int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := server.NewRegistry()
	echoDescr := server.Descr{Package: "example", Service: "echo", Method: "Echo"}
	if err := registry.RegisterNamed(echoDescr, protocolEcho, echosvc.Factory); err != nil {
		return err
	}
	health := healthsvc.NewServer(healthsvc.WithLogger(logger))
	healthDescr := server.Descr{Package: "example", Service: "health", Method: "Check"}
	if err := registry.RegisterNamed(healthDescr, protocolHealth, server.ServiceFactoryFunc(
		func(_ context.Context, _ string) (server.Service, error) {
			return health.Service(), nil
		})); err != nil {
		return err
	}

	cfg := server.DefaultConfig()
	cfg.Logger = logger
	if maxSessions == 0 {
		cfg.MaximumSimultaneousSessions = nil
	} else {
		cfg.MaximumSimultaneousSessions = &maxSessions
	}

	echoLn, err := tcp.Listen(ctx, echoAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", echoAddr, err)
	}
	defer echoLn.Close()

	healthLn, err := tcp.Listen(ctx, healthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", healthAddr, err)
	}
	defer healthLn.Close()

	logger.Info("peerrpcd listening",
		slog.String("echo_addr", echoLn.Addr().String()),
		slog.String("health_addr", healthLn.Addr().String()))

	errCh := make(chan error, 2)
	go func() {
		sv := server.NewSupervisor(cfg, registry)
		errCh <- sv.Serve(ctx, echoLn, func(transport.Transport) string { return protocolEcho })
	}()
	go func() {
		sv := server.NewSupervisor(cfg, registry)
		errCh <- sv.Serve(ctx, healthLn, func(transport.Transport) string { return protocolHealth })
	}()

	err = <-errCh
	stop()
	<-errCh
	return err
}
