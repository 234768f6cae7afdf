package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/export"
	"github.com/danielpatrickdp/studytrack/internal/remote"
)

const shutdownTimeout = 5 * time.Second

// #region serve

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored sessions and pipeline metrics over HTTP",
		Long: `Serve a read-only HTTP view of the store on export.addr:

  GET /health
  GET /metrics
  GET /sessions
  GET /sessions/{id}/events
  GET /sessions/{id}/history
  GET /sessions/{id}/dvs
  GET /sessions/{id}/fallback/{category}`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides export.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Export.Addr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           export.NewRouter(a.store, prometheus.DefaultGatherer, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("export listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("export shutting down")
	return srv.Shutdown(shutdownCtx)
}

// #endregion serve

// #region sink

func newSinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run the gRPC persistence backend over a relational SQLite store",
		Long: `Serve the persistence gRPC contract on remote.listen_addr, writing every
record into the relational store at remote.sql_path. Point a tracker's
remote.kind=grpc at this address.`,
		RunE: runSink,
	}
	cmd.Flags().String("listen", "", "listen address (overrides remote.listen_addr)")
	return cmd
}

func runSink(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Remote.ListenAddr
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		addr = v
	}
	backend, err := remote.OpenSQLStore(a.cfg.Remote.SQLPath)
	if err != nil {
		return err
	}
	defer backend.Close()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := remote.NewGRPCServer(backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		a.logger.Info("sink shutting down")
		srv.GracefulStop()
	}()

	a.logger.Info("sink listening", "addr", lis.Addr().String(), "db", a.cfg.Remote.SQLPath)
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

// #endregion sink
