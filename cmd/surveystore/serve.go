package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/surveystore/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, gRPC health and observability servers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("http-port", 8080, "REST API port")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC health port")
	serveCmd.Flags().Int("metrics-port", 9090, "Metrics, health and pprof port")
	serveCmd.Flags().Bool("branch-guard", false, "Reject edits of a version that already has a newer version")

	_ = settings.BindPFlag("http.port", serveCmd.Flags().Lookup("http-port"))
	_ = settings.BindPFlag("grpc.port", serveCmd.Flags().Lookup("grpc-port"))
	_ = settings.BindPFlag("observability.port", serveCmd.Flags().Lookup("metrics-port"))
	_ = settings.BindPFlag("writer.branch_guard", serveCmd.Flags().Lookup("branch-guard"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.log.Zerolog().Error().Err(err).Msg("Closing store failed")
		}
	}()

	if !cfg.Logging.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := server.NewAPI(a.writer, a.store, a.resolver, a.hub, a.log, a.metrics)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := server.NewGrpcServer(a.metrics, a.log)
	obs := server.NewObservabilityServer(cfg.Observability.Port, a.registry, a.ready, a.log)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Grpc.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	a.log.LogServerStart(cfg.HTTP.Port, cfg.Grpc.Port, cfg.Storage.Driver)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.metrics.RunUptime(gctx, 10*time.Second)
		return nil
	})
	g.Go(obs.Start)
	g.Go(func() error {
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	grpcSrv.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		a.log.LogServerShutdown()
		grpcSrv.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		grpcSrv.Stop()
		return errors.Join(httpSrv.Shutdown(shutdownCtx), obs.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
