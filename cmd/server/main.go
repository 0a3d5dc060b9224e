// Server runs the user service HTTP API, the gRPC health service and the scheduled email
// consistency reconciliation.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc/health"

	"smartdrive/user-service/internal/app"
	"smartdrive/user-service/internal/config"
	"smartdrive/user-service/internal/identity/gateway"
	"smartdrive/user-service/internal/platform/logging"
	profilehandler "smartdrive/user-service/internal/profile/handler"
	"smartdrive/user-service/internal/profile/service"
	"smartdrive/user-service/internal/reconcile"
	"smartdrive/user-service/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.New("user-service", "", "info").Error("load config", "error", err)
		return 1
	}
	logger := logging.New(cfg.OTELServiceName, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		in.Close(closeCtx)
	}()

	verifier := gateway.NewVerifier(gateway.Config{
		InternalAuthSecret:  cfg.GatewayInternalSecret,
		SigningSecret:       cfg.GatewaySigningSecret,
		ExpectedForwardedBy: cfg.GatewayForwardedBy,
		GatewayValidation:   cfg.GatewayValidation,
		SignatureValidation: cfg.GatewaySignatureValidation,
		MaxSkew:             cfg.GatewayMaxSkew(),
	})
	if !cfg.GatewayValidation || !cfg.GatewaySignatureValidation {
		logger.Warn("gateway verification partially disabled",
			"gateway_validation", cfg.GatewayValidation,
			"signature_validation", cfg.GatewaySignatureValidation)
	}

	checker := in.HealthChecker()
	profiles := profilehandler.New(
		service.New(in.Store, in.Audit, logger),
		service.NewAccounts(in.Auth, logger),
		in.Reconciler,
		logger,
	)
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.HTTPDeps{
			Verifier: verifier,
			Profiles: profiles,
			Health:   checker,
			Metrics:  in.Metrics,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hs := health.NewServer()
	grpcSrv := server.NewGRPCServer(hs)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen", "addr", cfg.GRPCAddr, "error", err)
			return 1
		}
		go checker.Watch(ctx, hs, 10*time.Second)
		go func() {
			logger.Info("gRPC health server listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	scheduler, err := reconcile.NewScheduler(cfg.ReconcileCron, in.Reconciler, logger)
	if err != nil {
		logger.Error("reconciliation schedule", "error", err)
		return 1
	}
	scheduler.Start(ctx)

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("reconciliation still running at shutdown", "error", err)
	}
	logger.Info("server stopped")
	return code
}
