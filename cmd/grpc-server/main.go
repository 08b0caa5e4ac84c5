package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"animehub/internal/app"
	"animehub/internal/grpcserver"
	"animehub/internal/logging"
	"animehub/pkg/database"
	"animehub/pkg/utils"
)

func main() {
	cfg, err := utils.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Log)

	db := database.MustOpen(cfg.Database)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("db migrate failed")
	}

	listener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logging.Fatal().Err(err).Str("addr", cfg.GRPC.Addr).Msg("grpc listen failed")
	}

	svc := app.Build(cfg, db, nil)
	srv := grpcserver.NewServer(svc.Importer, svc.Reconcilers, svc.Pending)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.AuthInterceptor(svc.Tokens, svc.Admins)))
	grpcserver.Register(grpcServer, srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logging.Info().Msg("shutting down gRPC server")
		grpcServer.GracefulStop()
	}()

	logging.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
	if err := grpcServer.Serve(listener); err != nil {
		logging.Fatal().Err(err).Msg("grpc server stopped")
	}
}
