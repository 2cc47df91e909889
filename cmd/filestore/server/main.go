package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/engula/file-storage/config"
	"github.com/engula/file-storage/server"
	"github.com/engula/file-storage/storage"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		klog.ErrorS(err, "load config")
		os.Exit(1)
	}

	log := klog.Background()
	store, err := storage.New(ctx, cfg.Storage, log.WithName("storage"))
	if err != nil {
		klog.ErrorS(err, "create storage", "driver", cfg.Storage.Driver)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		klog.ErrorS(err, "listen", "port", cfg.GRPCPort)
		os.Exit(1)
	}
	rpcLog := log.WithName("grpc")
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(server.UnaryLogger(rpcLog)),
		grpc.ChainStreamInterceptor(server.StreamLogger(rpcLog)),
	)
	server.RegisterFileServiceServer(s, server.NewServer(store, rpcLog))

	go func() {
		<-ctx.Done()
		klog.InfoS("shutting down")
		s.GracefulStop()
	}()

	klog.InfoS("server listening", "addr", lis.Addr().String(), "driver", cfg.Storage.Driver, "staging", cfg.Storage.StagingRoot)
	if err = s.Serve(lis); err != nil {
		klog.ErrorS(err, "serve")
		os.Exit(1)
	}
}
