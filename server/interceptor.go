package server

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func UnaryLogger(log logr.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		resp, err = handler(ctx, req)
		logCall(log, info.FullMethod, start, err)
		return
	}
}

func StreamLogger(log logr.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		err = handler(srv, ss)
		logCall(log, info.FullMethod, start, err)
		return
	}
}

func logCall(log logr.Logger, method string, start time.Time, err error) {
	if err != nil {
		log.Error(err, "call failed", "method", method, "code", status.Code(err), "duration", time.Since(start))
		return
	}
	log.V(1).Info("call", "method", method, "duration", time.Since(start))
}
