package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "docextract.v1.QueueService"

// Requests travel as google.protobuf.Struct and responses as
// google.protobuf.Value, both carrying the JSON form of the typed messages.

func decodeStruct(in *structpb.Struct, out any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return nil
}

func encodeStruct(in any) (*structpb.Struct, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeValue(in any) (*structpb.Value, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Value{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeValue(in *structpb.Value, out any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func unary[Req, Resp any](name string, call func(QueueAPI, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	invoke := func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Value, error) {
		var req Req
		if err := decodeStruct(in, &req); err != nil {
			return nil, common.ToStatus(err)
		}
		resp, err := call(srv.(QueueAPI), ctx, req)
		if err != nil {
			return nil, common.ToStatus(err)
		}
		v, err := encodeValue(resp)
		if err != nil {
			return nil, common.InternalErrorf("encode response: %v", err)
		}
		return v, nil
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return invoke(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return invoke(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes QueueAPI for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueAPI)(nil),
	Methods: []grpc.MethodDesc{
		unary("Enqueue", QueueAPI.Enqueue),
		unary("EnqueueBatch", QueueAPI.EnqueueBatch),
		unary("Status", QueueAPI.Status),
		unary("GetItem", QueueAPI.GetItem),
		unary("Cancel", QueueAPI.Cancel),
		unary("Retry", QueueAPI.Retry),
		unary("Stats", QueueAPI.Stats),
		unary("GetResult", QueueAPI.GetResult),
		unary("ListAttempts", QueueAPI.ListAttempts),
		unary("ExportXLSX", QueueAPI.ExportXLSX),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docextract/v1/queue.proto",
}

// LoggingInterceptor logs each unary call with its duration and status.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{"method", info.FullMethod, "duration_ms", time.Since(start).Milliseconds()}
		if err != nil {
			logger.Warn("grpc.call.failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("grpc.call.ok", attrs...)
		}
		return resp, err
	}
}

// NewGRPCServer returns a server with the queue service, health and reflection registered.
func NewGRPCServer(api QueueAPI, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)))
	gs.RegisterService(&ServiceDesc, api)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(gs)
	return gs, hs
}
