package remote

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// persistenceServer is the handler type registered for the service.
type persistenceServer interface {
	Insert(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var persistenceServiceDesc = grpc.ServiceDesc{
	ServiceName: persistenceService,
	HandlerType: (*persistenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Insert", Handler: insertHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studytrack/v1/persistence.proto",
}

func insertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(persistenceServer).Insert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: insertMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(persistenceServer).Insert(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #region server

type insertServer struct {
	inserter Inserter
}

func (s *insertServer) Insert(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	table, err := ParseTable(in.GetFields()["table"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec := in.GetFields()["record"].GetStructValue()
	if rec == nil {
		return nil, status.Error(codes.InvalidArgument, "record is required")
	}
	data, err := json.Marshal(rec.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode record: %v", err)
	}
	if err := s.inserter.Insert(ctx, table, data); err != nil {
		return nil, status.Errorf(codes.Unavailable, "insert %s: %v", table, err)
	}
	return &emptypb.Empty{}, nil
}

// NewGRPCServer returns a gRPC server exposing the persistence service and the
// standard health service, storing every record through inserter.
func NewGRPCServer(inserter Inserter, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&persistenceServiceDesc, &insertServer{inserter: inserter})

	hs := health.NewServer()
	hs.SetServingStatus(persistenceService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// #endregion server
