package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// AdminServiceServer is the gRPC-facing mirror of Core's operations, for
// operators that prefer an RPC client over curl — list libraries/scenes/bus
// load, and force a reload, exactly as the HTTP surface does, encoded with
// the protobuf well-known types rather than a generated message set (there's
// no .proto source in this tree to generate from).
type AdminServiceServer interface {
	ListLibraries(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ReloadLibrary(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListScenes(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	BusStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// adminServer implements AdminServiceServer over a Core.
type adminServer struct {
	core *Core
}

// NewGRPCServer builds a *grpc.Server with the admin service registered.
func NewGRPCServer(core *Core) *grpc.Server {
	srv := grpc.NewServer()
	RegisterAdminServiceServer(srv, &adminServer{core: core})
	return srv
}

func (s *adminServer) ListLibraries(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	views := s.core.listLibraries()
	values := make([]*structpb.Value, 0, len(views))
	for _, v := range views {
		values = append(values, structpb.NewStructValue(mustStruct(map[string]interface{}{
			"name":       v.Name,
			"generation": v.Generation,
		})))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *adminServer) ReloadLibrary(ctx context.Context, name *wrapperspb.StringValue) (*structpb.Struct, error) {
	ok := s.core.reloadLibrary(name.GetValue())
	return mustStruct(map[string]interface{}{
		"library":  name.GetValue(),
		"reloaded": ok,
	}), nil
}

func (s *adminServer) ListScenes(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	views := s.core.listScenes()
	values := make([]*structpb.Value, 0, len(views))
	for _, v := range views {
		values = append(values, structpb.NewStructValue(mustStruct(map[string]interface{}{
			"scene":          v.Scene,
			"entity_count":   v.EntityCount,
			"occupied_grids": v.OccupiedGrids,
		})))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *adminServer) BusStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.core.busStats()
	return mustStruct(map[string]interface{}{
		"tracked_entities": stats.TrackedEntities,
		"in_flight_count":  stats.InFlightCount,
		"total_queued":     stats.TotalQueued,
	}), nil
}

func mustStruct(fields map[string]interface{}) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		// fields are all scalars built locally above; this cannot fail.
		panic(err)
	}
	return s
}

// --- hand-authored service descriptor, the shape protoc-gen-go-grpc emits
// from a .proto definition; there is none to generate from here, so it is
// written directly against the same grpc.ServiceDesc/grpc.MethodDesc API. ---

// AdminService_ServiceDesc is exported so tests and alternate registration
// paths can reference it directly.
var AdminService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ecsforge.admin.AdminService",
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListLibraries", Handler: _AdminService_ListLibraries_Handler},
		{MethodName: "ReloadLibrary", Handler: _AdminService_ReloadLibrary_Handler},
		{MethodName: "ListScenes", Handler: _AdminService_ListScenes_Handler},
		{MethodName: "BusStats", Handler: _AdminService_BusStats_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ecsforge/admin.proto",
}

// RegisterAdminServiceServer registers srv with s, the same call shape a
// generated *_grpc.pb.go's RegisterXxxServer would produce.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminService_ServiceDesc, srv)
}

func _AdminService_ListLibraries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).ListLibraries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ecsforge.admin.AdminService/ListLibraries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).ListLibraries(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminService_ReloadLibrary_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).ReloadLibrary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ecsforge.admin.AdminService/ReloadLibrary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).ReloadLibrary(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminService_ListScenes_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).ListScenes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ecsforge.admin.AdminService/ListScenes"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).ListScenes(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _AdminService_BusStats_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).BusStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ecsforge.admin.AdminService/BusStats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).BusStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
