package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/eufyscope/internal/core"
)

const RegistryService = "eufyscope.registry.v1.Registry"

const (
	ListPluginsMethod    = "/" + RegistryService + "/ListPlugins"
	DescribePluginMethod = "/" + RegistryService + "/DescribePlugin"
)

type ListPluginsResponse struct {
	Plugins []core.PluginSummary `json:"plugins"`
}

type DescribePluginRequest struct {
	PluginID string `json:"plugin_id"`
}

type DescribePluginResponse struct {
	Plugin *core.PluginDescriptor `json:"plugin,omitempty"`
}

type registryServer interface {
	ListPlugins(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	DescribePlugin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var registryServiceDesc = grpc.ServiceDesc{
	ServiceName: RegistryService,
	HandlerType: (*registryServer)(nil),
	Methods: []grpc.MethodDesc{
		UnaryMethod(RegistryService, "ListPlugins", func(srv any) StructCall { return srv.(registryServer).ListPlugins }),
		UnaryMethod(RegistryService, "DescribePlugin", func(srv any) StructCall { return srv.(registryServer).DescribePlugin }),
	},
	Metadata: "eufyscope/registry/v1/registry.proto",
}

type registryHandler struct {
	svc *core.RegistryService
}

func (h registryHandler) ListPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(ListPluginsResponse{Plugins: h.svc.ListPlugins(ctx)})
}

func (h registryHandler) DescribePlugin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req DescribePluginRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.PluginID == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}
	desc, ok := h.svc.DescribePlugin(ctx, req.PluginID)
	if !ok {
		return ToStruct(DescribePluginResponse{})
	}
	return ToStruct(DescribePluginResponse{Plugin: &desc})
}

// RegisterPlugins registers the registry and analysis services, then each
// plugin's own services.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin, analysis *AnalysisServer) {
	server.RegisterService(&registryServiceDesc, registryHandler{svc: core.NewRegistryService(plugins)})
	if analysis != nil {
		server.RegisterService(&analysisServiceDesc, analysis)
	}

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
}
