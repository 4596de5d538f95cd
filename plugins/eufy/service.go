package eufy

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/eufyscope/internal/investigation"
	"github.com/joshp123/eufyscope/internal/rpc"
)

const ServiceName = "eufyscope.plugins.eufy.v1.EufyService"

const (
	ListDevicesMethod         = "/" + ServiceName + "/ListDevices"
	GetStatusMethod           = "/" + ServiceName + "/GetStatus"
	CaptureBaselineMethod     = "/" + ServiceName + "/CaptureBaseline"
	CapturePostCleaningMethod = "/" + ServiceName + "/CapturePostCleaning"
	CompareMethod             = "/" + ServiceName + "/Compare"
)

type DeviceRequest struct {
	DeviceID string `json:"device_id"`
}

type ListDevicesResponse struct {
	Devices []Device `json:"devices"`
}

type eufyServer interface {
	ListDevices(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CaptureBaseline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CapturePostCleaning(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*eufyServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.UnaryMethod(ServiceName, "ListDevices", func(srv any) rpc.StructCall { return srv.(eufyServer).ListDevices }),
		rpc.UnaryMethod(ServiceName, "GetStatus", func(srv any) rpc.StructCall { return srv.(eufyServer).GetStatus }),
		rpc.UnaryMethod(ServiceName, "CaptureBaseline", func(srv any) rpc.StructCall { return srv.(eufyServer).CaptureBaseline }),
		rpc.UnaryMethod(ServiceName, "CapturePostCleaning", func(srv any) rpc.StructCall { return srv.(eufyServer).CapturePostCleaning }),
		rpc.UnaryMethod(ServiceName, "Compare", func(srv any) rpc.StructCall { return srv.(eufyServer).Compare }),
	},
	Metadata: "eufyscope/plugins/eufy/v1/eufy.proto",
}

type service struct {
	poller *Poller
}

func RegisterEufyService(server grpc.ServiceRegistrar, poller *Poller) {
	server.RegisterService(&serviceDesc, &service{poller: poller})
}

func (s *service) ListDevices(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.poller == nil {
		return nil, status.Error(codes.FailedPrecondition, "eufy plugin not configured")
	}
	resp := ListDevicesResponse{Devices: []Device{}}
	for _, st := range s.poller.States() {
		resp.Devices = append(resp.Devices, st.Device)
	}
	return rpc.ToStruct(resp)
}

func (s *service) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, in, "get status", func(_ context.Context, id string) (any, error) {
		return s.poller.State(id)
	})
}

func (s *service) CaptureBaseline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, in, "capture baseline", func(ctx context.Context, id string) (any, error) {
		return s.poller.CaptureBaseline(ctx, id)
	})
}

func (s *service) CapturePostCleaning(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, in, "capture post-cleaning", func(ctx context.Context, id string) (any, error) {
		return s.poller.CapturePostCleaning(ctx, id)
	})
}

func (s *service) Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.call(ctx, in, "compare", func(ctx context.Context, id string) (any, error) {
		return s.poller.Compare(ctx, id)
	})
}

func (s *service) call(ctx context.Context, in *structpb.Struct, op string, fn func(context.Context, string) (any, error)) (*structpb.Struct, error) {
	if s.poller == nil {
		return nil, status.Error(codes.FailedPrecondition, "eufy plugin not configured")
	}
	var req DeviceRequest
	if err := rpc.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	out, err := fn(ctx, req.DeviceID)
	if err != nil {
		return nil, mapError(op, err)
	}
	return rpc.ToStruct(out)
}

func mapError(op string, err error) error {
	msg := fmt.Sprintf("%s: %v", op, err)
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, ErrInvestigationDisabled):
		return status.Error(codes.Unimplemented, msg)
	case errors.Is(err, ErrNoData), errors.Is(err, investigation.ErrNoPayload),
		errors.Is(err, investigation.ErrNoBaseline), errors.Is(err, investigation.ErrNoPostCleaning):
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
