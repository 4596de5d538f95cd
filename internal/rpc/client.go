package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Invoke calls a Struct method on conn, encoding req and decoding into resp.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp any) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return FromStruct(out, resp)
}
