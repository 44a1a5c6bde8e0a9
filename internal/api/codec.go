// Package api exposes the engine over gRPC on the session's Unix socket.
// Every request and response is a google.protobuf.Struct carrying the JSON
// form of the types in dto.go and requests.go.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// decode fills v from the JSON form of s.
func decode(s *structpb.Struct, v any) error {
	if s == nil || v == nil {
		return nil
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// unary builds a method whose request decodes into Req.
func unary[Req any](service, name string, h func(ctx context.Context, req *Req) (any, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := decode(raw.(*structpb.Struct), req); err != nil {
					return nil, invalidArgument(err)
				}
				out, err := h(ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				return encode(out)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
		},
	}
}

// serverStream builds a server-streaming method. send encodes and writes
// one message.
func serverStream[Req any](name string, h func(req *Req, stream grpc.ServerStream, send func(any) error) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(_ any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			req := new(Req)
			if err := decode(in, req); err != nil {
				return invalidArgument(err)
			}
			send := func(v any) error {
				out, err := encode(v)
				if err != nil {
					return err
				}
				return stream.SendMsg(out)
			}
			return toStatus(h(req, stream, send))
		},
	}
}

// empty is the request of methods without parameters.
type empty struct{}
