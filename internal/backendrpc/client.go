package backendrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/codecbridge/webcodecs/internal/backend"
)

// Client is a backend.Backend implementation that forwards every call to a
// Server over an established grpc.ClientConn. It has no method table of its
// own to register: with no generated stub to call, it invokes each RPC by
// its fully-qualified method name directly through conn.Invoke, exactly the
// call protoc-gen-go-grpc's generated client methods make under the hood.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Callers own the connection's
// lifecycle; Client.Close does not close conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	reply := new(structpb.Struct)
	fullMethod := "/" + ServiceName + "/" + method
	if err := c.conn.Invoke(ctx, fullMethod, req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Configure(ctx context.Context, config any) error {
	req, err := encodeConfig(config)
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, "Configure", req)
	return err
}

func (c *Client) SubmitInput(ctx context.Context, input any, options any) error {
	inStruct, err := encodeInput(input)
	if err != nil {
		return err
	}
	optStruct, err := encodeOptions(options)
	if err != nil {
		return err
	}
	req, err := newStruct(map[string]any{
		"input":   inStruct.AsMap(),
		"options": optStruct.AsMap(),
	})
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, "SubmitInput", req)
	if err != nil {
		return mapSaturated(err)
	}
	return nil
}

func (c *Client) PollOutput(ctx context.Context) (*backend.Output, error) {
	req, err := newStruct(nil)
	if err != nil {
		return nil, err
	}
	reply, err := c.invoke(ctx, "PollOutput", req)
	if err != nil {
		return nil, err
	}
	return decodeOutput(reply), nil
}

// WouldSaturate is documented as a cheap, local, non-authoritative
// prediction; calling it over the wire defeats that purpose, so Client
// always reports false and lets SubmitInput's ErrSaturated be authoritative
// instead.
func (c *Client) WouldSaturate(pending int) bool {
	return false
}

func (c *Client) SignalEOF(ctx context.Context) error {
	req, err := newStruct(nil)
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, "SignalEOF", req)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	req, err := newStruct(nil)
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, "Reset", req)
	return err
}

func (c *Client) Close() error {
	req, err := newStruct(nil)
	if err != nil {
		return err
	}
	_, err = c.invoke(context.Background(), "Close", req)
	return err
}

// mapSaturated recovers backend.ErrSaturated from the status code the
// server maps it to (codes.ResourceExhausted in grpcError), since the core
// compares SubmitInput's error against the sentinel with errors.Is.
func mapSaturated(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return backend.ErrSaturated
	}
	return err
}
