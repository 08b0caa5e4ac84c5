package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls SyncService over a connection that speaks the JSON codec.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// Dial opens a plaintext connection to addr. token is sent as a bearer token
// on every call.
func Dial(addr, token string) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn, token), conn, nil
}

func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) RunSync(ctx context.Context, in *SyncRequest) (*SyncResponse, error) {
	out := new(SyncResponse)
	if err := c.cc.Invoke(c.outgoing(ctx), "/"+serviceName+"/RunSync", in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Reconcile(ctx context.Context, in *ReconcileRequest) (*ReconcileResponse, error) {
	out := new(ReconcileResponse)
	if err := c.cc.Invoke(c.outgoing(ctx), "/"+serviceName+"/Reconcile", in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResolveMatch(ctx context.Context, in *ResolveRequest) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := c.cc.Invoke(c.outgoing(ctx), "/"+serviceName+"/ResolveMatch", in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
