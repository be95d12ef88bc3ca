package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls comicmap.v1.Resolver using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// DialOptions are the options every connection to the resolver needs.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

func (c *Client) GetID(ctx context.Context, in *GetIDRequest) (*GetIDResponse, error) {
	out := new(GetIDResponse)
	if err := c.invoke(ctx, "GetID", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSlug(ctx context.Context, in *GetSlugRequest) (*GetSlugResponse, error) {
	out := new(GetSlugResponse)
	if err := c.invoke(ctx, "GetSlug", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BulkSync(ctx context.Context, in *BulkSyncRequest) (*BulkSyncResponse, error) {
	out := new(BulkSyncResponse)
	if err := c.invoke(ctx, "BulkSync", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.invoke(ctx, "Health", &HealthRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
