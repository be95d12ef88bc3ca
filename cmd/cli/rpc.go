package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"comicmap/internal/grpcserver"
)

// grpcAddr switches the resolve commands from the HTTP API to the gRPC
// resolver when set.
var grpcAddr string

type rpcCall func(ctx context.Context, c *grpcserver.Client) (any, error)

func viaGRPC(cmd *cobra.Command, call rpcCall) error {
	opts := append(grpcserver.DialOptions(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	cc, err := grpc.NewClient(grpcAddr, opts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", grpcAddr, err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := call(ctx, grpcserver.NewClient(cc))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func rpcGetID(slug, kind string) rpcCall {
	return func(ctx context.Context, c *grpcserver.Client) (any, error) {
		return c.GetID(ctx, &grpcserver.GetIDRequest{Slug: slug, Type: kind})
	}
}

func rpcGetSlug(id string) rpcCall {
	return func(ctx context.Context, c *grpcserver.Client) (any, error) {
		return c.GetSlug(ctx, &grpcserver.GetSlugRequest{ID: strings.TrimSpace(id)})
	}
}

// rpcBulkSync prints the bare slug map, like the HTTP endpoint.
func rpcBulkSync(slugs []string, kind string) rpcCall {
	return func(ctx context.Context, c *grpcserver.Client) (any, error) {
		resp, err := c.BulkSync(ctx, &grpcserver.BulkSyncRequest{Slugs: slugs, Type: kind})
		if err != nil {
			return nil, err
		}
		return resp.Mappings, nil
	}
}

func rpcHealth(ctx context.Context, c *grpcserver.Client) (any, error) {
	return c.Health(ctx)
}
