package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"comicmap/internal/mapping"
)

const ServiceName = "comicmap.v1.Resolver"

// ResolverServer is the server side of comicmap.v1.Resolver.
type ResolverServer interface {
	GetID(context.Context, *GetIDRequest) (*GetIDResponse, error)
	GetSlug(context.Context, *GetSlugRequest) (*GetSlugResponse, error)
	BulkSync(context.Context, *BulkSyncRequest) (*BulkSyncResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

type Server struct {
	Service *mapping.Service
}

func NewServer(svc *mapping.Service) *Server {
	return &Server{Service: svc}
}

func (s *Server) GetID(ctx context.Context, req *GetIDRequest) (*GetIDResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}

	res := s.Service.ResolveID(ctx, req.Slug, req.Type)
	if res.Outcome == mapping.OutcomeInvalid {
		return nil, status.Error(codes.InvalidArgument, res.Reason)
	}
	return &GetIDResponse{UUID: res.Identifier, Degraded: res.Outcome == mapping.OutcomeDegraded}, nil
}

func (s *Server) GetSlug(ctx context.Context, req *GetSlugRequest) (*GetSlugResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}

	res := s.Service.ResolveSlug(ctx, req.ID)
	switch res.Outcome {
	case mapping.OutcomeInvalid:
		return nil, status.Error(codes.InvalidArgument, res.Reason)
	case mapping.OutcomeNotFound:
		return nil, status.Error(codes.NotFound, "identifier not found")
	}
	return &GetSlugResponse{
		Slug:     res.Ref.Slug,
		Type:     string(res.Ref.Kind),
		Degraded: res.Outcome == mapping.OutcomeDegraded,
	}, nil
}

func (s *Server) BulkSync(ctx context.Context, req *BulkSyncRequest) (*BulkSyncResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}

	out, err := s.Service.BulkResolve(ctx, req.Slugs, req.Type)
	if err != nil {
		if errors.Is(err, mapping.ErrInvalidInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, "bulk sync failed")
	}
	return &BulkSyncResponse{Mappings: out}, nil
}

func (s *Server) Health(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	h := s.Service.Health()
	return &HealthResponse{
		Status:    h.Status,
		Database:  h.Database,
		CacheSize: h.CacheSize,
		Timestamp: h.Timestamp,
	}, nil
}

// Register attaches srv to gs under ServiceName.
func Register(gs grpc.ServiceRegistrar, srv ResolverServer) {
	gs.RegisterService(&serviceDesc, srv)
}

// LoggingInterceptor logs every unary call with its status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetID", Handler: unary("GetID", func(s ResolverServer, ctx context.Context, req *GetIDRequest) (any, error) {
			return s.GetID(ctx, req)
		})},
		{MethodName: "GetSlug", Handler: unary("GetSlug", func(s ResolverServer, ctx context.Context, req *GetSlugRequest) (any, error) {
			return s.GetSlug(ctx, req)
		})},
		{MethodName: "BulkSync", Handler: unary("BulkSync", func(s ResolverServer, ctx context.Context, req *BulkSyncRequest) (any, error) {
			return s.BulkSync(ctx, req)
		})},
		{MethodName: "Health", Handler: unary("Health", func(s ResolverServer, ctx context.Context, req *HealthRequest) (any, error) {
			return s.Health(ctx, req)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "comicmap/v1/resolver",
}

// unary adapts a typed method into a grpc.MethodDesc handler.
func unary[Req any](method string, call func(ResolverServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ResolverServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}
