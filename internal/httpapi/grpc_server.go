package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"brewline.io/internal/auth"
	"brewline.io/internal/obs"
	"brewline.io/internal/rbac"
)

// AuthorizerServiceName is the fully qualified gRPC service name.
const AuthorizerServiceName = "brewline.rbac.v1.Authorizer"

const (
	methodCheck           = "/" + AuthorizerServiceName + "/Check"
	methodUserPermissions = "/" + AuthorizerServiceName + "/UserPermissions"
)

// AuthorizerServer answers authorization questions over gRPC. Messages are
// google.protobuf.Struct values carrying the same fields as the REST bodies.
type AuthorizerServer interface {
	Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	UserPermissions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var authorizerServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthorizerServiceName,
	HandlerType: (*AuthorizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unaryHandler(methodCheck, AuthorizerServer.Check)},
		{MethodName: "UserPermissions", Handler: unaryHandler(methodUserPermissions, AuthorizerServer.UserPermissions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "brewline/rbac/v1/authorizer.proto",
}

func unaryHandler(fullMethod string, call func(AuthorizerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthorizerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthorizerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCServer implements AuthorizerServer and drives the standard health service.
type GRPCServer struct {
	core      *rbac.Core
	signer    *auth.Signer
	readiness readinessChecker
	health    *health.Server
}

var _ AuthorizerServer = (*GRPCServer)(nil)

// NewGRPCServer creates the gRPC service wrapper. A nil signer disables
// authentication.
func NewGRPCServer(core *rbac.Core, signer *auth.Signer, r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{core: core, signer: signer, readiness: r, health: health.NewServer()}
}

// Register attaches the Authorizer and health services to s.
func (s *GRPCServer) Register(gs *grpc.Server) {
	gs.RegisterService(&authorizerServiceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
}

// ServerOptions returns the interceptors the server expects.
func (s *GRPCServer) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryLogging, s.unaryAuth)}
}

// RefreshHealth probes readiness and publishes the result on the health service.
func (s *GRPCServer) RefreshHealth(ctx context.Context) error {
	st := healthpb.HealthCheckResponse_SERVING
	err := s.readiness.Check(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(AuthorizerServiceName, st)
	return err
}

// WatchHealth refreshes the health status every interval until ctx ends.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.RefreshHealth(ctx); err != nil {
			obs.Logger().WithError(err).Warn("grpc health: not serving")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Shutdown marks every service as not serving.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }

func (s *GRPCServer) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, orgID := field(in, "user_id"), field(in, "organization_id")
	if err := s.authorizeRead(ctx, orgID, userID); err != nil {
		return nil, err
	}
	res, err := s.core.Resolver.Check(ctx, userID, orgID, rbac.Resource(strings.ToUpper(field(in, "resource"))), rbac.Action(strings.ToUpper(field(in, "action"))))
	if err != nil {
		return nil, grpcError(err)
	}
	matched := make([]any, len(res.MatchedPermissionIDs))
	for i, id := range res.MatchedPermissionIDs {
		matched[i] = id
	}
	out, err := structpb.NewStruct(map[string]any{
		"allowed":                res.Allowed,
		"resource":               string(res.Resource),
		"action":                 string(res.Action),
		"reason":                 res.Reason,
		"matched_permission_ids": matched,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) UserPermissions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, orgID := field(in, "user_id"), field(in, "organization_id")
	if err := s.authorizeRead(ctx, orgID, userID); err != nil {
		return nil, err
	}
	perms, err := s.core.Resolver.UserPermissions(ctx, userID, orgID)
	if err != nil {
		return nil, grpcError(err)
	}
	items := make([]any, len(perms))
	for i, p := range perms {
		items[i] = map[string]any{
			"id":       p.ID,
			"resource": string(p.Resource),
			"action":   string(p.Action),
			"effect":   string(p.Effect),
			"name":     p.Name,
		}
	}
	out, err := structpb.NewStruct(map[string]any{"items": items})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// authorizeRead mirrors the REST rule: callers may read their own decisions;
// reading someone else's needs EMPLOYEES:READ in the organization.
func (s *GRPCServer) authorizeRead(ctx context.Context, organizationID, userID string) error {
	if s.signer == nil {
		return nil
	}
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if p.IsPlatformAdmin() || p.UserID == strings.TrimSpace(userID) {
		return nil
	}
	res, err := s.core.Resolver.Check(ctx, p.UserID, organizationID, rbac.ResourceEmployees, rbac.ActionRead)
	if err != nil {
		return grpcError(err)
	}
	if !res.Allowed {
		return status.Errorf(codes.PermissionDenied, "EMPLOYEES:READ required: %s", res.Reason)
	}
	return nil
}

func (s *GRPCServer) unaryAuth(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.signer == nil || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	token, err := extractBearerToken(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	p, err := s.signer.ParseAndValidate(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return handler(auth.ContextWithPrincipal(ctx, p), req)
}

func unaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := obs.Logger().WithFields(logrus.Fields{
		"grpc_method": info.FullMethod,
		"grpc_code":   status.Code(err).String(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	if status.Code(err) == codes.Internal {
		entry.WithError(err).Warn("grpc_complete")
	} else {
		entry.Debug("grpc_complete")
	}
	return resp, err
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, rbac.ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, "rbac operation failed")
	}
}

func field(in *structpb.Struct, name string) string {
	if in == nil {
		return ""
	}
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}
