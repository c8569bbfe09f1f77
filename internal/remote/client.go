// Package remote is a gRPC client for the Authorizer service.
package remote

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"brewline.io/internal/httpapi"
	"brewline.io/internal/rbac"
)

const (
	methodCheck           = "/" + httpapi.AuthorizerServiceName + "/Check"
	methodUserPermissions = "/" + httpapi.AuthorizerServiceName + "/UserPermissions"
)

// Client wraps a connection to the Authorizer service.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Option configures Dial.
type Option func(*Client)

// WithToken attaches a bearer token to every call.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Dial creates a new client. Without dial options the transport is insecure.
func Dial(target string, opts []Option, dialOpts ...grpc.DialOption) (*Client, error) {
	if len(dialOpts) == 0 {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check asks whether userID may perform action on resource in the organization.
func (c *Client) Check(ctx context.Context, userID, organizationID string, resource rbac.Resource, action rbac.Action) (rbac.CheckResult, error) {
	out, err := c.invoke(ctx, methodCheck, map[string]any{
		"user_id":         userID,
		"organization_id": organizationID,
		"resource":        string(resource),
		"action":          string(action),
	})
	if err != nil {
		return rbac.CheckResult{}, err
	}
	fields := out.GetFields()
	res := rbac.CheckResult{
		Allowed:              fields["allowed"].GetBoolValue(),
		Resource:             rbac.Resource(fields["resource"].GetStringValue()),
		Action:               rbac.Action(fields["action"].GetStringValue()),
		Reason:               fields["reason"].GetStringValue(),
		MatchedPermissionIDs: []string{},
	}
	for _, v := range fields["matched_permission_ids"].GetListValue().GetValues() {
		res.MatchedPermissionIDs = append(res.MatchedPermissionIDs, v.GetStringValue())
	}
	return res, nil
}

// UserPermissions lists the permissions reachable by the user. Only the
// identifying fields and the effect travel over the wire.
func (c *Client) UserPermissions(ctx context.Context, userID, organizationID string) ([]rbac.Permission, error) {
	out, err := c.invoke(ctx, methodUserPermissions, map[string]any{
		"user_id":         userID,
		"organization_id": organizationID,
	})
	if err != nil {
		return nil, err
	}
	items := out.GetFields()["items"].GetListValue().GetValues()
	perms := make([]rbac.Permission, 0, len(items))
	for _, item := range items {
		f := item.GetStructValue().GetFields()
		perms = append(perms, rbac.Permission{
			ID:             f["id"].GetStringValue(),
			OrganizationID: organizationID,
			Resource:       rbac.Resource(f["resource"].GetStringValue()),
			Action:         rbac.Action(f["action"].GetStringValue()),
			Effect:         rbac.Effect(f["effect"].GetStringValue()),
			Name:           f["name"].GetStringValue(),
		})
	}
	return perms, nil
}

// Serving reports whether the server's health service says SERVING for
// the Authorizer.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: httpapi.AuthorizerServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, mapRBACError(err)
	}
	return out, nil
}

// mapRBACError turns status codes back into the rbac sentinels so callers
// can use errors.Is on either side of the wire.
func mapRBACError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = rbac.ErrBadRequest
	case codes.NotFound:
		sentinel = rbac.ErrNotFound
	case codes.AlreadyExists:
		sentinel = rbac.ErrConflict
	default:
		return err
	}
	return &Error{Code: st.Code(), Message: st.Message(), sentinel: sentinel}
}

// Error is a server-side rbac failure. It unwraps to the matching rbac sentinel.
type Error struct {
	Code     codes.Code
	Message  string
	sentinel error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.sentinel }

// IsDenied reports whether err is an authentication or authorization refusal.
func IsDenied(err error) bool {
	var se interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &se) {
		return false
	}
	switch se.GRPCStatus().Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// WithTimeout returns a context with a default timeout for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
