package control

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"voiceavatar/agent/internal/auth"
)

// TokenAuth checks the bearer control token of every unary call.
type TokenAuth struct {
	Secret      string
	InstanceID  string
	SkewSeconds int
	now         func() time.Time
}

func NewTokenAuth(secret, instanceID string, skewSeconds int) *TokenAuth {
	if secret == "" {
		return nil
	}
	return &TokenAuth{Secret: secret, InstanceID: instanceID, SkewSeconds: skewSeconds, now: time.Now}
}

func (a *TokenAuth) Unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 || !strings.HasPrefix(vals[0], "Bearer ") {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	tok := strings.TrimPrefix(vals[0], "Bearer ")
	if _, _, err := auth.ValidateControlToken(a.Secret, tok, a.InstanceID, a.now(), a.SkewSeconds); err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return handler(ctx, req)
}

// bearer attaches a control token to outgoing calls.
type bearer string

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(b)}, nil
}

// Control traffic stays on a trusted network or a local socket.
func (bearer) RequireTransportSecurity() bool { return false }
