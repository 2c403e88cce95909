package control

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"voiceavatar/agent/internal/turn"
)

// Controller is the subset of turn.Controller exposed over gRPC.
type Controller interface {
	State() turn.State
	Stop(ctx context.Context) error
	Resume(ctx context.Context) error
	Say(ctx context.Context, text string) error
}

type Server struct {
	ctrl Controller
}

func NewServer(ctrl Controller) *Server { return &Server{ctrl: ctrl} }

func (s *Server) GetState(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.ctrl.State().String()), nil
}

func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.ctrl.Stop(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Resume(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.ctrl.Resume(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Say(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.ctrl.Say(ctx, in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, turn.ErrBusy):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, turn.ErrEmptyText):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, turn.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// NewGRPCServer registers srv on a server with keepalive and, when auth is
// non-nil, token checks on every call.
func NewGRPCServer(srv TurnControlServer, auth *TokenAuth) *grpc.Server {
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	interceptors := []grpc.UnaryServerInterceptor{observe}
	if auth != nil {
		interceptors = append(interceptors, auth.Unary)
	}
	s := grpc.NewServer(
		grpc.KeepaliveParams(kap),
		grpc.KeepaliveEnforcementPolicy(kasp),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	RegisterTurnControlServer(s, srv)
	return s
}

func observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	metricRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
	if err != nil {
		log.Printf("[control] %s failed code=%s after %s: %v", info.FullMethod, code, time.Since(start).Round(time.Millisecond), err)
	}
	return resp, err
}
