package control

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"voiceavatar/agent/internal/auth"
	"voiceavatar/agent/internal/turn"
)

type fakeController struct {
	mu    sync.Mutex
	state turn.State
	said  []string
}

func (f *fakeController) State() turn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = turn.Idle
	return nil
}

func (f *fakeController) Resume(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = turn.Listening
	return nil
}

func (f *fakeController) Say(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "" {
		return turn.ErrEmptyText
	}
	if f.state != turn.Listening {
		return turn.ErrBusy
	}
	f.said = append(f.said, text)
	f.state = turn.Dispatching
	return nil
}

func startServer(t *testing.T, ctrl Controller, ta *TokenAuth) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(NewServer(ctrl), ta)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, token string) *Client {
	t.Helper()
	c, err := Dial("passthrough:///bufnet", token, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestControlRoundTrip(t *testing.T) {
	ctrl := &fakeController{state: turn.Listening}
	c := dialBuf(t, startServer(t, ctrl, nil), "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.State(ctx)
	if err != nil || st != "LISTENING" {
		t.Fatalf("state: %q %v", st, err)
	}
	if err := c.Say(ctx, "good morning"); err != nil {
		t.Fatalf("say: %v", err)
	}
	if err := c.Say(ctx, "again"); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition when busy, got %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Say(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for empty text, got %v", err)
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st, _ := c.State(ctx); st != "LISTENING" {
		t.Fatalf("expected LISTENING after resume, got %s", st)
	}
}

func TestControlRequiresToken(t *testing.T) {
	ctrl := &fakeController{state: turn.Listening}
	lis := startServer(t, ctrl, NewTokenAuth("s3cret", "lobby", 30))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := dialBuf(t, lis, "").State(ctx); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	wrong, _ := auth.GenerateControlToken("s3cret", "kiosk", time.Now().Add(time.Minute).Unix())
	if _, err := dialBuf(t, lis, wrong).State(ctx); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for other instance, got %v", err)
	}

	tok, _ := auth.GenerateControlToken("s3cret", "lobby", time.Now().Add(time.Minute).Unix())
	st, err := dialBuf(t, lis, tok).State(ctx)
	if err != nil || st != "LISTENING" {
		t.Fatalf("state with token: %q %v", st, err)
	}
}

func TestNewTokenAuthDisabledWithoutSecret(t *testing.T) {
	if NewTokenAuth("", "lobby", 30) != nil {
		t.Fatalf("expected nil auth without secret")
	}
}

func TestToStatusNotRunning(t *testing.T) {
	if status.Code(toStatus(turn.ErrNotRunning)) != codes.Unavailable {
		t.Fatalf("expected Unavailable")
	}
	if status.Code(toStatus(context.DeadlineExceeded)) != codes.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded")
	}
}
