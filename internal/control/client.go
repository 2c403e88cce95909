package control

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the TurnControl service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr. token may be empty when the server runs without auth.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if token != "" {
		base = append(base, grpc.WithPerRPCCredentials(bearer(token)))
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) State(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, fullMethod("GetState"), &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.conn.Invoke(ctx, fullMethod("Stop"), &emptypb.Empty{}, new(emptypb.Empty))
}

func (c *Client) Resume(ctx context.Context) error {
	return c.conn.Invoke(ctx, fullMethod("Resume"), &emptypb.Empty{}, new(emptypb.Empty))
}

func (c *Client) Say(ctx context.Context, text string) error {
	return c.conn.Invoke(ctx, fullMethod("Say"), wrapperspb.String(text), new(emptypb.Empty))
}
