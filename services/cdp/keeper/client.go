package keeper

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls the keeper API.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial connects to target. Without explicit transport credentials in opts the
// connection is plaintext.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, token: token}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TokenHeader, c.token)
	}
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)
}

func (c *Client) SortedTroves(ctx context.Context, denom string, limit int) ([]Trove, error) {
	var resp SortedTrovesResponse
	if err := c.invoke(ctx, "SortedTroves", &SortedTrovesRequest{Denom: denom, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Troves, nil
}

func (c *Client) Liquidate(ctx context.Context, owner string) (*LiquidationResponse, error) {
	var resp LiquidationResponse
	if err := c.invoke(ctx, "Liquidate", &LiquidateRequest{Owner: owner}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LiquidateBatch(ctx context.Context, denom string, owners []string) (*LiquidationResponse, error) {
	var resp LiquidationResponse
	if err := c.invoke(ctx, "LiquidateBatch", &LiquidateBatchRequest{Denom: denom, Owners: owners}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LiquidateSorted(ctx context.Context, denom string) (*LiquidationResponse, error) {
	var resp LiquidationResponse
	if err := c.invoke(ctx, "LiquidateSorted", &LiquidateSortedRequest{Denom: denom}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Totals(ctx context.Context) (*TotalsResponse, error) {
	var resp TotalsResponse
	if err := c.invoke(ctx, "Totals", &TotalsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
