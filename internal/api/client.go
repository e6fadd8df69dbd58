package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"policytrader/internal/domain"
)

// Client talks to a running monitor.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the monitor at addr. Extra options are appended
// after the insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Snapshot fetches the latest step record for symbol.
func (c *Client) Snapshot(ctx context.Context, symbol string) (domain.StepRecord, error) {
	req, err := structpb.NewStruct(map[string]any{"symbol": symbol})
	if err != nil {
		return domain.StepRecord{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetSnapshotMethod, req, resp); err != nil {
		return domain.StepRecord{}, err
	}
	return StructToRecord(resp)
}

// Health returns the serving status of service ("" for the whole process,
// otherwise a symbol).
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Watch streams step records to fn until ctx is cancelled, the server ends
// the stream, or fn returns an error. An empty symbol watches every symbol.
func (c *Client) Watch(ctx context.Context, symbol string, fn func(domain.StepRecord) error) error {
	req, err := structpb.NewStruct(map[string]any{"symbol": symbol})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], WatchStepsMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving step: %w", err)
		}
		rec, err := StructToRecord(msg)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
