package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"policytrader/internal/domain"
)

func startServer(t *testing.T) (*Monitor, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	m := NewMonitor()
	srv := NewServer("bufnet", m, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return m, c
}

func sampleRecord(symbol string, step int, kill domain.KillSwitch) domain.StepRecord {
	return domain.StepRecord{
		Symbol:         symbol,
		Step:           step,
		Timestamp:      1_700_000_000,
		Close:          101.5,
		Action:         domain.ActionLong,
		Decision:       domain.ActionFlat,
		KillSwitch:     kill,
		PnL:            0.0012,
		Equity:         1.0012,
		Reward:         -0.3,
		Penalty:        0.3012,
		ViolationLevel: 0.8,
		Sharpe:         1.25,
		MaxDrawdown:    0.02,
		ROI:            0.0012,
		Size:           0.4,
		Exploration:    0.15,
	}
}

func TestGetSnapshot(t *testing.T) {
	m, c := startServer(t)
	ctx := context.Background()

	_, err := c.Snapshot(ctx, "BTCUSDT")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Snapshot(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	want := sampleRecord("BTCUSDT", 31, domain.KillNormal)
	m.Observe(sampleRecord("BTCUSDT", 30, domain.KillNormal))
	m.Observe(want)

	got, err := c.Snapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHealthFollowsKillSwitch(t *testing.T) {
	m, c := startServer(t)
	ctx := context.Background()

	st, err := c.Health(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = c.Health(ctx, "ETHUSDT")
	assert.Equal(t, codes.NotFound, status.Code(err))

	m.Observe(sampleRecord("ETHUSDT", 40, domain.KillReduce))
	st, err = c.Health(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	m.Observe(sampleRecord("ETHUSDT", 41, domain.KillFlat))
	st, err = c.Health(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
}

func TestWatchStepsSnapshotThenLive(t *testing.T) {
	m, c := startServer(t)
	m.Observe(sampleRecord("AAA", 30, domain.KillNormal))
	m.Observe(sampleRecord("BBB", 30, domain.KillNormal))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan domain.StepRecord, 8)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Watch(ctx, "AAA", func(rec domain.StepRecord) error {
			got <- rec
			return nil
		})
	}()

	first := <-got
	assert.Equal(t, "AAA", first.Symbol)
	assert.Equal(t, 30, first.Step)

	// The subscription is registered before snapshots are sent, so records
	// observed from here on reach the stream.
	m.Observe(sampleRecord("BBB", 31, domain.KillNormal))
	m.Observe(sampleRecord("AAA", 31, domain.KillNormal))

	second := <-got
	assert.Equal(t, "AAA", second.Symbol)
	assert.Equal(t, 31, second.Step)

	cancel()
	err := <-errCh
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled, err)
	}
}

func TestWatchStopsOnCallbackError(t *testing.T) {
	m, c := startServer(t)
	m.Observe(sampleRecord("AAA", 30, domain.KillNormal))

	stop := errors.New("enough")
	err := c.Watch(context.Background(), "", func(domain.StepRecord) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestMonitorSubscribeUnsubscribe(t *testing.T) {
	m := NewMonitor()
	id, ch := m.Subscribe(1)
	m.Observe(sampleRecord("AAA", 1, domain.KillNormal))
	// Buffer full: dropped rather than blocking.
	m.Observe(sampleRecord("AAA", 2, domain.KillNormal))

	rec := <-ch
	assert.Equal(t, 1, rec.Step)
	m.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	latest, ok := m.Snapshot("AAA")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Step)
}

func TestRecordStructNonFinite(t *testing.T) {
	rec := sampleRecord("AAA", 1, domain.KillNormal)
	rec.Sharpe = math.Inf(1)
	s, err := recordToStruct(rec)
	require.NoError(t, err)

	back, err := StructToRecord(s)
	require.NoError(t, err)
	assert.Zero(t, back.Sharpe)
	assert.Equal(t, rec.Equity, back.Equity)

	_, err = StructToRecord(nil)
	assert.Error(t, err)
}
