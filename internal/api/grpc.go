package api

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"policytrader/internal/domain"
)

// Method names of the monitor service. Requests and responses are
// structpb.Struct so no generated code is needed.
const (
	ServiceName       = "policy.v1.PolicyMonitor"
	GetSnapshotMethod = "/" + ServiceName + "/GetSnapshot"
	WatchStepsMethod  = "/" + ServiceName + "/WatchSteps"
)

// monitorService is the handler contract used by serviceDesc.
type monitorService interface {
	GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WatchSteps(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*monitorService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchSteps", Handler: watchStepsHandler, ServerStreams: true},
	},
	Metadata: "policy/v1/monitor.proto",
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(monitorService).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(monitorService).GetSnapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchStepsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(monitorService).WatchSteps(in, stream)
}

// monitorServer serves snapshots and step streams from a Monitor.
type monitorServer struct {
	m *Monitor
}

// GetSnapshot returns the latest record for req["symbol"].
func (s *monitorServer) GetSnapshot(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbol := req.GetFields()["symbol"].GetStringValue()
	if symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol is required")
	}
	rec, ok := s.m.Snapshot(symbol)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no steps recorded for %s", symbol)
	}
	return recordToStruct(rec)
}

// WatchSteps sends the current snapshots, then every new record. An optional
// req["symbol"] restricts the stream to one symbol. The stream ends when the
// client disconnects or the monitor shuts down.
func (s *monitorServer) WatchSteps(req *structpb.Struct, stream grpc.ServerStream) error {
	symbol := req.GetFields()["symbol"].GetStringValue()
	send := func(rec domain.StepRecord) error {
		if symbol != "" && rec.Symbol != symbol {
			return nil
		}
		msg, err := recordToStruct(rec)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		return stream.SendMsg(msg)
	}

	subID, ch := s.m.Subscribe(256)
	defer s.m.Unsubscribe(subID)

	for _, rec := range s.m.Snapshots() {
		if err := send(rec); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(rec); err != nil {
				return err
			}
		}
	}
}

// recordToStruct encodes a step record. Non-finite floats are sent as null
// since structpb cannot carry them.
func recordToStruct(rec domain.StepRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"symbol":          rec.Symbol,
		"step":            rec.Step,
		"timestamp":       rec.Timestamp,
		"close":           finite(rec.Close),
		"action":          string(rec.Action),
		"decision":        string(rec.Decision),
		"kill_switch":     string(rec.KillSwitch),
		"pnl":             finite(rec.PnL),
		"equity":          finite(rec.Equity),
		"reward":          finite(rec.Reward),
		"penalty":         finite(rec.Penalty),
		"violation_level": finite(rec.ViolationLevel),
		"sharpe":          finite(rec.Sharpe),
		"mdd":             finite(rec.MaxDrawdown),
		"roi":             finite(rec.ROI),
		"size":            finite(rec.Size),
		"exploration":     finite(rec.Exploration),
	})
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// StructToRecord decodes a record produced by the monitor service.
func StructToRecord(s *structpb.Struct) (domain.StepRecord, error) {
	f := s.GetFields()
	rec := domain.StepRecord{
		Symbol:         f["symbol"].GetStringValue(),
		Step:           int(f["step"].GetNumberValue()),
		Timestamp:      int64(f["timestamp"].GetNumberValue()),
		Close:          f["close"].GetNumberValue(),
		Action:         domain.Action(f["action"].GetStringValue()),
		Decision:       domain.Action(f["decision"].GetStringValue()),
		KillSwitch:     domain.KillSwitch(f["kill_switch"].GetStringValue()),
		PnL:            f["pnl"].GetNumberValue(),
		Equity:         f["equity"].GetNumberValue(),
		Reward:         f["reward"].GetNumberValue(),
		Penalty:        f["penalty"].GetNumberValue(),
		ViolationLevel: f["violation_level"].GetNumberValue(),
		Sharpe:         f["sharpe"].GetNumberValue(),
		MaxDrawdown:    f["mdd"].GetNumberValue(),
		ROI:            f["roi"].GetNumberValue(),
		Size:           f["size"].GetNumberValue(),
		Exploration:    f["exploration"].GetNumberValue(),
	}
	if rec.Symbol == "" {
		return domain.StepRecord{}, fmt.Errorf("step record without symbol")
	}
	return rec, nil
}
