package api

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"backtester/internal/backtest"
	"backtester/internal/domain"
	"backtester/internal/quotes"
	"backtester/internal/store"
	"backtester/internal/strategy"
)

// CodecName is the gRPC content subtype used by the backtest service.
// Messages are plain Go structs encoded as JSON.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// RunRequest runs an unsaved scenario.
type RunRequest struct {
	Scenario    domain.Scenario `json:"scenario"`
	SummaryOnly bool            `json:"summaryOnly,omitempty"`
}

// RunScenarioRequest runs a saved scenario and stores its summary.
type RunScenarioRequest struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	SummaryOnly bool   `json:"summaryOnly,omitempty"`
}

// RunReply carries the backtest result. TradeDays is empty for summary runs.
type RunReply struct {
	Result *backtest.Result `json:"result"`
}

// ListIndicatorsRequest is empty.
type ListIndicatorsRequest struct{}

// ListIndicatorsReply lists the indicator types a trigger can reference.
type ListIndicatorsReply struct {
	Indicators []strategy.Choice `json:"indicators"`
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "backtester.v1.Backtest"

// BacktestServer is the server API for the backtest service.
type BacktestServer interface {
	Run(context.Context, *RunRequest) (*RunReply, error)
	RunScenario(context.Context, *RunScenarioRequest) (*RunReply, error)
	ListIndicators(context.Context, *ListIndicatorsRequest) (*ListIndicatorsReply, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler("Run", BacktestServer.Run)},
		{MethodName: "RunScenario", Handler: unaryHandler("RunScenario", BacktestServer.RunScenario)},
		{MethodName: "ListIndicators", Handler: unaryHandler("ListIndicators", BacktestServer.ListIndicators)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backtester/v1/backtest",
}

// unaryHandler adapts a typed method to grpc.MethodDesc.Handler.
func unaryHandler[Req, Reply any](method string, call func(BacktestServer, context.Context, *Req) (*Reply, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*Req))
		})
	}
}

// RegisterBacktestServer registers srv on gs.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&backtestServiceDesc, srv)
}

var _ BacktestServer = (*BacktestService)(nil)

// BacktestService implements BacktestServer over a Runner and a
// ScenarioStore.
type BacktestService struct {
	runner    *backtest.Runner
	scenarios store.ScenarioStore
}

// NewBacktestService creates the gRPC backtest service. scenarios may be
// nil, in which case RunScenario reports Unimplemented.
func NewBacktestService(runner *backtest.Runner, scenarios store.ScenarioStore) *BacktestService {
	return &BacktestService{runner: runner, scenarios: scenarios}
}

// Run runs req.Scenario.
func (s *BacktestService) Run(ctx context.Context, req *RunRequest) (*RunReply, error) {
	res, err := s.runner.Run(ctx, req.Scenario)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(res, req.SummaryOnly), nil
}

// RunScenario runs a saved scenario owned by req.Owner.
func (s *BacktestService) RunScenario(ctx context.Context, req *RunScenarioRequest) (*RunReply, error) {
	if s.scenarios == nil {
		return nil, status.Error(codes.Unimplemented, "scenario store not configured")
	}
	sc, err := s.scenarios.GetScenario(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if sc.Owner != req.Owner {
		return nil, status.Errorf(codes.NotFound, "scenario %s not found", req.ID)
	}
	res, err := s.runner.Run(ctx, *sc)
	if err != nil {
		return nil, toStatus(err)
	}
	ar := res.AnalysisResults(timeNow().UTC())
	if err := s.scenarios.SaveAnalysisResults(ctx, sc.ID, ar); err != nil {
		return nil, toStatus(err)
	}
	res.Scenario.AnalysisResults = ar
	return reply(res, req.SummaryOnly), nil
}

// ListIndicators returns the indicator catalog.
func (s *BacktestService) ListIndicators(context.Context, *ListIndicatorsRequest) (*ListIndicatorsReply, error) {
	return &ListIndicatorsReply{Indicators: strategy.Catalog()}, nil
}

func reply(res *backtest.Result, summaryOnly bool) *RunReply {
	if summaryOnly {
		summary := *res
		summary.TradeDays = nil
		res = &summary
	}
	return &RunReply{Result: res}
}

// toStatus maps backtest and store errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidScenario),
		errors.Is(err, strategy.ErrUnknownIndicator):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, backtest.ErrInsufficientHistory),
		errors.Is(err, backtest.ErrNoTradeDays):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, quotes.ErrNoQuotes):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, backtest.ErrQuoteRetrieval):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient calls the backtest service over an existing connection.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient wraps cc.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

func (c *BacktestClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// Run runs an unsaved scenario.
func (c *BacktestClient) Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunReply, error) {
	out := new(RunReply)
	if err := c.invoke(ctx, "Run", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RunScenario runs a saved scenario.
func (c *BacktestClient) RunScenario(ctx context.Context, in *RunScenarioRequest, opts ...grpc.CallOption) (*RunReply, error) {
	out := new(RunReply)
	if err := c.invoke(ctx, "RunScenario", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListIndicators lists the indicator catalog.
func (c *BacktestClient) ListIndicators(ctx context.Context, opts ...grpc.CallOption) (*ListIndicatorsReply, error) {
	out := new(ListIndicatorsReply)
	if err := c.invoke(ctx, "ListIndicators", &ListIndicatorsRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
