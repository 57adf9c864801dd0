package keeper

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"aerocdp/crypto"
	"aerocdp/native/cdp"
	"aerocdp/services/cdp/engine"
)

const serviceName = "aerocdp.keeper.v1.KeeperService"

// KeeperServer is the liquidation keeper API.
type KeeperServer interface {
	SortedTroves(context.Context, *SortedTrovesRequest) (*SortedTrovesResponse, error)
	Liquidate(context.Context, *LiquidateRequest) (*LiquidationResponse, error)
	LiquidateBatch(context.Context, *LiquidateBatchRequest) (*LiquidationResponse, error)
	LiquidateSorted(context.Context, *LiquidateSortedRequest) (*LiquidationResponse, error)
	Totals(context.Context, *TotalsRequest) (*TotalsResponse, error)
}

// Server implements KeeperServer on top of the engine service.
type Server struct {
	svc *engine.Service
}

func New(svc *engine.Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) SortedTroves(ctx context.Context, req *SortedTrovesRequest) (*SortedTrovesResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	ranked, err := s.svc.SortedTroves(ctx, req.Denom, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &SortedTrovesResponse{Troves: make([]Trove, 0, len(ranked))}
	for _, r := range ranked {
		out.Troves = append(out.Troves, Trove{
			Owner:      r.Owner.String(),
			Denom:      r.Denom,
			Collateral: r.Collateral,
			Debt:       r.Debt,
			ICR:        r.ICR,
		})
	}
	return out, nil
}

func (s *Server) Liquidate(ctx context.Context, req *LiquidateRequest) (*LiquidationResponse, error) {
	owner, err := decodeOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	report, err := s.svc.Liquidate(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return liquidationResponse(report), nil
}

func (s *Server) LiquidateBatch(ctx context.Context, req *LiquidateBatchRequest) (*LiquidationResponse, error) {
	owners := make([]crypto.Address, 0, len(req.Owners))
	for _, raw := range req.Owners {
		owner, err := decodeOwner(raw)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	report, err := s.svc.LiquidateBatch(ctx, req.Denom, owners)
	if err != nil {
		return nil, toStatus(err)
	}
	return liquidationResponse(report), nil
}

func (s *Server) LiquidateSorted(ctx context.Context, req *LiquidateSortedRequest) (*LiquidationResponse, error) {
	report, err := s.svc.LiquidateSorted(ctx, req.Denom)
	if err != nil {
		return nil, toStatus(err)
	}
	return liquidationResponse(report), nil
}

func (s *Server) Totals(ctx context.Context, _ *TotalsRequest) (*TotalsResponse, error) {
	totals, err := s.svc.Totals()
	if err != nil {
		return nil, toStatus(err)
	}
	return &TotalsResponse{
		TotalDebt:              totals.TotalDebt,
		TotalStake:             totals.TotalStake,
		MinimumCollateralRatio: totals.MinimumCollateralRatio,
		Epoch:                  totals.Epoch,
	}, nil
}

func decodeOwner(raw string) (crypto.Address, error) {
	owner, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, status.Errorf(codes.InvalidArgument, "owner: %v", err)
	}
	return owner, nil
}

func liquidationResponse(r *cdp.LiquidationReport) *LiquidationResponse {
	out := &LiquidationResponse{
		Denom:           r.Denom,
		Liquidated:      make([]string, 0, len(r.Liquidated)),
		TotalDebt:       r.TotalDebt,
		TotalCollateral: r.TotalCollateral,
	}
	for _, owner := range r.Liquidated {
		out.Liquidated = append(out.Liquidated, owner.String())
	}
	return out
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch cdp.KindOf(err) {
	case cdp.KindTroveNotFound, cdp.KindUninitializedDeposit:
		code = codes.NotFound
	case cdp.KindPaused, cdp.KindPriceStale, cdp.KindPriceInvalid:
		code = codes.Unavailable
	case cdp.KindUnauthorized:
		code = codes.PermissionDenied
	case cdp.KindInvalidAmount, cdp.KindUnsupportedDenom:
		code = codes.InvalidArgument
	case cdp.KindInvalidOrdering, cdp.KindNotLiquidatable, cdp.KindTroveInactive, cdp.KindTroveExists:
		code = codes.FailedPrecondition
	case cdp.KindInsufficientCollateral, cdp.KindInsufficientFunds, cdp.KindOverflow:
		code = codes.ResourceExhausted
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// methodHandler is the handler signature grpc.MethodDesc expects. An alias keeps
// values assignable to the field.
type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler[Req any, Resp any](call func(KeeperServer, context.Context, *Req) (*Resp, error), method string) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(KeeperServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(KeeperServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the keeper service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*KeeperServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SortedTroves", Handler: unaryHandler(KeeperServer.SortedTroves, "SortedTroves")},
		{MethodName: "Liquidate", Handler: unaryHandler(KeeperServer.Liquidate, "Liquidate")},
		{MethodName: "LiquidateBatch", Handler: unaryHandler(KeeperServer.LiquidateBatch, "LiquidateBatch")},
		{MethodName: "LiquidateSorted", Handler: unaryHandler(KeeperServer.LiquidateSorted, "LiquidateSorted")},
		{MethodName: "Totals", Handler: unaryHandler(KeeperServer.Totals, "Totals")},
	},
	Metadata: "keeper.json",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv KeeperServer) {
	s.RegisterService(&ServiceDesc, srv)
}
