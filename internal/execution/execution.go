// Package execution guards order submission with per-service risk limits.
package execution

import (
	"context"
	"fmt"
	"math"

	"strategy_runtime/internal/models"
	"strategy_runtime/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrRiskRejected  = errors.New("order rejected by risk limits")
	ErrInvalidLimits = errors.New("invalid risk limits")
	ErrInvalidOrder  = errors.New("invalid order")
)

// Connector is the exchange primitive set an execution service submits through.
// A NaN price means "unset" (market order without an explicit limit).
type Connector interface {
	Name() string
	Buy(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error)
	Sell(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error)
	MidPrice(ctx context.Context, pair string) (float64, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
}

// RiskLimits is immutable once attached to a Service. Nil limits are unset.
type RiskLimits struct {
	MaxNotional *float64
	MaxLeverage *float64
	ReduceOnly  bool
}

// Limit is a convenience for optional limits: v <= 0 means unset.
func Limit(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func (l RiskLimits) Validate() error {
	if l.MaxNotional != nil && (!(*l.MaxNotional > 0) || math.IsInf(*l.MaxNotional, 0)) {
		return errors.Wrapf(ErrInvalidLimits, "max_notional=%v", *l.MaxNotional)
	}
	if l.MaxLeverage != nil && (!(*l.MaxLeverage > 0) || math.IsInf(*l.MaxLeverage, 0)) {
		return errors.Wrapf(ErrInvalidLimits, "max_leverage=%v", *l.MaxLeverage)
	}
	return nil
}

type Service struct {
	connector Connector
	limits    RiskLimits
	log       *zap.SugaredLogger
}

func NewService(connector Connector, limits RiskLimits) (*Service, error) {
	if connector == nil {
		return nil, errors.New("execution service needs a connector")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	// own copies so the caller can't mutate limits later
	if limits.MaxNotional != nil {
		limits.MaxNotional = Limit(*limits.MaxNotional)
	}
	if limits.MaxLeverage != nil {
		limits.MaxLeverage = Limit(*limits.MaxLeverage)
	}
	return &Service{
		connector: connector,
		limits:    limits,
		log:       logger.Named("execution").With("connector", connector.Name()),
	}, nil
}

func (s *Service) Limits() RiskLimits { return s.limits }

// PlaceOrder checks the intent against the limits and submits it. Nothing is
// submitted when a check fails.
func (s *Service) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "execution.PlaceOrder")
	defer span.Finish()
	span.SetTag("pair", intent.TradingPair)
	span.SetTag("side", string(intent.Side))

	price, err := s.check(ctx, intent)
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("reject", err.Error())
		s.log.Warnw("order rejected", "pair", intent.TradingPair, "side", intent.Side,
			"action", intent.Action, "amount", intent.Amount, "err", err)
		return "", err
	}

	var id string
	switch intent.Side {
	case models.SideBuy:
		id, err = s.connector.Buy(ctx, intent.TradingPair, intent.Amount, intent.OrderType, price)
	case models.SideSell:
		id, err = s.connector.Sell(ctx, intent.TradingPair, intent.Amount, intent.OrderType, price)
	}
	if err != nil {
		span.SetTag("error", true)
		return "", fmt.Errorf("failed to submit %s %s: %w", intent.Side, intent.TradingPair, err)
	}
	return id, nil
}

// check returns the price to submit with.
func (s *Service) check(ctx context.Context, intent models.OrderIntent) (float64, error) {
	if intent.Side != models.SideBuy && intent.Side != models.SideSell {
		return 0, errors.Wrapf(ErrInvalidOrder, "side %q", intent.Side)
	}
	if !(intent.Amount > 0) || math.IsInf(intent.Amount, 0) {
		return 0, errors.Wrapf(ErrInvalidOrder, "amount %v", intent.Amount)
	}
	if intent.OrderType == models.OrderLimit && !intent.HasPrice() {
		return 0, errors.Wrap(ErrInvalidOrder, "limit order without price")
	}

	if s.limits.ReduceOnly && intent.Action != models.ActionClose {
		return 0, errors.Wrapf(ErrRiskRejected, "reduce-only: %s action not allowed", intent.Action)
	}

	if s.limits.MaxLeverage != nil && intent.Leverage > *s.limits.MaxLeverage {
		return 0, errors.Wrapf(ErrRiskRejected, "leverage %v exceeds %v", intent.Leverage, *s.limits.MaxLeverage)
	}

	if s.limits.MaxNotional != nil {
		ref := intent.Price
		if !intent.HasPrice() {
			mid, err := s.connector.MidPrice(ctx, intent.TradingPair)
			if err != nil {
				return 0, fmt.Errorf("failed to get mid price for %s: %w", intent.TradingPair, err)
			}
			ref = mid
		}
		if !(ref > 0) || math.IsInf(ref, 0) {
			return 0, errors.Wrapf(ErrRiskRejected, "no usable reference price for %s: %v", intent.TradingPair, ref)
		}
		notional := ref * intent.Amount
		if notional > *s.limits.MaxNotional {
			return 0, errors.Wrapf(ErrRiskRejected, "notional %.4f exceeds %.4f", notional, *s.limits.MaxNotional)
		}
	}

	if intent.HasPrice() {
		return intent.Price, nil
	}
	return math.NaN(), nil
}

// Equity is the free balance in the settlement asset of pair.
func (s *Service) Equity(ctx context.Context, pair string) (float64, error) {
	return s.connector.AvailableBalance(ctx, models.QuoteAsset(pair))
}
