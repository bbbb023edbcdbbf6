package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientSource retries transient load failures with exponential backoff
// and stops calling a failing upstream through a circuit breaker.
type ResilientSource struct {
	next       Source
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	logger     *zap.Logger
}

func NewResilientSource(next Source, maxRetries uint64, logger *zap.Logger) *ResilientSource {
	st := gobreaker.Settings{
		Name:        "bar-source",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || permanent(err)
		},
	}
	return &ResilientSource{
		next:       next,
		breaker:    gobreaker.NewCircuitBreaker(st),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// permanent errors are not retried and do not trip the breaker.
func permanent(err error) bool {
	return errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *ResilientSource) LoadBars(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Bar, error) {
	var bars []model.Bar
	op := func() error {
		out, err := s.breaker.Execute(func() (interface{}, error) {
			return s.next.LoadBars(ctx, symbol, tf, from, to)
		})
		if err != nil {
			if permanent(err) || errors.Is(err, gobreaker.ErrOpenState) {
				return backoff.Permanent(err)
			}
			return err
		}
		bars = out.([]model.Bar)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		s.logger.Warn("bar load failed, retrying",
			zap.String("symbol", symbol), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return bars, nil
}
