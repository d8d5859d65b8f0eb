package resilience

import (
	"context"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
)

// PredictorBreaker wraps an [eot.Predictor] with a circuit breaker. The
// prediction service is a per-turn network hop: when it flaps, an open
// breaker fails each Predict call immediately so the turn controller falls
// back to its silence and buffer-age commit rules instead of stalling the
// conversation on a timeout.
type PredictorBreaker struct {
	inner   eot.Predictor
	breaker *Breaker
}

var _ eot.Predictor = (*PredictorBreaker)(nil)

// NewPredictorBreaker wraps inner with a breaker built from cfg.
func NewPredictorBreaker(inner eot.Predictor, cfg BreakerConfig) *PredictorBreaker {
	return &PredictorBreaker{
		inner:   inner,
		breaker: NewBreaker(cfg),
	}
}

// Predict forwards to the wrapped predictor while the breaker allows it.
func (p *PredictorBreaker) Predict(ctx context.Context, history []eot.Message) (float64, error) {
	var prob float64
	err := p.breaker.Execute(func() error {
		var innerErr error
		prob, innerErr = p.inner.Predict(ctx, history)
		return innerErr
	})
	if err != nil {
		return 0, err
	}
	return prob, nil
}

// State exposes the breaker state for health reporting.
func (p *PredictorBreaker) State() State {
	return p.breaker.State()
}
