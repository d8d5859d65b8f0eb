// Package mock provides a test double for the eot.Predictor interface.
package mock

import (
	"context"
	"sync"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
)

var _ eot.Predictor = (*Predictor)(nil)

// Predictor is a scripted eot.Predictor. Each Predict call pops the next
// probability from Probabilities; when exhausted, Fallback is returned.
type Predictor struct {
	mu sync.Mutex

	// Probabilities are returned in order, one per Predict call.
	Probabilities []float64

	// Fallback is returned once Probabilities is exhausted.
	Fallback float64

	// PredictErr, if non-nil, is returned by every Predict call.
	PredictErr error

	// Calls records the history passed to each Predict call.
	Calls [][]eot.Message
}

// Predict records the call and returns the next scripted probability.
func (p *Predictor) Predict(_ context.Context, history []eot.Message) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]eot.Message, len(history))
	copy(cp, history)
	p.Calls = append(p.Calls, cp)
	if p.PredictErr != nil {
		return 0, p.PredictErr
	}
	if len(p.Probabilities) > 0 {
		prob := p.Probabilities[0]
		p.Probabilities = p.Probabilities[1:]
		return prob, nil
	}
	return p.Fallback, nil
}

// CallCount reports how many times Predict was invoked. Thread-safe.
func (p *Predictor) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
