package ops

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Actions lists every diagnostic the request path raises.
var Actions = []string{ActionEvaluationIncomplete, ActionStorageConflict, ActionAuditRetryQueued}

// Sampler decides per action whether a diagnostic is persisted. Actions with
// no configured rate are always kept: diagnostics are rare and each one marks
// a request that did not complete normally.
type Sampler struct {
	rates map[string]float64
	draw  func() float64
}

// NewSampler validates rates keyed by action. Rates are fixed after
// construction.
func NewSampler(rates map[string]float64) (*Sampler, error) {
	s := &Sampler{rates: make(map[string]float64, len(rates)), draw: rand.Float64}
	for action, rate := range rates {
		if !slices.Contains(Actions, action) {
			return nil, fmt.Errorf("sample rate for unknown ops action %q", action)
		}
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("sample rate for %s must be within [0,1], got %v", action, rate)
		}
		s.rates[action] = rate
	}
	return s, nil
}

// Rate returns the configured rate for action.
func (s *Sampler) Rate(action string) float64 {
	if rate, ok := s.rates[action]; ok {
		return rate
	}
	return 1
}

// Keep reports whether this occurrence of action should reach the sink.
func (s *Sampler) Keep(action string) bool {
	switch rate := s.Rate(action); rate {
	case 0:
		return false
	case 1:
		return true
	default:
		return s.draw() < rate
	}
}
