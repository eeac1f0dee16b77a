package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoHealthyRPC is returned when no endpoint can serve the requested chain.
var ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")

// Algorithm defines how an endpoint is chosen among probed candidates.
type Algorithm string

const (
	AlgorithmFastest  Algorithm = "fastest"
	AlgorithmFailover Algorithm = "failover"

	// Discard nodes more than this many blocks behind the best.
	staleBlockThreshold = 3
)

// ParseAlgorithm accepts "fastest", "failover" or "" (fastest).
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmFastest:
		return AlgorithmFastest, nil
	case AlgorithmFailover:
		return AlgorithmFailover, nil
	}
	return "", fmt.Errorf("unknown RPC algorithm %q (fastest|failover)", s)
}

// Endpoint is a probed RPC URL.
type Endpoint struct {
	URL         string
	Latency     time.Duration
	BlockNumber uint64
	ChainID     uint64
	Err         error // probe failure or chain mismatch; nil when healthy
}

// Healthy reports whether the probe succeeded and the chain matched.
func (e Endpoint) Healthy() bool { return e.Err == nil }

// Pick selects an endpoint according to algo. Endpoints must already be
// probed; order matters for AlgorithmFailover.
func Pick(endpoints []Endpoint, algo Algorithm) (*Endpoint, error) {
	if algo == AlgorithmFailover {
		for i := range endpoints {
			if endpoints[i].Healthy() {
				return &endpoints[i], nil
			}
		}
		return nil, noHealthy(endpoints)
	}

	var bestBlock uint64
	for _, e := range endpoints {
		if e.Healthy() && e.BlockNumber > bestBlock {
			bestBlock = e.BlockNumber
		}
	}

	var winner *Endpoint
	var bestScore float64
	for i := range endpoints {
		e := &endpoints[i]
		if !e.Healthy() || bestBlock-e.BlockNumber > staleBlockThreshold {
			continue
		}
		if s := score(e, bestBlock); winner == nil || s > bestScore {
			winner, bestScore = e, s
		}
	}
	if winner == nil {
		return nil, noHealthy(endpoints)
	}
	return winner, nil
}

// score favours low latency, with a small bonus for being at the chain head.
func score(e *Endpoint, bestBlock uint64) float64 {
	ms := max(e.Latency.Milliseconds(), 1)
	return 1000.0/float64(ms) + float64(staleBlockThreshold-(bestBlock-e.BlockNumber))
}

func noHealthy(endpoints []Endpoint) error {
	errs := make([]error, 0, len(endpoints)+1)
	errs = append(errs, ErrNoHealthyRPC)
	for _, e := range endpoints {
		if e.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.URL, e.Err))
		}
	}
	return errors.Join(errs...)
}
