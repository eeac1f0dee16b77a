package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
)

// ErrChainMismatch marks an endpoint that serves a different chain than the
// permit domain expects.
var ErrChainMismatch = errors.New("rpc serves a different chain")

// ProbeTimeout bounds a single endpoint probe.
const ProbeTimeout = 5 * time.Second

// Probe dials url and measures eth_blockNumber latency. When wantChainID is
// non-zero the endpoint is also required to report that chain id.
func Probe(ctx context.Context, url string, wantChainID uint64) Endpoint {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	ep := Endpoint{URL: url}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		ep.Err = err
		return ep
	}
	defer client.Close()

	start := time.Now()
	ep.BlockNumber, err = client.BlockNumber(ctx)
	ep.Latency = time.Since(start)
	if err != nil {
		ep.Err = fmt.Errorf("eth_blockNumber: %w", err)
		return ep
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		ep.Err = fmt.Errorf("eth_chainId: %w", err)
		return ep
	}
	ep.ChainID = id.Uint64()
	if wantChainID != 0 && ep.ChainID != wantChainID {
		ep.Err = fmt.Errorf("%w: got %d, want %d", ErrChainMismatch, ep.ChainID, wantChainID)
	}
	return ep
}

// ProbeAll probes every URL concurrently, preserving input order.
func ProbeAll(ctx context.Context, urls []string, wantChainID uint64) []Endpoint {
	out := make([]Endpoint, len(urls))
	var g errgroup.Group
	g.SetLimit(8)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = Probe(ctx, u, wantChainID)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
