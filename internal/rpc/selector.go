package rpc

import (
	"context"
	"slices"
)

// Select returns the best URL among urls for the given chain. Duplicates and
// blanks are dropped. Every candidate is checked against wantChainID, even a
// lone pinned --rpc. With wantChainID zero a single candidate is returned
// without a round trip.
func Select(ctx context.Context, urls []string, wantChainID uint64, algo Algorithm) (string, error) {
	candidates := dedupe(urls)
	switch len(candidates) {
	case 0:
		return "", ErrNoHealthyRPC
	case 1:
		if wantChainID == 0 {
			return candidates[0], nil
		}
	}

	winner, err := Pick(ProbeAll(ctx, candidates, wantChainID), algo)
	if err != nil {
		return "", err
	}
	return winner.URL, nil
}

func dedupe(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}
