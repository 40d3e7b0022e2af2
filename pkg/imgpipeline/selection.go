// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"math/bits"
	"sort"
)

// HashSimilarity returns 1 - hamming(a,b)/64, the perceptual-hash similarity
// between two 64-bit average hashes.
func HashSimilarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}

// Select ranks candidates by overall quality and picks at most k under the
// perceptual-hash diversity constraint: a candidate is admitted only if its
// similarity to every already-selected candidate is below dedupThreshold.
//
// Sorting is stable, so candidates with equal scores keep insertion order.
// When qualityFloor >= 0, candidates scoring below it are cut before ranking
// and returned in tooLow so the caller can report them.
func Select(candidates []Candidate, k int, dedupThreshold, qualityFloor float64) (selected, tooLow []Candidate) {
	if k <= 0 || len(candidates) == 0 {
		return nil, nil
	}

	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if qualityFloor >= 0 && c.Quality.Overall < qualityFloor {
			tooLow = append(tooLow, c)
			continue
		}
		pool = append(pool, c)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Quality.Overall > pool[j].Quality.Overall
	})

	for _, c := range pool {
		if len(selected) >= k {
			break
		}
		dup := false
		for _, s := range selected {
			if HashSimilarity(c.Meta.PHash, s.Meta.PHash) >= dedupThreshold {
				dup = true
				break
			}
		}
		if !dup {
			selected = append(selected, c)
		}
	}
	return selected, tooLow
}
