package service

import (
	"context"
	"log"
	"sort"

	"github.com/curatorhq/curator/internal/domain"
)

// DefaultRerankFloor is the absolute relevance floor on the pairwise model's
// unbounded scale. Candidates below it are dropped unless that would empty
// the result.
const DefaultRerankFloor = -5.0

// PairScorer scores one (query, document) pair with a pairwise relevance
// model. Its absence degrades reranking to pass-through ordering.
type PairScorer interface {
	ScorePair(ctx context.Context, query, text string) (float64, error)
}

// ScoredItem is one retrieval candidate with its fused first-pass score and,
// after reranking, the pairwise refinement score.
type ScoredItem struct {
	Item        *domain.KnowledgeItem
	Score       float64
	RerankScore float64
}

// Reranker refines a small candidate set by scoring each pair with the
// pairwise model and re-sorting. When no candidate clears the floor the top
// candidates are returned anyway: reranking never empties a non-empty set.
type Reranker struct {
	scorer PairScorer
	floor  float64
}

func NewReranker(scorer PairScorer, floor float64) *Reranker {
	if floor == 0 {
		floor = DefaultRerankFloor
	}
	return &Reranker{scorer: scorer, floor: floor}
}

// Rerank reorders candidates by pairwise score and keeps those above the
// floor, capped at topK. With no scorer, or if scoring fails mid-batch, the
// original fused ordering is kept.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []ScoredItem, topK int) []ScoredItem {
	if len(candidates) == 0 {
		return candidates
	}
	if r.scorer == nil {
		return capResults(candidates, topK)
	}

	scored := make([]ScoredItem, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		score, err := r.scorer.ScorePair(ctx, query, scored[i].Item.Text)
		if err != nil {
			log.Printf("rerank: pair scoring failed (%v), keeping fused order", err)
			return capResults(candidates, topK)
		}
		scored[i].RerankScore = score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})

	kept := make([]ScoredItem, 0, len(scored))
	for _, cand := range scored {
		if cand.RerankScore >= r.floor {
			kept = append(kept, cand)
		}
	}
	if len(kept) == 0 {
		log.Printf("rerank: all %d candidates below floor %.1f, returning top %d anyway", len(scored), r.floor, topK)
		kept = scored
	}
	return capResults(kept, topK)
}

func capResults(items []ScoredItem, topK int) []ScoredItem {
	if topK > 0 && len(items) > topK {
		return items[:topK]
	}
	return items
}
