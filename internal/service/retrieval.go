package service

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/curatorhq/curator/internal/config"
	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/telemetry"
)

// QueryMode controls the citation policy applied to results.
type QueryMode string

const (
	ModeInternal QueryMode = "internal"
	ModeCustomer QueryMode = "customer"
)

// Outcome is the structured result category of a query. Internal failures
// never surface raw; every query resolves to one of these.
type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeNoKnowledge        Outcome = "no_knowledge"
	OutcomeInsufficientPublic Outcome = "insufficient_public_sources"
)

const (
	answerNoKnowledge        = "No knowledge available"
	answerNoRelevant         = "No relevant documents found."
	answerInsufficientPublic = "Insufficient public sources available."
)

// ItemFetcher is the read side of the knowledge store: the full collection,
// scanned per query.
type ItemFetcher interface {
	FetchAll(ctx context.Context) ([]*domain.KnowledgeItem, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// AnswerGenerator produces the final natural-language answer from the
// retrieved contexts.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
}

// RetrievalConfig tunes the hybrid engine. Weights come from configuration:
// they are empirically chosen and carried as tunables, not literals.
type RetrievalConfig struct {
	TopK                int
	MinRelevance        float64
	CandidateMultiplier int
	CustomerMinAvgScore float64
	PublicSources       []string
	StrongWeights       config.FusionWeights
	WeakWeights         config.FusionWeights
	NoneWeights         config.FusionWeights
}

// DefaultRetrievalConfig mirrors the production defaults in config.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                5,
		MinRelevance:        0.25,
		CandidateMultiplier: 5,
		CustomerMinAvgScore: 0.15,
		PublicSources:       domain.DefaultPublicSources,
		StrongWeights:       config.FusionWeights{Semantic: 0.35, Keyword: 0.45, Lexical: 0.20},
		WeakWeights:         config.FusionWeights{Semantic: 0.50, Keyword: 0.30, Lexical: 0.20},
		NoneWeights:         config.FusionWeights{Semantic: 0.70, Keyword: 0, Lexical: 0.30},
	}
}

// RetrievalService is the hybrid retrieval engine: semantic, keyword-overlap
// and lexical signals fused per item, a reranked candidate pool, and a
// mode-based citation policy on the final set. It only ever reads the store
// and may run concurrently with ingestion.
type RetrievalService struct {
	store    ItemFetcher
	embedder Embedder
	lexical  LexicalScorer
	reranker *Reranker
	answers  AnswerGenerator
	cfg      RetrievalConfig
}

func NewRetrievalService(
	store ItemFetcher,
	embedder Embedder,
	lexical LexicalScorer,
	reranker *Reranker,
	answers AnswerGenerator,
	cfg RetrievalConfig,
) *RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 5
	}
	if reranker == nil {
		reranker = NewReranker(nil, DefaultRerankFloor)
	}
	return &RetrievalService{
		store:    store,
		embedder: embedder,
		lexical:  lexical,
		reranker: reranker,
		answers:  answers,
		cfg:      cfg,
	}
}

// RetrieveInput is one query. Zero TopK falls back to the configured
// default. A nil MinRelevance uses the configured threshold; an explicit
// zero admits every candidate.
type RetrieveInput struct {
	Query        string
	Mode         QueryMode
	TopK         int
	MinRelevance *float64
}

// RetrieveResult is the structured outcome of a query.
type RetrieveResult struct {
	Outcome   Outcome
	Answer    string
	Documents []ScoredItem
	Citations []domain.Metadata
	Sources   []string
}

// Retrieve runs the full pipeline: score, pool, rerank, policy-filter,
// answer. Collaborator failures degrade (store down reads as no knowledge,
// missing lexical backend neutralizes the lexical term) rather than error.
func (s *RetrievalService) Retrieve(ctx context.Context, input RetrieveInput) (*RetrieveResult, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		Operation: "retrieve",
		Mode:      string(input.Mode),
	})
	defer span.End()

	topK := input.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	minRelevance := s.cfg.MinRelevance
	if input.MinRelevance != nil {
		minRelevance = *input.MinRelevance
	}

	items, err := s.store.FetchAll(ctx)
	if err != nil {
		log.Printf("retrieval: store unavailable (%v), answering with no knowledge", err)
		telemetry.CaptureError(ctx, err)
		return &RetrieveResult{Outcome: OutcomeNoKnowledge, Answer: answerNoKnowledge}, nil
	}
	if len(items) == 0 {
		return &RetrieveResult{Outcome: OutcomeNoKnowledge, Answer: answerNoKnowledge}, nil
	}

	scored := s.scoreItems(ctx, input.Query, items)
	if len(scored) == 0 {
		return s.finalize(ctx, input.Query, input.Mode, nil)
	}

	pool := candidatePool(scored, minRelevance, topK, s.cfg.CandidateMultiplier)
	final := s.reranker.Rerank(ctx, input.Query, pool, topK)

	return s.finalize(ctx, input.Query, input.Mode, final)
}

// scoreItems computes the fused first-pass score for every item that has a
// vector. Items without a vector (embedding backfill pending) do not
// participate.
func (s *RetrievalService) scoreItems(ctx context.Context, query string, items []*domain.KnowledgeItem) []ScoredItem {
	withVectors := make([]*domain.KnowledgeItem, 0, len(items))
	for _, item := range items {
		if len(item.Vector) > 0 {
			withVectors = append(withVectors, item)
		}
	}
	if len(withVectors) == 0 {
		return nil
	}

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			log.Printf("retrieval: query embedding failed (%v), semantic signal disabled", err)
		} else {
			queryVec = vec
		}
	}

	queryTokens := tokenize(query)

	lexical := make([]float64, len(withVectors))
	if s.lexical != nil {
		docs := make([][]string, len(withVectors))
		for i, item := range withVectors {
			docs[i] = tokenize(item.Text)
		}
		lexical = normalizeByMax(s.lexical.Score(queryTokens, docs))
	}

	scored := make([]ScoredItem, 0, len(withVectors))
	for i, item := range withVectors {
		semantic := cosineSimilarity(queryVec, item.Vector)
		keyword := keywordOverlap(queryTokens, item.Text)
		scored = append(scored, ScoredItem{
			Item:  item,
			Score: s.fuse(semantic, keyword, lexical[i]),
		})
	}
	return scored
}

// fuse combines the three signals. Strong keyword overlap is trusted over
// embedding similarity: embeddings are unreliable for rare terms and names.
func (s *RetrievalService) fuse(semantic, keyword, lexical float64) float64 {
	var w config.FusionWeights
	switch {
	case keyword > 0.5:
		w = s.cfg.StrongWeights
	case keyword > 0:
		w = s.cfg.WeakWeights
	default:
		w = s.cfg.NoneWeights
	}
	return w.Semantic*semantic + w.Keyword*keyword + w.Lexical*lexical
}

// candidatePool selects ~multiplier x topK candidates above the relevance
// threshold for reranking. When nothing clears the threshold the top topK by
// raw score are returned anyway; a non-empty store never yields an empty
// pool. This precision-for-availability trade is deliberate product policy.
func candidatePool(scored []ScoredItem, minRelevance float64, topK, multiplier int) []ScoredItem {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	poolSize := topK * multiplier
	filtered := make([]ScoredItem, 0, poolSize)
	for _, cand := range scored {
		if cand.Score >= minRelevance {
			filtered = append(filtered, cand)
		}
		if len(filtered) >= poolSize {
			break
		}
	}

	if len(filtered) == 0 {
		log.Printf("retrieval: no candidates above %.2f, keeping top %d anyway", minRelevance, topK)
		if len(scored) > topK {
			return scored[:topK]
		}
		return scored
	}
	return filtered
}

// finalize applies the mode-based citation policy and generates the answer.
func (s *RetrievalService) finalize(ctx context.Context, query string, mode QueryMode, docs []ScoredItem) (*RetrieveResult, error) {
	if mode == ModeCustomer {
		public := make([]ScoredItem, 0, len(docs))
		for _, doc := range docs {
			if domain.IsPublic(doc.Item.Metadata, s.cfg.PublicSources) {
				public = append(public, doc)
			}
		}
		if len(public) == 0 {
			return &RetrieveResult{Outcome: OutcomeInsufficientPublic, Answer: answerInsufficientPublic}, nil
		}
		var sum float64
		for _, doc := range public {
			sum += doc.Score
		}
		if sum/float64(len(public)) < s.cfg.CustomerMinAvgScore {
			return &RetrieveResult{Outcome: OutcomeNoKnowledge, Answer: answerNoRelevant}, nil
		}
		docs = public
	}

	if len(docs) == 0 {
		return &RetrieveResult{Outcome: OutcomeNoKnowledge, Answer: answerNoRelevant}, nil
	}

	contexts := make([]string, 0, len(docs))
	citations := make([]domain.Metadata, 0, len(docs))
	seenSources := make(map[string]struct{})
	sources := make([]string, 0, len(docs))
	for _, doc := range docs {
		contexts = append(contexts, doc.Item.Text)
		citations = append(citations, doc.Item.Metadata)
		src := doc.Item.Metadata.Source
		if src == "" {
			src = "unknown"
		}
		if _, ok := seenSources[src]; !ok {
			seenSources[src] = struct{}{}
			sources = append(sources, src)
		}
	}

	answer := s.generateAnswer(ctx, query, contexts)

	return &RetrieveResult{
		Outcome:   OutcomeOK,
		Answer:    answer,
		Documents: docs,
		Citations: citations,
		Sources:   sources,
	}, nil
}

func (s *RetrievalService) generateAnswer(ctx context.Context, query string, contexts []string) string {
	if s.answers != nil {
		answer, err := s.answers.GenerateAnswer(ctx, query, contexts)
		if err == nil && answer != "" {
			return answer
		}
		if err != nil {
			log.Printf("retrieval: answer generation failed (%v), using context summary", err)
		}
	}
	return summarizeContexts(contexts)
}

// summarizeContexts is the degraded answer used when no generation backend
// is configured or the model call fails.
func summarizeContexts(contexts []string) string {
	if len(contexts) == 0 {
		return answerNoRelevant
	}
	limit := 3
	if len(contexts) < limit {
		limit = len(contexts)
	}
	combined := strings.Join(contexts[:limit], "\n\n")
	if len(combined) > 1500 {
		combined = combined[:1500]
	}
	return "Based on the available knowledge:\n\n" + combined
}
