package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/curatorhq/curator/internal/api"
	"github.com/curatorhq/curator/internal/service"
)

type QueryService interface {
	Retrieve(ctx context.Context, input service.RetrieveInput) (*service.RetrieveResult, error)
}

type QueryHandler struct {
	svc QueryService
}

func NewQueryHandler(svc QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	TopK  int    `json:"top_k"`
	// Absent means the configured threshold; an explicit 0 accepts everything.
	MinRelevance *float64 `json:"min_relevance"`
}

type CitationResponse struct {
	Source     string `json:"source"`
	Author     string `json:"author,omitempty"`
	Filename   string `json:"filename,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	Ts         string `json:"ts"`
	ThreadTs   string `json:"thread_ts,omitempty"`
	Public     bool   `json:"public"`
}

type QueryResponse struct {
	Outcome   string             `json:"outcome"`
	Answer    string             `json:"answer"`
	Sources   []string           `json:"sources,omitempty"`
	Citations []CitationResponse `json:"citations,omitempty"`
	NumDocs   int                `json:"num_docs"`
}

func queryToResponse(result *service.RetrieveResult) *QueryResponse {
	citations := make([]CitationResponse, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = CitationResponse{
			Source:     c.Source,
			Author:     c.Author,
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
			Ts:         c.TimestampKey,
			ThreadTs:   c.ThreadKey,
			Public:     c.Public,
		}
	}
	return &QueryResponse{
		Outcome:   string(result.Outcome),
		Answer:    result.Answer,
		Sources:   result.Sources,
		Citations: citations,
		NumDocs:   len(result.Documents),
	}
}

func parseMode(raw string) (service.QueryMode, bool) {
	switch raw {
	case "", string(service.ModeInternal):
		return service.ModeInternal, true
	case string(service.ModeCustomer):
		return service.ModeCustomer, true
	default:
		return "", false
	}
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.run(w, r, req)
}

// QueryGet serves the same retrieval through query parameters, for quick
// manual checks.
func (h *QueryHandler) QueryGet(w http.ResponseWriter, r *http.Request) {
	req := QueryRequest{
		Query: r.URL.Query().Get("q"),
		Mode:  r.URL.Query().Get("mode"),
	}
	if topK := r.URL.Query().Get("top_k"); topK != "" {
		if parsed, err := strconv.Atoi(topK); err == nil && parsed > 0 {
			req.TopK = parsed
		}
	}
	if raw := r.URL.Query().Get("min_relevance"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			req.MinRelevance = &parsed
		}
	}

	h.run(w, r, req)
}

func (h *QueryHandler) run(w http.ResponseWriter, r *http.Request, req QueryRequest) {
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	mode, ok := parseMode(req.Mode)
	if !ok {
		api.Error(w, http.StatusBadRequest, "invalid mode")
		return
	}

	result, err := h.svc.Retrieve(r.Context(), service.RetrieveInput{
		Query:        req.Query,
		Mode:         mode,
		TopK:         req.TopK,
		MinRelevance: req.MinRelevance,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, queryToResponse(result))
}
