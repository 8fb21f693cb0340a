package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/curatorhq/curator/internal/api"
	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/service"
)

type IngestionService interface {
	Submit(ctx context.Context, event domain.IngestEvent) (*service.IngestResult, error)
}

// EventHandler accepts normalized inbound events. When an event turns out to
// be an inline question it delegates to the query service; ingestion and
// retrieval share only the store underneath.
type EventHandler struct {
	svc     IngestionService
	queries QueryService
}

func NewEventHandler(svc IngestionService, queries QueryService) *EventHandler {
	return &EventHandler{svc: svc, queries: queries}
}

type EventResponse struct {
	Result  string         `json:"result"`
	Stored  int            `json:"stored,omitempty"`
	Removed int64          `json:"removed,omitempty"`
	Answer  *QueryResponse `json:"answer,omitempty"`
}

func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var event domain.IngestEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if event.Kind == "" {
		api.Error(w, http.StatusBadRequest, "kind is required")
		return
	}
	if err := event.Key().Validate(); err != nil {
		api.Error(w, http.StatusBadRequest, "channelKey and timestampKey are required")
		return
	}

	result, err := h.svc.Submit(r.Context(), event)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := EventResponse{
		Result:  string(result.Outcome),
		Stored:  result.Stored,
		Removed: result.Removed,
	}

	if result.Outcome == service.IngestAsk && h.queries != nil {
		answer, err := h.queries.Retrieve(r.Context(), service.RetrieveInput{
			Query: result.AskQuery,
			Mode:  service.ModeInternal,
		})
		if err != nil {
			api.HandleError(w, err)
			return
		}
		resp.Answer = queryToResponse(answer)
	}

	api.Success(w, http.StatusAccepted, resp)
}
