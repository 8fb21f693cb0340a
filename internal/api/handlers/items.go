package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/curatorhq/curator/internal/api"
	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/pagination"
	"github.com/go-chi/chi/v5"
)

type ItemLister interface {
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.KnowledgeItem, string, error)
	GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error)
}

type ItemHandler struct {
	repo ItemLister
}

func NewItemHandler(repo ItemLister) *ItemHandler {
	return &ItemHandler{repo: repo}
}

type ItemResponse struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	HasVector   bool   `json:"has_vector"`
	Source      string `json:"source"`
	Author      string `json:"author,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	Ts          string `json:"ts"`
	ThreadTs    string `json:"thread_ts,omitempty"`
	SourceTruth bool   `json:"source_of_truth"`
	Public      bool   `json:"public"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func itemToResponse(item *domain.KnowledgeItem) *ItemResponse {
	return &ItemResponse{
		ID:          item.ID,
		Text:        item.Text,
		HasVector:   len(item.Vector) > 0,
		Source:      item.Metadata.Source,
		Author:      item.Metadata.Author,
		Filename:    item.Metadata.Filename,
		ChunkIndex:  item.Metadata.ChunkIndex,
		Ts:          item.Metadata.TimestampKey,
		ThreadTs:    item.Metadata.ThreadKey,
		SourceTruth: item.Metadata.SourceOfTruth,
		Public:      item.Metadata.Public,
		CreatedAt:   item.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   item.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

type ItemListResponse struct {
	Items   []*ItemResponse `json:"items"`
	Cursor  string          `json:"cursor,omitempty"`
	HasMore bool            `json:"has_more"`
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	items, nextCursor, err := h.repo.ListWithCursor(r.Context(), cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ItemResponse, len(items))
	for i, item := range items {
		responses[i] = itemToResponse(item)
	}

	api.Success(w, http.StatusOK, ItemListResponse{
		Items:   responses,
		Cursor:  nextCursor,
		HasMore: nextCursor != "",
	})
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	item, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, itemToResponse(item))
}
