package rpc

import (
	"context"
	"fmt"
	"sort"

	"github.com/samsaffron/term-llm/internal/llm"
)

const defaultModelListLimit = 50

// ModelLister is satisfied by any llm.Provider whose ListModels is wired up
// (AnthropicProvider, OpenAICompatProvider).
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// ModelListParams are the decoded params of a model/list request.
type ModelListParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ModelListResult is the decoded result of a model/list response.
type ModelListResult struct {
	Data       []llm.ModelInfo `json:"data"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// RegisterModelLister makes lister's models visible to model/list, grouped
// under providerName for conflict-free IDs.
func (s *Server) RegisterModelLister(providerName string, lister ModelLister) {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	s.modelListers[providerName] = lister
}

// ModelList returns one page of the combined, ID-sorted model catalog
// across every registered lister. A non-empty cursor must be the ID of a
// model already returned by a prior page; anything else is rejected as
// INVALID_REQUEST_ERROR_CODE so a client can't be handed a silently wrong
// page by passing a cursor from a different catalog snapshot.
func (s *Server) ModelList(ctx context.Context, params ModelListParams) (ModelListResult, *Error) {
	all, err := s.allModels(ctx)
	if err != nil {
		return ModelListResult{}, &Error{Code: InternalErrorCode, Message: err.Error()}
	}

	start := 0
	if params.Cursor != "" {
		idx := indexOfModelID(all, params.Cursor)
		if idx < 0 {
			return ModelListResult{}, &Error{
				Code:    InvalidRequestErrorCode,
				Message: fmt.Sprintf("invalid cursor: %q", params.Cursor),
			}
		}
		start = idx + 1
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultModelListLimit
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	page := all[start:end]

	var next string
	if end < len(all) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return ModelListResult{Data: page, NextCursor: next}, nil
}

func (s *Server) allModels(ctx context.Context) ([]llm.ModelInfo, error) {
	s.modelsMu.RLock()
	listers := make(map[string]ModelLister, len(s.modelListers))
	for name, l := range s.modelListers {
		listers[name] = l
	}
	s.modelsMu.RUnlock()

	var all []llm.ModelInfo
	for _, lister := range listers {
		models, err := lister.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, models...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func indexOfModelID(models []llm.ModelInfo, id string) int {
	for i, m := range models {
		if m.ID == id {
			return i
		}
	}
	return -1
}
