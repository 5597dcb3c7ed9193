// Package handlers implements the HTTP endpoints of the reconciled view.
//
// Handlers are transport-thin: they parse path and query input, call the
// sync service, and translate its errors into the stable error envelope.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/reconcile"
	"github.com/tbourn/go-ledger-sync/internal/services"
	"github.com/tbourn/go-ledger-sync/internal/thread"
	"github.com/tbourn/go-ledger-sync/internal/utils"
)

// SyncService is the application surface consumed by the handlers.
// Implementations must be safe for concurrent use.
type SyncService interface {
	Groups(ctx context.Context) []services.GroupSummary
	ListPage(ctx context.Context, group string, state *domain.State, page, pageSize int) ([]domain.Record, int, error)
	Tree(ctx context.Context, group string) ([]*thread.Node, error)
	Submit(ctx context.Context, group string, in services.SubmitInput) (domain.Record, bool, error)
	Subscribe(group string, fn reconcile.Listener) (func(), error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	svc SyncService
}

// New constructs Handlers bound to svc.
func New(svc SyncService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// ListGroupsResponse lists the tracked groups.
type ListGroupsResponse struct {
	Groups []services.GroupSummary `json:"groups"`
}

// ListRecordsResponse wraps a page of records.
type ListRecordsResponse struct {
	Records    []domain.Record `json:"records"`
	Pagination Pagination      `json:"pagination"`
}

// TreeResponse is the organized thread forest of a group.
type TreeResponse struct {
	Group string         `json:"group"`
	Count int            `json:"count"`
	Roots []*thread.Node `json:"roots"`
}

// SubmitRecordRequest is the JSON payload for an optimistic submission.
type SubmitRecordRequest struct {
	// ID is the content-addressed identifier the ledger will report.
	ID       string `json:"id" binding:"required" example:"9f2c0e5b7a"`
	ParentID string `json:"parent_id,omitempty" example:"51aa03c4de"`
	// Payload is stored verbatim; it must be valid JSON.
	Payload json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
}

//
// Helpers
//

// clampPagination bounds the page and page_size query parameters.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 50
		maxPageSize     = 500
	)
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	pageSize = min(max(pageSize, 1), maxPageSize)
	return page, pageSize
}

// parseState reads the optional state filter.
func parseState(c *gin.Context) (*domain.State, bool) {
	v := strings.TrimSpace(c.Query("state"))
	if v == "" {
		return nil, true
	}
	st, ok := domain.ParseState(v)
	if !ok {
		return nil, false
	}
	return &st, true
}

// failService maps service errors to HTTP responses.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownGroup):
		fail(c, http.StatusNotFound, ErrCodeUnknownGroup, "group is not tracked")
	case errors.Is(err, services.ErrInvalidRecord):
		fail(c, http.StatusBadRequest, ErrCodeInvalidRecord, err.Error())
	case errors.Is(err, services.ErrPayloadTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
	case errors.Is(err, services.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "reconciliation is shutting down")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
