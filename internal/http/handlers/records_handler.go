// Record HTTP handlers.
//
//   - GET  /groups                      (tracked groups with counts)
//   - GET  /groups/{group}/records      (paginated, optional state filter)
//   - GET  /groups/{group}/tree         (thread forest)
//   - POST /groups/{group}/records      (optimistic local submission)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/services"
	"github.com/tbourn/go-ledger-sync/internal/thread"
	"github.com/tbourn/go-ledger-sync/internal/utils"
)

// ListGroups godoc
// @ID          listGroups
// @Summary     List tracked groups
// @Description Returns every polled group with its pending and confirmed counts and current cycle phase.
// @Tags        Groups
// @Produce     json
// @Success     200  {object}  handlers.ListGroupsResponse
// @Router      /groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	ok(c, http.StatusOK, ListGroupsResponse{Groups: h.svc.Groups(c.Request.Context())})
}

// ListRecords godoc
// @ID          listRecords
// @Summary     List records of a group (paginated)
// @Description Records are ordered by created_at, then id.
// @Tags        Records
// @Produce     json
//
// @Param       group      path   string  true   "Group key"       example(general)
// @Param       state      query  string  false  "pending or confirmed"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(500) default(50)
//
// @Success     200  {object}  handlers.ListRecordsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad state filter"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not tracked"
// @Router      /groups/{group}/records [get]
func (h *Handlers) ListRecords(c *gin.Context) {
	state, valid := parseState(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeInvalidState, "state must be pending or confirmed")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.svc.ListPage(c.Request.Context(), c.Param("group"), state, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListRecordsResponse{
		Records: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetTree godoc
// @ID          getTree
// @Summary     Thread tree of a group
// @Description Roots and replies ordered by created_at, then id. Orphaned replies are roots.
// @Tags        Records
// @Produce     json
// @Param       group  path  string  true  "Group key"  example(general)
// @Success     200  {object}  handlers.TreeResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Group not tracked"
// @Router      /groups/{group}/tree [get]
func (h *Handlers) GetTree(c *gin.Context) {
	group := domain.NormalizeGroupKey(c.Param("group"))
	roots, err := h.svc.Tree(c.Request.Context(), group)
	if err != nil {
		failService(c, err)
		return
	}
	if roots == nil {
		roots = []*thread.Node{}
	}
	ok(c, http.StatusOK, TreeResponse{Group: group, Count: thread.Count(roots), Roots: roots})
}

// SubmitRecord godoc
// @ID          submitRecord
// @Summary     Submit a local pending record
// @Description Registers an optimistic entry that is shown immediately and replaced once the ledger confirms the same id. created_at is stamped by the server. Resubmitting a known id returns 200 with the current record.
// @Tags        Records
// @Accept      json
// @Produce     json
//
// @Param       group  path  string                         true  "Group key"  example(general)
// @Param       body   body  handlers.SubmitRecordRequest  true  "Record"
//
// @Success     201  {object}  domain.Record
// @Success     200  {object}  domain.Record
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid record"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not tracked"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Shutting down"
// @Router      /groups/{group}/records [post]
func (h *Handlers) SubmitRecord(c *gin.Context) {
	var req SubmitRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rec, inserted, err := h.svc.Submit(c.Request.Context(), c.Param("group"), services.SubmitInput{
		ID:       req.ID,
		ParentID: req.ParentID,
		Payload:  req.Payload,
	})
	if err != nil {
		failService(c, err)
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	ok(c, status, rec)
}
