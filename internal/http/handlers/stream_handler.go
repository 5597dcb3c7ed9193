package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/http/middleware"
	"github.com/tbourn/go-ledger-sync/internal/thread"
)

// StreamHeartbeat is the interval between keep-alive events on idle streams.
var StreamHeartbeat = 15 * time.Second

// StreamTree godoc
// @ID          streamTree
// @Summary     Live thread tree (server-sent events)
// @Description Sends a "tree" event with the current tree on connect and after every full reconciliation cycle or local submission. Slow readers only receive the latest tree. A "ping" event is sent on idle connections.
// @Tags        Records
// @Produce     text/event-stream
// @Param       group  path  string  true  "Group key"  example(general)
// @Success     200  {object}  handlers.TreeResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Group not tracked"
// @Router      /groups/{group}/stream [get]
func (h *Handlers) StreamTree(c *gin.Context) {
	group := domain.NormalizeGroupKey(c.Param("group"))

	// Capacity one: a newer tree replaces an undelivered older one.
	updates := make(chan []*thread.Node, 1)
	unsubscribe, err := h.svc.Subscribe(group, func(tree []*thread.Node) {
		for {
			select {
			case updates <- tree:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		failService(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	lg := middleware.LoggerFrom(c)
	lg.Debug().Str("group", group).Msg("stream opened")

	heartbeat := time.NewTicker(StreamHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			lg.Debug().Str("group", group).Msg("stream closed")
			return
		case tree := <-updates:
			if tree == nil {
				tree = []*thread.Node{}
			}
			c.SSEvent("tree", TreeResponse{Group: group, Count: thread.Count(tree), Roots: tree})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}
