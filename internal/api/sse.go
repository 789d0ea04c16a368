package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"storyapp/backend/pkg/models"
)

// sseConn adapts an echo response into an eventbus.Conn. Writes are
// serialized because bus publishes and heartbeats come from different
// goroutines.
type sseConn struct {
	mu   sync.Mutex
	resp *echo.Response
}

func (c *sseConn) WriteEvent(event models.WorkflowEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.resp, "data: %s\n\n", payload); err != nil {
		return err
	}
	c.resp.Flush()
	return nil
}

func (c *sseConn) WriteHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprint(c.resp, ": heartbeat\n\n"); err != nil {
		return err
	}
	c.resp.Flush()
	return nil
}

func (c *sseConn) Close() error {
	return nil
}

// Stream serves the workflow event stream over SSE. The retained history
// is replayed first, then live events until the client disconnects.
func (h *Handler) Stream(c echo.Context) error {
	workflowID := c.Param("id")

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	// An immediate comment lets proxies and clients establish the stream.
	fmt.Fprint(resp, ": connected\n\n")
	resp.Flush()

	unsubscribe := h.bus.Subscribe(workflowID, &sseConn{resp: resp})
	defer unsubscribe()

	<-c.Request().Context().Done()
	return nil
}
