package api

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /api/v1/events/stream to WebSocket and delegates to
// the StreamManager.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.stream == nil {
		return c.JSON(http.StatusServiceUnavailable, &ErrorResponse{
			Error:     "event stream not available",
			Timestamp: time.Now().UTC(),
		})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// TODO: replace with an OriginPatterns allowlist once the deploy
		// config grows an allowed-origins setting.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.stream.HandleConnection(c.Request().Context(), conn)
	return nil
}
