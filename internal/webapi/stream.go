package webapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MatheusHenriquePires/S-crm/internal/stream"
)

// getStream serves the live event feed over SSE. The first frame always
// reports the current connection state so a reconnecting client never
// renders from a stale status.
func (s *Server) getStream(c echo.Context) error {
	acc := accountID(c)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	events, cancel := s.hub.Subscribe(acc)
	defer cancel()

	state := s.wa.GetStatus(acc)
	hello := stream.Event{Type: stream.EventConnected, Ts: time.Now().UnixMilli()}
	if state.Status != "connected" {
		hello.Type = stream.EventQRRequired
		hello.Reason = state.Status
	}
	if err := writeSSE(res, flusher, hello); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-events:
			if !open {
				return nil
			}
			if err := writeSSE(res, flusher, ev); err != nil {
				return nil
			}
		}
	}
}

func writeSSE(res *echo.Response, flusher http.Flusher, ev stream.Event) error {
	data, err := json.MarshalToString(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
