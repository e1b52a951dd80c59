package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/events"
)

// cloudEvent is the CloudEvents 1.0 envelope shape the /v1/events stream
// puts on the wire, wrapping one internal events.Event.
type cloudEvent struct {
	SpecVersion string            `json:"specversion"`
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Type        string            `json:"type"`
	Time        string            `json:"time"`
	Subject     string            `json:"subject,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

const eventSource = "oms://api"

// handleEventStream subscribes to the broker and streams every event as
// a CloudEvents-shaped JSON object, one per Server-Sent Events "data:"
// line, until the client disconnects.
func (s *Server) handleEventStream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sub := s.deps.Broker.Subscribe()
	defer s.deps.Broker.Unsubscribe(sub)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(toCloudEvent(evt))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func toCloudEvent(evt *events.Event) cloudEvent {
	return cloudEvent{
		SpecVersion: "1.0",
		ID:          evt.ID,
		Source:      eventSource,
		Type:        string(evt.Type),
		Time:        evt.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		Subject:     evt.Metadata["rid"],
		Data:        evt.Metadata,
	}
}
