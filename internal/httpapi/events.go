package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams coordination events as server-sent events until the
// client disconnects.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if a.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}

	// The server-wide write timeout would cut the stream mid-subscription;
	// lift the deadline for this connection only. The controller also
	// reaches flush support through the middleware writer wrappers.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the headers go out so an event published right
	// after the client sees 200 is not lost.
	events := a.deps.Events.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}
	for evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
