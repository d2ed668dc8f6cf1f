package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"progresskit/core"
	"progresskit/realtime"
)

const (
	writeWait  = 5 * time.Second
	bufferSize = 256
)

// Options tunes the stream handler.
type Options struct {
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// Handler returns an http.Handler that upgrades to WebSocket and streams events from the hub.
// The optional query parameters learner and types narrow the stream.
func Handler(hub *realtime.Hub) http.Handler {
	return HandlerWithOptions(hub, Options{})
}

func HandlerWithOptions(hub *realtime.Hub, opts Options) http.Handler {
	check := opts.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: check}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.SubscribeFiltered(bufferSize, filter)
		defer hub.Unsubscribe(id)

		// The read side only exists to notice the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					log.Debug("websocket write failed", "learner", filter.Learner, "error", err)
					return
				}
			}
		}
	})
}

func parseFilter(r *http.Request) (realtime.Filter, error) {
	q := r.URL.Query()
	var f realtime.Filter
	if raw := q.Get("learner"); raw != "" {
		id, err := core.NormalizeLearnerID(core.LearnerID(raw))
		if err != nil {
			return f, err
		}
		f.Learner = id
	}
	if raw := q.Get("types"); raw != "" {
		known := map[core.EventType]bool{}
		for _, t := range core.EventTypes() {
			known[t] = true
		}
		f.Types = map[core.EventType]bool{}
		for _, part := range strings.Split(raw, ",") {
			t := core.EventType(strings.TrimSpace(part))
			if !known[t] {
				return f, core.Errorf("websocket", core.ErrInvalidInput, "unknown event type %q", part)
			}
			f.Types[t] = true
		}
	}
	return f, nil
}
