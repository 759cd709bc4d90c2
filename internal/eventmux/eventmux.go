// Package eventmux reads the instrument's push event stream, stores each
// event and fans it out to any number of subscribers.
package eventmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/incubator.report/internal/events"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 16

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Source opens the push event stream. *hardware.Client satisfies it.
type Source interface {
	OpenEventStream(ctx context.Context) (io.ReadCloser, error)
}

// Store persists received events. *db.DB satisfies it.
type Store interface {
	RecordEvent(ctx context.Context, e events.Event) (string, error)
}

// Mux distributes pushed events. The zero value is not usable; use New.
type Mux struct {
	store   Store
	clock   timeutil.Clock
	metrics *monitoring.Metrics

	subscriberMu sync.Mutex
	subscribers  map[string]chan events.Event
	closed       bool
}

// New creates a mux. store may be nil, in which case events are only fanned
// out.
func New(store Store, clock timeutil.Clock, metrics *monitoring.Metrics) *Mux {
	return &Mux{
		store:       store,
		clock:       clock,
		metrics:     metrics,
		subscribers: make(map[string]chan events.Event),
	}
}

// Subscribe returns an ID and a channel that receives every event published
// after the call. The channel is closed by Unsubscribe or Close.
func (m *Mux) Subscribe() (string, <-chan events.Event) {
	id := uuid.NewString()
	ch := make(chan events.Event, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Subscribers returns the current subscriber count.
func (m *Mux) Subscribers() int {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	return len(m.subscribers)
}

// Publish stores e and delivers it to subscribers without blocking; a
// subscriber whose buffer is full misses the event.
func (m *Mux) Publish(ctx context.Context, e events.Event) {
	m.metrics.PushEvent()
	if m.store != nil {
		id, err := m.store.RecordEvent(ctx, e)
		if err != nil {
			monitoring.Logf("eventmux: %v", err)
		} else {
			e.ID = id
		}
	}
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Consume reads events from r until EOF, an error or ctx is done. Each line
// is either a bare JSON object (NDJSON) or an SSE "data:" line; SSE comments,
// other SSE fields and undecodable lines are skipped. It returns the number
// of events published.
func (m *Mux) Consume(ctx context.Context, r io.Reader) (int, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		payload, ok := payloadOf(scan.Text())
		if !ok {
			continue
		}
		e, err := events.NormalizeJSON([]byte(payload))
		if err != nil {
			monitoring.Logf("eventmux: skipping event: %v", err)
			continue
		}
		m.Publish(ctx, e)
		n++
	}
	if err := scan.Err(); err != nil {
		return n, fmt.Errorf("event stream read failed: %w", err)
	}
	return n, nil
}

func payloadOf(line string) (string, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "", strings.HasPrefix(line, ":"):
		return "", false
	case strings.HasPrefix(line, "data:"):
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	case strings.HasPrefix(line, "{"):
	default:
		// event:, id:, retry: and anything else
		return "", false
	}
	return line, strings.HasPrefix(line, "{")
}

// Run keeps a stream from src open until ctx is cancelled, reconnecting
// with exponential backoff after failures or when the stream ends.
func (m *Mux) Run(ctx context.Context, src Source) error {
	backoff := minBackoff
	for {
		stream, err := src.OpenEventStream(ctx)
		if err == nil {
			var n int
			n, err = m.Consume(ctx, stream)
			stream.Close()
			if n > 0 {
				backoff = minBackoff
			}
			if err == nil {
				err = io.EOF
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, io.EOF) {
			monitoring.Logf("eventmux: stream error, retrying in %s: %v", backoff, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (m *Mux) Close() {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// AttachAdminRoutes serves a live server-sent-events tail of pushed events
// at /debug/events-tail. Debug routes are reachable only from localhost or
// over Tailscale.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("events-tail", m.serveTail)
}

func (m *Mux) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case e, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(events.Annotated{Event: e, Description: events.Format(e), NearestIndex: -1})
			if err != nil {
				monitoring.Logf("eventmux: failed to encode event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
