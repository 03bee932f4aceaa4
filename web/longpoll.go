package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/router"
)

// Long-poll defaults, applied when the path options leave them unset.
const (
	defaultRequestTimeout     = 10 * time.Second
	defaultSessionTimeout     = 30 * time.Second
	defaultQueueLimitBytes    = 128 * 1024
	defaultQueueLimitMessages = 100
)

func (b *Builder) buildLongPoll(cfg *config.Path, _ bool) (http.Handler, error) {
	opts := cfg.LongPoll
	if opts == nil {
		opts = &config.LongPollOptions{}
	}

	lp := &longPollResource{
		deps:               b.deps,
		realm:              cfg.Realm,
		role:               cfg.Role,
		requestTimeout:     durationOr(opts.RequestTimeout, defaultRequestTimeout),
		sessionTimeout:     durationOr(opts.SessionTimeout, defaultSessionTimeout),
		queueLimitBytes:    intOr(opts.QueueLimitBytes, defaultQueueLimitBytes),
		queueLimitMessages: intOr(opts.QueueLimitMessages, defaultQueueLimitMessages),
		transports:         make(map[string]*longPollTransport),
		done:               make(chan struct{}),
	}
	go lp.reap()
	b.closers = append(b.closers, lp.shutdown)

	return normalizePath(lp), nil
}

func durationOr(d config.Duration, fallback time.Duration) time.Duration {
	if d.Std() > 0 {
		return d.Std()
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// longPollResource serves the HTTP long-poll transport: POST open creates a
// routing session, and per-transport receive/send/close sub-resources carry
// envelope traffic until the client closes or goes idle.
type longPollResource struct {
	deps               Deps
	realm              string
	role               string
	requestTimeout     time.Duration
	sessionTimeout     time.Duration
	queueLimitBytes    int
	queueLimitMessages int

	mu         sync.Mutex
	transports map[string]*longPollTransport
	done       chan struct{}
	closed     bool
}

// longPollTransport is the server side of one long-poll client.
type longPollTransport struct {
	id      string
	session router.Session
	bridge  *router.EnvelopeBridge

	mu         sync.Mutex
	queue      []router.ServerEnvelope
	queueBytes int
	notify     chan struct{}
	killed     bool
	lastActive time.Time
}

func (lp *longPollResource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(segs) == 1 && segs[0] == "open":
		lp.open(w, r)
	case len(segs) == 2:
		t := lp.transport(segs[0])
		if t == nil {
			serveErrorPage(w, http.StatusNotFound, "no transport with this ID")
			return
		}
		switch segs[1] {
		case "receive":
			lp.receive(w, r, t)
		case "send":
			lp.send(w, r, t)
		case "close":
			lp.close(w, t)
		default:
			serveErrorPage(w, http.StatusNotFound, "no resource at this path")
		}
	default:
		serveErrorPage(w, http.StatusNotFound, "no resource at this path")
	}
}

func (lp *longPollResource) open(w http.ResponseWriter, r *http.Request) {
	var req router.ClientEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeRESTError(w, http.StatusBadRequest, "malformed open request")
		return
	}

	realm := lp.realm
	if realm == "" {
		realm = req.Realm
	}
	if realm == "" {
		writeRESTError(w, http.StatusBadRequest, "open request must name a realm")
		return
	}

	role := lp.role
	if role == "" {
		role = "anonymous"
	}
	sess := lp.deps.NewSession(realm)
	if err := lp.deps.Sessions.Add(r.Context(), sess, role); err != nil {
		writeRESTError(w, http.StatusInternalServerError, err.Error())
		return
	}

	t := &longPollTransport{
		id:         uuid.NewString(),
		session:    sess,
		notify:     make(chan struct{}, 1),
		lastActive: time.Now(),
	}
	t.bridge = router.NewEnvelopeBridge(sess, func(msg router.ServerEnvelope) {
		lp.enqueue(t, msg)
	})

	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		_ = lp.deps.Sessions.Remove(sess)
		writeRESTError(w, http.StatusServiceUnavailable, "transport shutting down")
		return
	}
	lp.transports[t.id] = t
	lp.mu.Unlock()

	lp.deps.Logger.Debug("longpoll transport opened", "transport", t.id, "realm", realm)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	writeJSON(w, map[string]string{"transport": t.id, "session": sess.ID()})
}

func (lp *longPollResource) receive(w http.ResponseWriter, r *http.Request, t *longPollTransport) {
	deadline := time.NewTimer(lp.requestTimeout)
	defer deadline.Stop()

	for {
		msgs := t.drain()
		if msgs != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			writeJSON(w, msgs)
			return
		}
		select {
		case <-t.notify:
		case <-deadline.C:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			writeJSON(w, []router.ServerEnvelope{})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (lp *longPollResource) send(w http.ResponseWriter, r *http.Request, t *longPollTransport) {
	var msg router.ClientEnvelope
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeRESTError(w, http.StatusBadRequest, "request body must be a single envelope message")
		return
	}
	lp.enqueue(t, t.bridge.Handle(r.Context(), msg))
	w.WriteHeader(http.StatusAccepted)
}

func (lp *longPollResource) close(w http.ResponseWriter, t *longPollTransport) {
	lp.drop(t)
	w.WriteHeader(http.StatusOK)
}

func (lp *longPollResource) transport(id string) *longPollTransport {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	t := lp.transports[id]
	if t != nil {
		t.touch()
	}
	return t
}

// enqueue appends a message to the transport's queue. A client that lets its
// queue grow past the configured limits is dropped.
func (lp *longPollResource) enqueue(t *longPollTransport, msg router.ServerEnvelope) {
	t.mu.Lock()
	if t.killed {
		t.mu.Unlock()
		return
	}
	size := len(msg.Payload) + len(msg.Topic) + len(msg.Error)
	t.queue = append(t.queue, msg)
	t.queueBytes += size
	over := len(t.queue) > lp.queueLimitMessages || t.queueBytes > lp.queueLimitBytes
	t.mu.Unlock()

	if over {
		lp.deps.Logger.Warn("longpoll queue limit exceeded, dropping transport",
			"transport", t.id)
		lp.drop(t)
		return
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (lp *longPollResource) drop(t *longPollTransport) {
	lp.mu.Lock()
	delete(lp.transports, t.id)
	lp.mu.Unlock()

	t.mu.Lock()
	already := t.killed
	t.killed = true
	t.mu.Unlock()
	if already {
		return
	}

	t.bridge.Close()
	_ = lp.deps.Sessions.Remove(t.session)
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// reap drops transports that have been idle past the session timeout.
func (lp *longPollResource) reap() {
	ticker := time.NewTicker(lp.sessionTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-lp.done:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-lp.sessionTimeout)
		lp.mu.Lock()
		var idle []*longPollTransport
		for _, t := range lp.transports {
			if t.idleSince(cutoff) {
				idle = append(idle, t)
			}
		}
		lp.mu.Unlock()

		for _, t := range idle {
			lp.deps.Logger.Debug("longpoll transport timed out", "transport", t.id)
			lp.drop(t)
		}
	}
}

// shutdown stops the reaper and drops all live transports.
func (lp *longPollResource) shutdown() {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return
	}
	lp.closed = true
	close(lp.done)
	live := make([]*longPollTransport, 0, len(lp.transports))
	for _, t := range lp.transports {
		live = append(live, t)
	}
	lp.mu.Unlock()

	for _, t := range live {
		lp.drop(t)
	}
}

func (t *longPollTransport) touch() {
	t.mu.Lock()
	t.lastActive = time.Now()
	t.mu.Unlock()
}

func (t *longPollTransport) idleSince(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActive.Before(cutoff)
}

// drain returns and clears the queued messages, or nil when empty.
func (t *longPollTransport) drain() []router.ServerEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	msgs := t.queue
	t.queue = nil
	t.queueBytes = 0
	return msgs
}
