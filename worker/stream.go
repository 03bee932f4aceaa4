package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/router"
	"github.com/Paranaix/crossbar/web"
)

// maxRawFrame bounds one length-prefixed rawsocket frame.
const maxRawFrame = 1 << 20

// tcpTransport runs one connection handler per accepted connection and
// tracks live connections so close can drop them.
type tcpTransport struct {
	logger *slog.Logger
	handle func(conn net.Conn)

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func newTCPTransport(logger *slog.Logger, handle func(net.Conn)) *tcpTransport {
	return &tcpTransport{
		logger: logger,
		handle: handle,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (t *tcpTransport) serve(l net.Listener) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = l.Close()
		return
	}
	t.listener = l
	t.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conns[conn] = struct{}{}
		t.wg.Add(1)
		t.mu.Unlock()

		go func() {
			defer func() {
				t.mu.Lock()
				delete(t.conns, conn)
				t.mu.Unlock()
				_ = conn.Close()
				t.wg.Done()
			}()
			t.handle(conn)
		}()
	}
}

func (t *tcpTransport) close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	listener := t.listener
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildRawSocketTransport serves length-prefixed framed envelope traffic:
// each frame is a 4-byte big-endian length followed by one JSON envelope.
// The first frame must be a join naming a realm.
func buildRawSocketTransport(w *RouterWorker, _ *config.Transport) (transportServer, *web.Builder, error) {
	return newTCPTransport(w.logger, w.handleRawSocket), nil, nil
}

func (w *RouterWorker) handleRawSocket(conn net.Conn) {
	r := bufio.NewReader(conn)

	var join router.ClientEnvelope
	if err := readRawFrame(r, &join); err != nil {
		return
	}
	if join.Type != router.MsgJoin || join.Realm == "" {
		_ = writeRawFrame(conn, router.ErrorEnvelope("first frame must be a join naming a realm"))
		return
	}

	sess := router.NewLocalSession(join.Realm, w.logger)
	if err := w.sessions.Add(context.Background(), sess, "anonymous"); err != nil {
		_ = writeRawFrame(conn, router.ErrorEnvelope(err.Error()))
		return
	}
	defer func() { _ = w.sessions.Remove(sess) }()

	var writeMu sync.Mutex
	write := func(msg router.ServerEnvelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = writeRawFrame(conn, msg)
	}

	bridge := router.NewEnvelopeBridge(sess, write)
	defer bridge.Close()

	welcome, _ := json.Marshal(map[string]string{"session": sess.ID()})
	write(router.ServerEnvelope{Type: router.MsgWelcome, Topic: join.Realm, Payload: welcome})

	for {
		var msg router.ClientEnvelope
		if err := readRawFrame(r, &msg); err != nil {
			return
		}
		write(bridge.Handle(context.Background(), msg))
	}
}

func readRawFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxRawFrame {
		return fmt.Errorf("invalid frame size %d", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return err
	}
	return json.Unmarshal(frame, v)
}

func writeRawFrame(w io.Writer, v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// buildFlashPolicyTransport answers the flash policy-file request with a
// cross-domain policy document and closes the connection.
func buildFlashPolicyTransport(w *RouterWorker, cfg *config.Transport) (transportServer, *web.Builder, error) {
	domain := cfg.AllowedDomain
	if domain == "" {
		domain = "*"
	}
	ports := "*"
	if len(cfg.AllowedPorts) > 0 {
		strs := make([]string, len(cfg.AllowedPorts))
		for i, p := range cfg.AllowedPorts {
			strs[i] = strconv.Itoa(p)
		}
		ports = strings.Join(strs, ",")
	}
	policy := fmt.Sprintf(`<?xml version="1.0"?>`+
		`<!DOCTYPE cross-domain-policy SYSTEM "http://www.adobe.com/xml/dtds/cross-domain-policy.dtd">`+
		`<cross-domain-policy><allow-access-from domain=%q to-ports=%q /></cross-domain-policy>`,
		domain, ports)

	handle := func(conn net.Conn) {
		request, err := bufio.NewReader(conn).ReadString(0)
		if err != nil && len(request) == 0 {
			return
		}
		if !strings.Contains(request, "<policy-file-request/>") {
			return
		}
		_, _ = conn.Write(append([]byte(policy), 0))
	}
	return newTCPTransport(w.logger, handle), nil, nil
}

// buildStreamTesteeTransport echoes every byte back, for load testing.
func buildStreamTesteeTransport(w *RouterWorker, _ *config.Transport) (transportServer, *web.Builder, error) {
	handle := func(conn net.Conn) {
		_, _ = io.Copy(conn, conn)
	}
	return newTCPTransport(w.logger, handle), nil, nil
}

// buildWebSocketTesteeTransport echoes websocket messages back, for load
// testing.
func buildWebSocketTesteeTransport(w *RouterWorker, _ *config.Transport) (transportServer, *web.Builder, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	handler := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			kind, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, message); err != nil {
				return
			}
		}
	})
	return newHTTPTransport(handler, w), nil, nil
}
