package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/router"
)

// joinTimeout bounds how long a websocket client may take to send its join
// envelope after the upgrade.
const joinTimeout = 10 * time.Second

func (b *Builder) buildWebSocket(cfg *config.Path, _ bool) (http.Handler, error) {
	return exactPath(&websocketResource{
		deps:  b.deps,
		realm: cfg.Realm,
		role:  cfg.Role,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the reverse proxy in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}), nil
}

// websocketResource upgrades HTTP connections and runs one routing session
// per connection. The client picks its realm in the join envelope unless the
// resource pins one.
type websocketResource struct {
	deps     Deps
	realm    string
	role     string
	upgrader websocket.Upgrader
}

func (ws *websocketResource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	sess, err := ws.join(conn)
	if err != nil {
		ws.deps.Logger.Debug("websocket join failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer func() { _ = ws.deps.Sessions.Remove(sess) }()

	var writeMu sync.Mutex
	write := func(msg router.ServerEnvelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(msg)
	}

	bridge := router.NewEnvelopeBridge(sess, write)
	defer bridge.Close()

	welcome, _ := json.Marshal(map[string]string{"session": sess.ID()})
	write(router.ServerEnvelope{Type: router.MsgWelcome, Topic: sess.RealmURI(), Payload: welcome})

	for {
		var msg router.ClientEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		write(bridge.Handle(r.Context(), msg))
	}
}

// join reads the join envelope, resolves the realm and attaches a session.
func (ws *websocketResource) join(conn *websocket.Conn) (router.Session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var msg router.ClientEnvelope
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	realm := ws.realm
	if realm == "" {
		realm = msg.Realm
	}
	if msg.Type != router.MsgJoin || realm == "" {
		_ = conn.WriteJSON(router.ErrorEnvelope("first message must be a join naming a realm"))
		return nil, errNoJoin
	}
	if ws.realm != "" && msg.Realm != "" && msg.Realm != ws.realm {
		_ = conn.WriteJSON(router.ErrorEnvelope("realm not served on this path"))
		return nil, errNoJoin
	}

	role := ws.role
	if role == "" {
		role = "anonymous"
	}
	sess := ws.deps.NewSession(realm)
	if err := ws.deps.Sessions.Add(context.Background(), sess, role); err != nil {
		_ = conn.WriteJSON(router.ErrorEnvelope(err.Error()))
		return nil, err
	}
	return sess, nil
}

var errNoJoin = &joinError{}

type joinError struct{}

func (*joinError) Error() string { return "websocket client did not join a realm" }
