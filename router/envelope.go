package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Envelope message types exchanged with clients attached through the web
// transports (websocket, longpoll, rawsocket).
const (
	MsgJoin        = "join"
	MsgWelcome     = "welcome"
	MsgPublish     = "publish"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgCall        = "call"
	MsgAck         = "ack"
	MsgEvent       = "event"
	MsgResult      = "result"
	MsgError       = "error"
)

// ClientEnvelope is a message received from a client.
type ClientEnvelope struct {
	Type      string          `json:"type"`
	Realm     string          `json:"realm,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Procedure string          `json:"procedure,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerEnvelope is a message sent back to a client.
type ServerEnvelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ErrorEnvelope builds an error reply.
func ErrorEnvelope(message string) ServerEnvelope {
	return ServerEnvelope{Type: MsgError, Error: message}
}

// EnvelopeBridge translates client envelopes into routing operations on one
// session. Events from subscriptions are handed to emit, which the owning
// transport uses to queue or push them to the client.
type EnvelopeBridge struct {
	session Session
	emit    func(ServerEnvelope)

	mu   sync.Mutex
	subs map[string]Unsubscribe
}

// NewEnvelopeBridge wires a bridge over an already-attached session.
func NewEnvelopeBridge(session Session, emit func(ServerEnvelope)) *EnvelopeBridge {
	return &EnvelopeBridge{
		session: session,
		emit:    emit,
		subs:    make(map[string]Unsubscribe),
	}
}

// Handle processes one client envelope and returns the direct reply.
func (b *EnvelopeBridge) Handle(ctx context.Context, msg ClientEnvelope) ServerEnvelope {
	switch msg.Type {
	case MsgPublish:
		if msg.Topic == "" {
			return ErrorEnvelope("publish requires a topic")
		}
		if err := b.session.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			return ErrorEnvelope(err.Error())
		}
		return ServerEnvelope{Type: MsgAck, Topic: msg.Topic}

	case MsgSubscribe:
		if msg.Topic == "" {
			return ErrorEnvelope("subscribe requires a topic")
		}
		if err := b.subscribe(msg.Topic); err != nil {
			return ErrorEnvelope(err.Error())
		}
		return ServerEnvelope{Type: MsgAck, Topic: msg.Topic}

	case MsgUnsubscribe:
		if err := b.unsubscribe(msg.Topic); err != nil {
			return ErrorEnvelope(err.Error())
		}
		return ServerEnvelope{Type: MsgAck, Topic: msg.Topic}

	case MsgCall:
		if msg.Procedure == "" {
			return ErrorEnvelope("call requires a procedure")
		}
		result, err := b.session.Call(ctx, msg.Procedure, msg.Payload)
		if err != nil {
			return ErrorEnvelope(err.Error())
		}
		return ServerEnvelope{Type: MsgResult, Topic: msg.Procedure, Payload: result}

	default:
		return ErrorEnvelope(fmt.Sprintf("unknown message type '%s'", msg.Type))
	}
}

func (b *EnvelopeBridge) subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; ok {
		return nil
	}
	unsub, err := b.session.Subscribe(topic, func(topic string, payload []byte) {
		b.emit(ServerEnvelope{Type: MsgEvent, Topic: topic, Payload: payload})
	})
	if err != nil {
		return err
	}
	b.subs[topic] = unsub
	return nil
}

func (b *EnvelopeBridge) unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	unsub, ok := b.subs[topic]
	if !ok {
		return nil
	}
	delete(b.subs, topic)
	return unsub()
}

// Close drops all subscriptions. The session itself is torn down by the
// owning transport.
func (b *EnvelopeBridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]Unsubscribe)
	b.mu.Unlock()
	for _, unsub := range subs {
		_ = unsub()
	}
}
