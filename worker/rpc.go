package worker

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
)

// rpcTimeout bounds one management call end to end.
const rpcTimeout = 30 * time.Second

// rpcHandler serves one management procedure.
type rpcHandler func(ctx context.Context, params json.RawMessage) (any, error)

// rpcError is the error half of a reply envelope.
type rpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// rpcReply is the envelope every management reply is wrapped in: exactly one
// of Result or Error is set.
type rpcReply struct {
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

var errMissingParams = errors.New(errors.CodeInvalidConfiguration,
	"missing required call parameters")

type realmStartParams struct {
	ID          string                     `json:"id"`
	Config      *config.Realm              `json:"config"`
	Schemas     map[string]json.RawMessage `json:"schemas,omitempty"`
	EnableTrace bool                       `json:"enable_trace,omitempty"`
}

type realmStopParams struct {
	ID            string `json:"id"`
	CloseSessions bool   `json:"close_sessions,omitempty"`
}

type realmParams struct {
	ID string `json:"id"`
}

type roleStartParams struct {
	ID     string       `json:"id"`
	RoleID string       `json:"role_id"`
	Config *config.Role `json:"config"`
}

type roleStopParams struct {
	ID     string `json:"id"`
	RoleID string `json:"role_id"`
}

type uplinkStartParams struct {
	RealmID  string         `json:"realm_id"`
	UplinkID string         `json:"uplink_id"`
	Config   *config.Uplink `json:"config"`
}

type uplinkStopParams struct {
	RealmID  string `json:"realm_id"`
	UplinkID string `json:"uplink_id"`
}

type componentStartParams struct {
	ID     string            `json:"id"`
	Config *config.Component `json:"config"`
	Caller string            `json:"caller,omitempty"`
}

type componentStopParams struct {
	ID string `json:"id"`
}

type transportStartParams struct {
	ID     string            `json:"id"`
	Config *config.Transport `json:"config"`
}

type transportStopParams struct {
	ID string `json:"id"`
}

// procedures returns the full management surface, keyed by procedure name.
func (w *RouterWorker) procedures() map[string]rpcHandler {
	return map[string]rpcHandler{
		"get_router_realms": func(context.Context, json.RawMessage) (any, error) {
			return w.GetRealms(), nil
		},
		"start_router_realm": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p realmStartParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.Config == nil {
				return nil, errMissingParams
			}
			return w.StartRealm(ctx, p.ID, p.Config, p.Schemas, p.EnableTrace)
		},
		"stop_router_realm": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p realmStopParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, errMissingParams
			}
			return w.StopRealm(ctx, p.ID, p.CloseSessions)
		},

		"get_router_realm_roles": func(_ context.Context, params json.RawMessage) (any, error) {
			var p realmParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, errMissingParams
			}
			return w.GetRealmRoles(p.ID)
		},
		"start_router_realm_role": func(_ context.Context, params json.RawMessage) (any, error) {
			var p roleStartParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.RoleID == "" || p.Config == nil {
				return nil, errMissingParams
			}
			return w.StartRealmRole(p.ID, p.RoleID, p.Config)
		},
		"stop_router_realm_role": func(_ context.Context, params json.RawMessage) (any, error) {
			var p roleStopParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.RoleID == "" {
				return nil, errMissingParams
			}
			return w.StopRealmRole(p.ID, p.RoleID)
		},

		"get_router_realm_uplinks": func(_ context.Context, params json.RawMessage) (any, error) {
			var p realmParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, errMissingParams
			}
			return w.GetRealmUplinks(p.ID)
		},
		"start_router_realm_uplink": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p uplinkStartParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.RealmID == "" || p.UplinkID == "" || p.Config == nil {
				return nil, errMissingParams
			}
			return w.StartRealmUplink(ctx, p.RealmID, p.UplinkID, p.Config)
		},
		"stop_router_realm_uplink": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p uplinkStopParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.RealmID == "" || p.UplinkID == "" {
				return nil, errMissingParams
			}
			return w.StopRealmUplink(ctx, p.RealmID, p.UplinkID)
		},

		"get_router_components": func(context.Context, json.RawMessage) (any, error) {
			return w.GetComponents(), nil
		},
		"start_router_component": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p componentStartParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.Config == nil {
				return nil, errMissingParams
			}
			return w.StartComponent(ctx, p.ID, p.Config, p.Caller)
		},
		"stop_router_component": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p componentStopParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, errMissingParams
			}
			return w.StopComponent(ctx, p.ID)
		},

		"get_router_transports": func(context.Context, json.RawMessage) (any, error) {
			return w.GetTransports(), nil
		},
		"start_router_transport": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p transportStartParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" || p.Config == nil {
				return nil, errMissingParams
			}
			return w.StartTransport(ctx, p.ID, p.Config)
		},
		"stop_router_transport": func(ctx context.Context, params json.RawMessage) (any, error) {
			var p transportStopParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.ID == "" {
				return nil, errMissingParams
			}
			return w.StopTransport(ctx, p.ID)
		},
	}
}

// RegisterProcedures subscribes every management procedure under the worker
// prefix as a request/reply endpoint.
func (w *RouterWorker) RegisterProcedures() error {
	if w.nc == nil {
		return errors.New(errors.CodeInvalidConfiguration,
			"cannot register management procedures without a connection")
	}

	for name, handler := range w.procedures() {
		subject := w.prefix + "." + name
		handler := handler
		sub, err := w.nc.Subscribe(subject, func(msg *nats.Msg) {
			w.serveRPC(msg, handler)
		})
		if err != nil {
			w.unsubscribeAll()
			return errors.Wrap(err, errors.CodeRuntime,
				"RouterWorker", "RegisterProcedures", "subscribing "+subject)
		}
		w.subMu.Lock()
		w.subs = append(w.subs, sub)
		w.subMu.Unlock()
	}

	w.logger.Info("management procedures registered", "prefix", w.prefix)
	return nil
}

func (w *RouterWorker) serveRPC(msg *nats.Msg, handler rpcHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	result, err := w.invoke(ctx, msg.Subject, handler, msg.Data)

	var reply rpcReply
	if err != nil {
		reply.Error = &rpcError{
			Error:   string(errors.CodeOf(err)),
			Message: err.Error(),
		}
	} else {
		reply.Result = result
	}

	data, err := json.Marshal(reply)
	if err != nil {
		w.logger.Error("management reply encoding failed", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		w.logger.Debug("management reply delivery failed", "error", err)
	}
}

// invoke runs one management handler with panic containment. A handler that
// panics must fail its own call, not take down every realm and transport the
// worker is running.
func (w *RouterWorker) invoke(ctx context.Context, subject string, handler rpcHandler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			w.logger.Error("management call panicked",
				"subject", subject, "panic", r, "stack", string(buf[:n]))
			result = nil
			err = errors.New(errors.CodeRuntime, "internal error in management call: %v", r)
		}
	}()
	return handler(ctx, params)
}

func (w *RouterWorker) unsubscribeAll() {
	w.subMu.Lock()
	subs := w.subs
	w.subs = nil
	w.subMu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errMissingParams
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfiguration,
			"RouterWorker", "decodeParams", "decoding call parameters")
	}
	return nil
}
