// Package router defines the interfaces the worker consumes from the
// routing core (realm routers, session attachment, uplink bridges) together
// with the NATS-backed default implementation. A realm is realized as a
// subject namespace on the node's NATS connection; the matching and dispatch
// algorithm itself therefore stays outside this codebase.
package router
