// Package crossbar is a message-routing node built on NATS.
//
// A node hosts router workers. Each worker owns a set of realms (isolated
// routing namespaces), the roles and uplinks scoped to those realms, the
// application components it hosts in-process, and the network transports
// that let external clients publish, subscribe and call into a realm.
//
// The packages divide along those lines:
//
//   - config: declarative entity configurations and their validation
//   - errors: classified errors with crossbar.error.* fault codes
//   - router: the routing core: realms, sessions, uplink bridges and the
//     envelope protocol spoken by the byte-oriented transports
//   - web: the composite web transport's resource tree (static, JSON,
//     redirect, CGI, publisher, webhook, caller, upload, websocket,
//     longpoll, schemadoc)
//   - endpoint: listener setup for TCP, unix socket and TLS endpoints
//   - worker: the management plane: entity registries, lifecycle
//     orchestration and the NATS request/reply procedures driving them
//   - natsclient: NATS connection setup shared by the binaries
//
// The cmd/crossbar-router binary wires a worker to a NATS server and serves
// the management RPC surface under crossbar.node.<node>.worker.<worker>.
package crossbar
