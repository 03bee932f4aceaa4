package worker

import (
	"context"
	"time"
)

// Close shuts the worker down. The management RPC surface is unsubscribed
// first so no further calls land on a half-dead worker, then components are
// drained (graceful leave bounded by the leave timeout, then a hard
// disconnect), transports stop accepting and release their serving state,
// and realms are torn down with their uplinks and service sessions.
func (w *RouterWorker) Close(ctx context.Context) {
	w.unsubscribeAll()

	for _, entity := range w.components.list() {
		if _, ok := w.components.remove(entity.id); !ok {
			continue
		}
		w.drainSession(ctx, entity)
		_ = w.sessions.Remove(entity.session)
		w.metrics.stopped("component")
	}

	for _, entity := range w.transports.list() {
		if _, ok := w.transports.remove(entity.id); !ok {
			continue
		}
		if err := entity.stop(ctx); err != nil {
			w.logger.Warn("transport shutdown failed", "transport", entity.id, "error", err)
			w.metrics.stopFailed("transport")
			continue
		}
		w.metrics.stopped("transport")
	}

	for _, entity := range w.realms.list() {
		if _, err := w.StopRealm(ctx, entity.id, true); err != nil {
			w.logger.Warn("realm shutdown failed", "realm", entity.id, "error", err)
		}
	}

	w.logger.Info("router worker closed")
}

// drainSession gives a live component session a bounded chance to leave
// cleanly before it is dropped. Dead sessions are skipped.
func (w *RouterWorker) drainSession(ctx context.Context, entity *componentEntity) {
	if entity.session == nil || !entity.session.IsConnected() {
		return
	}
	leaveCtx, cancel := context.WithTimeout(ctx, w.leaveTimeout)
	defer cancel()
	if err := entity.session.Leave(leaveCtx); err != nil {
		w.logger.Debug("component leave failed, disconnecting",
			"component", entity.id, "error", err)
		entity.session.Disconnect()
	}
}

// Drain is Close with a deadline derived from the worker's own timeouts, for
// callers without a shutdown context of their own.
func (w *RouterWorker) Drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.leaveTimeout+10*time.Second)
	defer cancel()
	w.Close(ctx)
}
