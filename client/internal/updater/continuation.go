package updater

import (
	log "github.com/sirupsen/logrus"
)

// registry holds at most one pending install handshake and at most one
// pending download cancellation. Continuations are taken out of their slot
// before being invoked, so each stored continuation fires at most once.
// The registry is owned by the orchestrator goroutine and needs no locking.
type registry struct {
	install InstallFunc
	cancel  CancelFunc
}

// putInstall stores a fresh install handshake. A still pending handshake is
// discarded without being invoked; the update service treats a replaced
// handshake as abandoned.
func (r *registry) putInstall(fn InstallFunc) {
	if r.install != nil {
		log.Debug("discarding superseded install handshake")
	}
	r.install = fn
}

// takeInstall removes and returns the pending install handshake, or nil.
func (r *registry) takeInstall() InstallFunc {
	fn := r.install
	r.install = nil
	return fn
}

func (r *registry) putCancel(fn CancelFunc) {
	if r.cancel != nil {
		log.Debug("discarding superseded download cancellation")
	}
	r.cancel = fn
}

func (r *registry) takeCancel() CancelFunc {
	fn := r.cancel
	r.cancel = nil
	return fn
}

// drop clears both slots without invoking them.
func (r *registry) drop() {
	r.install = nil
	r.cancel = nil
}
