package updater

import (
	"context"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultUpToDateRevert = 5 * time.Second

// StateListener receives a fully formed state snapshot after every applied
// event. Listeners run on the orchestrator goroutine and must not block.
type StateListener func(State)

// UnseenListener receives changes of the unseen-update flag.
type UnseenListener func(bool)

// Orchestrator bridges the asynchronous update-service protocol into a single
// authoritative, observable state machine. Every inbound protocol event and
// user action is a closure posted to a channel inbox and applied in arrival
// order by one owner goroutine, so callers never block and observers never
// see a half-applied transition. Stored protocol continuations are invoked
// exactly once: taking one out of its slot and calling it is a single step
// on the owner goroutine.
type Orchestrator struct {
	inbox chan func()
	done  chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// owned by the orchestrator goroutine
	state        State
	slots        registry
	progress     accumulator
	unseen       unseenFlag
	foundVersion string
	revertToken  uint64
	revertDelay  time.Duration

	// published snapshots for readers
	mu              sync.Mutex
	published       State
	hasUnseen       bool
	stateListeners  []StateListener
	unseenListeners []UnseenListener
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		inbox:       make(chan func(), 64),
		done:        make(chan struct{}),
		state:       State{Phase: PhaseIdle},
		revertDelay: defaultUpToDateRevert,
	}
}

// Start launches the owner goroutine. Events posted before Start are queued
// and applied once it runs.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.cancel != nil {
		log.Error("updater orchestrator already started")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go o.loop(ctx)
}

// Stop terminates the owner goroutine. Events posted after Stop are
// discarded.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	select {
	case <-o.done:
		return
	default:
	}

	close(o.done)
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case apply := <-o.inbox:
			apply()
		}
	}
}

func (o *Orchestrator) post(apply func()) {
	select {
	case o.inbox <- apply:
	case <-o.done:
	}
}

// State returns the last published snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.published
}

// HasUnseenUpdate reports whether an update was found this session and not
// yet acknowledged by the user.
func (o *Orchestrator) HasUnseenUpdate() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hasUnseen
}

func (o *Orchestrator) AddStateListener(listener StateListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateListeners = append(o.stateListeners, listener)
}

func (o *Orchestrator) AddUnseenListener(listener UnseenListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unseenListeners = append(o.unseenListeners, listener)
}

// setState publishes a new snapshot and notifies listeners. Must run on the
// owner goroutine.
func (o *Orchestrator) setState(state State) {
	o.state = state

	o.mu.Lock()
	o.published = state
	listeners := slices.Clone(o.stateListeners)
	o.mu.Unlock()

	log.Debugf("update state: %s", state.Phase)
	for _, listener := range listeners {
		listener(state)
	}
}

func (o *Orchestrator) publishUnseen(unseen bool) {
	o.mu.Lock()
	o.hasUnseen = unseen
	listeners := slices.Clone(o.unseenListeners)
	o.mu.Unlock()

	for _, listener := range listeners {
		listener(unseen)
	}
}

// RequestCheck marks that a check for updates is underway. Re-entrant calls
// while already checking are no-ops.
func (o *Orchestrator) RequestCheck() {
	o.post(func() {
		if o.state.Phase == PhaseChecking {
			return
		}
		o.setState(State{Phase: PhaseChecking})
	})
}

// OnPermissionRequest answers the update service's first-run handshake. The
// reply is invoked exactly once with an auto-approval; the lifecycle state is
// untouched.
func (o *Orchestrator) OnPermissionRequest(reply func(autoCheck bool)) {
	o.post(func() {
		if reply == nil {
			return
		}
		reply(true)
	})
}

// OnNoUpdateFound shows the transient up-to-date state and schedules its
// auto-revert to idle. The revert re-validates that the state is still
// up-to-date and that no newer up-to-date display superseded it, so a check
// that found a real update in the meantime is never clobbered by the stale
// timer.
func (o *Orchestrator) OnNoUpdateFound() {
	o.post(func() {
		o.setState(State{Phase: PhaseUpToDate})

		o.revertToken++
		token := o.revertToken
		time.AfterFunc(o.revertDelay, func() {
			o.post(func() {
				if o.revertToken != token || o.state.Phase != PhaseUpToDate {
					return
				}
				o.setState(State{Phase: PhaseIdle})
			})
		})
	})
}

// OnUpdateFound records the offered version and the install handshake and
// raises the unseen badge unless the user already saw an update this session.
func (o *Orchestrator) OnUpdateFound(version, notes string, install InstallFunc) {
	o.post(func() {
		o.slots.putInstall(install)
		o.foundVersion = version
		if o.unseen.markFound() {
			o.publishUnseen(true)
		}
		o.setState(State{Phase: PhaseFound, Version: version, Notes: notes})
	})
}

// OnError surfaces an update-service failure. Pending continuations are
// dropped without being invoked.
func (o *Orchestrator) OnError(message string) {
	o.post(func() {
		o.slots.drop()
		o.setState(State{Phase: PhaseError, Message: message})
	})
}

// OnDownloadStarted begins a fresh download attempt with the given
// cancellation handle.
func (o *Orchestrator) OnDownloadStarted(cancel CancelFunc) {
	o.post(func() {
		o.slots.putCancel(cancel)
		o.progress.reset()
		o.setState(State{Phase: PhaseDownloading})
	})
}

// OnDownloadExpectedLength records the announced total size of the download.
func (o *Orchestrator) OnDownloadExpectedLength(n int64) {
	o.post(func() {
		o.progress.setExpected(n)
		if o.state.Phase == PhaseDownloading {
			o.setState(State{Phase: PhaseDownloading, Progress: o.progress.fraction()})
		}
	})
}

// OnDownloadReceivedData accounts n freshly received bytes. Stray progress
// still in flight after the download left the downloading phase (a cancel
// racing the downloader) is ignored instead of repainting a stale phase.
func (o *Orchestrator) OnDownloadReceivedData(n int64) {
	o.post(func() {
		if o.state.Phase != PhaseDownloading {
			return
		}
		o.progress.add(n)
		o.setState(State{Phase: PhaseDownloading, Progress: o.progress.fraction()})
	})
}

func (o *Orchestrator) OnExtractionStarted() {
	o.post(func() {
		o.setState(State{Phase: PhaseExtracting})
	})
}

func (o *Orchestrator) OnExtractionProgress(p float64) {
	o.post(func() {
		if o.state.Phase != PhaseExtracting {
			return
		}
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		o.setState(State{Phase: PhaseExtracting, Progress: p})
	})
}

// OnReadyToInstall stages the update for installation. The handshake
// supplied here replaces the one stored at found time; the download can no
// longer be cancelled.
func (o *Orchestrator) OnReadyToInstall(install InstallFunc) {
	o.post(func() {
		o.slots.putInstall(install)
		o.slots.takeCancel()
		o.setState(State{Phase: PhaseReadyToInstall, Version: o.foundVersion})
	})
}

func (o *Orchestrator) OnInstalling() {
	o.post(func() {
		o.slots.takeCancel()
		o.setState(State{Phase: PhaseInstalling})
	})
}

func (o *Orchestrator) OnInstalled() {
	o.post(func() {
		o.slots.drop()
		o.setState(State{Phase: PhaseIdle})
	})
}

// Dismiss returns the lifecycle to idle and abandons pending continuations.
// While the transient up-to-date state is showing it is a no-op so the
// display can finish on its own.
func (o *Orchestrator) Dismiss() {
	o.post(func() {
		if o.state.Phase == PhaseUpToDate {
			return
		}
		o.slots.drop()
		o.setState(State{Phase: PhaseIdle})
	})
}

// InstallNow answers the pending install handshake with an install decision.
// The state advances once the update service reports the install.
func (o *Orchestrator) InstallNow() {
	o.decideInstall()
}

// InstallAndRelaunch behaves like InstallNow; the relaunch is the update
// service's business once the install decision is delivered.
func (o *Orchestrator) InstallAndRelaunch() {
	o.decideInstall()
}

func (o *Orchestrator) decideInstall() {
	o.post(func() {
		fn := o.slots.takeInstall()
		if fn == nil {
			return
		}
		fn(DecisionInstall)
	})
}

// Skip declines the offered update and returns to idle.
func (o *Orchestrator) Skip() {
	o.post(func() {
		fn := o.slots.takeInstall()
		if fn == nil {
			return
		}
		fn(DecisionSkip)
		o.setState(State{Phase: PhaseIdle})
	})
}

// DismissUpdate answers the pending handshake with a dismissal and returns
// to idle.
func (o *Orchestrator) DismissUpdate() {
	o.post(func() {
		fn := o.slots.takeInstall()
		if fn == nil {
			return
		}
		fn(DecisionDismiss)
		o.setState(State{Phase: PhaseIdle})
	})
}

// CancelDownload aborts the in-flight download. After the download finished
// or the install started the cancellation handle is gone and the call is a
// no-op.
func (o *Orchestrator) CancelDownload() {
	o.post(func() {
		fn := o.slots.takeCancel()
		if fn == nil {
			return
		}
		fn()
		o.setState(State{Phase: PhaseIdle})
	})
}

// AcknowledgeUpdateSeen lowers the unseen badge for the rest of the session.
// The lifecycle state is untouched.
func (o *Orchestrator) AcknowledgeUpdateSeen() {
	o.post(func() {
		if o.unseen.acknowledge() {
			o.publishUnseen(false)
		}
	})
}
