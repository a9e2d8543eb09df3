package updater

import "fmt"

// Phase identifies where the update protocol currently stands. Exactly one
// phase is current at any instant.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseUpToDate
	PhaseFound
	PhaseDownloading
	PhaseExtracting
	PhaseReadyToInstall
	PhaseInstalling
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseChecking:
		return "checking"
	case PhaseUpToDate:
		return "up-to-date"
	case PhaseFound:
		return "found"
	case PhaseDownloading:
		return "downloading"
	case PhaseExtracting:
		return "extracting"
	case PhaseReadyToInstall:
		return "ready-to-install"
	case PhaseInstalling:
		return "installing"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// State is a fully formed snapshot of the update lifecycle. Only the fields
// meaningful for the current phase are populated: Version and Notes for
// PhaseFound, Version for PhaseReadyToInstall, Progress for PhaseDownloading
// and PhaseExtracting, Message for PhaseError.
type State struct {
	Phase    Phase
	Version  string
	Notes    string
	Progress float64
	Message  string
}

// Decision is the reply carried back to the update service for a pending
// install handshake.
type Decision int

const (
	DecisionInstall Decision = iota
	DecisionSkip
	DecisionDismiss
)

func (d Decision) String() string {
	switch d {
	case DecisionInstall:
		return "install"
	case DecisionSkip:
		return "skip"
	case DecisionDismiss:
		return "dismiss"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// InstallFunc resumes a pending install handshake with the user's decision.
// It must be invoked at most once.
type InstallFunc func(Decision)

// CancelFunc aborts an in-flight download. It must be invoked at most once.
type CancelFunc func()
