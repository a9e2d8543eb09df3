package event

import (
	"sync"

	"fyne.io/fyne/v2"
	log "github.com/sirupsen/logrus"
)

// Manager forwards noteworthy in-process events to the desktop as
// notifications. Notifications can be muted as a whole; update availability
// is always shown.
type Manager struct {
	app fyne.App

	mu      sync.Mutex
	enabled bool
}

func NewManager(app fyne.App) *Manager {
	return &Manager{
		app:     app,
		enabled: true,
	}
}

func (e *Manager) SetNotificationsEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

func (e *Manager) NotificationsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// NotifyUpdateAvailable announces a newly found update. Not gated by the
// mute flag.
func (e *Manager) NotifyUpdateAvailable(version string) {
	log.Infof("notifying about available update %s", version)
	e.app.SendNotification(fyne.NewNotification("Update available", "Perch "+version+" is ready to download."))
}

// NotifySessionAttention announces a worker session waiting on the user.
func (e *Manager) NotifySessionAttention(title string) {
	if !e.NotificationsEnabled() {
		return
	}
	e.app.SendNotification(fyne.NewNotification("Session needs attention", title+" is waiting for your input."))
}

// NotifyUpdateFailed announces a failed update attempt.
func (e *Manager) NotifyUpdateFailed(message string) {
	if !e.NotificationsEnabled() {
		return
	}
	e.app.SendNotification(fyne.NewNotification("Update failed", message))
}
