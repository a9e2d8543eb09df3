package ui

import (
	"context"
	"fmt"
	"time"

	_ "embed"

	"fyne.io/fyne/v2/app"
	"fyne.io/systray"
	log "github.com/sirupsen/logrus"

	"github.com/perchlabs/perch/client/internal/session"
	"github.com/perchlabs/perch/client/internal/updater"
	"github.com/perchlabs/perch/client/internal/updatefeed"
	"github.com/perchlabs/perch/client/ui/config"
	"github.com/perchlabs/perch/client/ui/event"
	"github.com/perchlabs/perch/version"
)

//go:embed perch.png
var iconDefault []byte

//go:embed perch_badge.png
var iconBadge []byte

const renderPeriod = 3 * time.Second

// Run blocks on the systray event loop until the user quits.
func Run(cfg *config.Config) {
	client := newTrayClient(cfg)
	systray.Run(client.onTrayReady, client.onTrayExit)
}

type trayClient struct {
	cfg *config.Config

	orch    *updater.Orchestrator
	feed    *updatefeed.Client
	monitor *session.Monitor
	events  *event.Manager

	refresh chan struct{}
	cancel  context.CancelFunc

	mSessions      *systray.MenuItem
	mUpdateStatus  *systray.MenuItem
	mInstall       *systray.MenuItem
	mCancel        *systray.MenuItem
	mCheck         *systray.MenuItem
	mNotifications *systray.MenuItem
	mQuit          *systray.MenuItem
}

func newTrayClient(cfg *config.Config) *trayClient {
	fyneApp := app.NewWithID("io.perchlabs.perch")

	c := &trayClient{
		cfg:     cfg,
		orch:    updater.NewOrchestrator(),
		monitor: session.NewMonitor(cfg.SessionsDir),
		events:  event.NewManager(fyneApp),
		refresh: make(chan struct{}, 1),
	}
	c.feed = updatefeed.NewClient(cfg.Feed.URL, time.Duration(cfg.Feed.Interval), c.orch)
	return c
}

func (c *trayClient) triggerRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *trayClient) onTrayReady() {
	systray.SetTemplateIcon(iconDefault, iconDefault)
	systray.SetTooltip("Perch " + version.PerchVersion())

	c.mSessions = systray.AddMenuItem("No sessions", "Worker sessions")
	c.mSessions.Disable()

	systray.AddSeparator()

	c.mUpdateStatus = systray.AddMenuItem("", "Update status")
	c.mUpdateStatus.Disable()
	c.mUpdateStatus.Hide()

	c.mInstall = systray.AddMenuItem("Install Update", "Install the available update")
	c.mInstall.Hide()

	c.mCancel = systray.AddMenuItem("Cancel Download", "Cancel the update download")
	c.mCancel.Hide()

	c.mCheck = systray.AddMenuItem("Check for Updates", "Check the release feed now")

	systray.AddSeparator()

	c.mNotifications = systray.AddMenuItemCheckbox("Notifications", "Desktop notifications", true)

	systray.AddSeparator()

	c.mQuit = systray.AddMenuItem("Quit", "Quit Perch")

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.orch.AddStateListener(func(state updater.State) {
		c.triggerRefresh()
		switch state.Phase {
		case updater.PhaseFound:
			c.events.NotifyUpdateAvailable(state.Version)
		case updater.PhaseError:
			c.events.NotifyUpdateFailed(state.Message)
		}
	})
	c.orch.AddUnseenListener(func(unseen bool) {
		if unseen {
			systray.SetTemplateIcon(iconBadge, iconBadge)
		} else {
			systray.SetTemplateIcon(iconDefault, iconDefault)
		}
	})
	c.monitor.AddChangeListener(c.triggerRefresh)
	c.monitor.AddAttentionListener(func(s session.Session) {
		c.events.NotifySessionAttention(s.Title)
	})

	c.orch.Start(ctx)
	if err := c.monitor.Start(ctx); err != nil {
		log.Errorf("failed to start session monitor: %v", err)
	}
	c.feed.Start(ctx)

	go c.menuLoop()
}

func (c *trayClient) onTrayExit() {
	if c.cancel != nil {
		c.cancel()
	}
	c.feed.Stop()
	c.monitor.Stop()
	c.orch.Stop()
}

func (c *trayClient) menuLoop() {
	ticker := time.NewTicker(renderPeriod)
	defer ticker.Stop()

	c.render()

	for {
		select {
		case <-c.mCheck.ClickedCh:
			c.orch.AcknowledgeUpdateSeen()
			c.feed.CheckNow()
		case <-c.mInstall.ClickedCh:
			c.onInstallClicked()
		case <-c.mCancel.ClickedCh:
			c.orch.CancelDownload()
		case <-c.mNotifications.ClickedCh:
			c.toggleNotifications()
		case <-c.refresh:
			c.render()
		case <-ticker.C:
			c.render()
		case <-c.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (c *trayClient) onInstallClicked() {
	c.orch.AcknowledgeUpdateSeen()

	switch c.orch.State().Phase {
	case updater.PhaseFound:
		c.orch.InstallNow()
	case updater.PhaseReadyToInstall:
		c.orch.InstallAndRelaunch()
	case updater.PhaseError:
		c.orch.Dismiss()
	}
}

func (c *trayClient) toggleNotifications() {
	enabled := !c.events.NotificationsEnabled()
	c.events.SetNotificationsEnabled(enabled)
	if enabled {
		c.mNotifications.Check()
	} else {
		c.mNotifications.Uncheck()
	}
}

func (c *trayClient) render() {
	c.renderSessions()
	c.renderUpdate()
}

func (c *trayClient) renderSessions() {
	counts := c.monitor.Counts()
	if counts.Total() == 0 {
		c.mSessions.SetTitle("No sessions")
		return
	}

	title := fmt.Sprintf("%d working", counts.Working)
	if counts.NeedsAttention > 0 {
		title = fmt.Sprintf("%s, %d waiting", title, counts.NeedsAttention)
	}
	if counts.Idle > 0 {
		title = fmt.Sprintf("%s, %d idle", title, counts.Idle)
	}
	c.mSessions.SetTitle(title)
}

func (c *trayClient) renderUpdate() {
	state := c.orch.State()

	c.mUpdateStatus.Hide()
	c.mInstall.Hide()
	c.mCancel.Hide()
	c.mCheck.Enable()

	switch state.Phase {
	case updater.PhaseIdle:
	case updater.PhaseChecking:
		c.showStatus("Checking for updates…")
		c.mCheck.Disable()
	case updater.PhaseUpToDate:
		c.showStatus("You're up to date")
	case updater.PhaseFound:
		c.showStatus("Version " + state.Version + " available")
		c.mInstall.SetTitle("Install Update")
		c.mInstall.Show()
	case updater.PhaseDownloading:
		c.showStatus(fmt.Sprintf("Downloading update… %d%%", int(state.Progress*100)))
		c.mCancel.Show()
	case updater.PhaseExtracting:
		c.showStatus(fmt.Sprintf("Preparing update… %d%%", int(state.Progress*100)))
		c.mCancel.Show()
	case updater.PhaseReadyToInstall:
		c.showStatus("Version " + state.Version + " ready")
		c.mInstall.SetTitle("Install and Relaunch")
		c.mInstall.Show()
	case updater.PhaseInstalling:
		c.showStatus("Installing update…")
		c.mCheck.Disable()
	case updater.PhaseError:
		c.showStatus("Update failed: " + state.Message)
		c.mInstall.SetTitle("Dismiss")
		c.mInstall.Show()
	}
}

func (c *trayClient) showStatus(title string) {
	c.mUpdateStatus.SetTitle(title)
	c.mUpdateStatus.Show()
}
