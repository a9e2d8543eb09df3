package updatefeed

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/perchlabs/perch/client/internal/updater"
	"github.com/perchlabs/perch/version"
)

// Sink receives the update lifecycle as it advances. The updater
// orchestrator implements it; every continuation handed over here must be
// invoked at most once by the receiver.
type Sink interface {
	RequestCheck()
	OnPermissionRequest(reply func(autoCheck bool))
	OnNoUpdateFound()
	OnUpdateFound(version, notes string, install updater.InstallFunc)
	OnError(message string)
	OnDownloadStarted(cancel updater.CancelFunc)
	OnDownloadExpectedLength(n int64)
	OnDownloadReceivedData(n int64)
	OnExtractionStarted()
	OnExtractionProgress(p float64)
	OnReadyToInstall(install updater.InstallFunc)
	OnInstalling()
	OnInstalled()
}

// Client drives the update protocol against a release feed: it periodically
// fetches the release manifest, offers newer versions through the sink and
// performs the download and staging work once the install handshake is
// answered. All network work happens on the client's own goroutines; the
// sink is only ever notified, never blocked on.
type Client struct {
	feedURL  string
	interval time.Duration
	current  *goversion.Version
	sink     Sink

	httpClient *http.Client
	stagingDir string
	installFn  func(ctx context.Context, path string) error

	checkCh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	autoCheck bool
}

func NewClient(feedURL string, interval time.Duration, sink Sink) *Client {
	current, err := goversion.NewVersion(version.PerchVersion())
	if err != nil {
		current, _ = goversion.NewVersion("0.0.0")
	}

	return &Client{
		feedURL:    feedURL,
		interval:   interval,
		current:    current,
		sink:       sink,
		httpClient: http.DefaultClient,
		stagingDir: os.TempDir(),
		installFn:  runInstaller,
		checkCh:    make(chan struct{}, 1),
	}
}

// Start begins the first-run permission handshake and the periodic check
// loop.
func (c *Client) Start(ctx context.Context) {
	if c.cancel != nil {
		log.Error("update feed client already started")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.sink.OnPermissionRequest(func(autoCheck bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.autoCheck = autoCheck
	})

	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// CheckNow requests an immediate check. A check already queued up absorbs
// the trigger.
func (c *Client) CheckNow() {
	select {
	case c.checkCh <- struct{}{}:
	default:
	}
}

func (c *Client) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.autoCheckEnabled() {
				continue
			}
		case <-c.checkCh:
		}

		c.check(ctx)
	}
}

func (c *Client) autoCheckEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCheck
}

func (c *Client) check(ctx context.Context) {
	c.sink.RequestCheck()

	m, err := c.fetchManifest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Errorf("failed to fetch release manifest: %v", err)
		c.sink.OnError("could not reach the update feed")
		return
	}

	latest := goversion.Must(goversion.NewVersion(m.Version))
	if !latest.GreaterThan(c.current) {
		log.Debugf("no update available, current %s, latest %s", c.current, latest)
		c.sink.OnNoUpdateFound()
		return
	}

	log.Infof("update available: %s", latest)
	c.sink.OnUpdateFound(m.Version, m.Notes, func(d updater.Decision) {
		switch d {
		case updater.DecisionInstall:
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.download(ctx, m)
			}()
		case updater.DecisionSkip:
			log.Infof("version %s skipped", m.Version)
		case updater.DecisionDismiss:
			log.Debugf("update offer for %s dismissed", m.Version)
		}
	})
}
