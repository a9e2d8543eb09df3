package updatefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/client/internal/updater"
)

type recordedEvent struct {
	name    string
	version string
	notes   string
	n       int64
	p       float64
	message string
	install updater.InstallFunc
	cancel  updater.CancelFunc
	reply   func(bool)
}

type sinkRecorder struct {
	events chan recordedEvent
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{events: make(chan recordedEvent, 256)}
}

func (s *sinkRecorder) RequestCheck() { s.events <- recordedEvent{name: "RequestCheck"} }
func (s *sinkRecorder) OnPermissionRequest(reply func(autoCheck bool)) {
	s.events <- recordedEvent{name: "OnPermissionRequest", reply: reply}
}
func (s *sinkRecorder) OnNoUpdateFound() { s.events <- recordedEvent{name: "OnNoUpdateFound"} }
func (s *sinkRecorder) OnUpdateFound(version, notes string, install updater.InstallFunc) {
	s.events <- recordedEvent{name: "OnUpdateFound", version: version, notes: notes, install: install}
}
func (s *sinkRecorder) OnError(message string) {
	s.events <- recordedEvent{name: "OnError", message: message}
}
func (s *sinkRecorder) OnDownloadStarted(cancel updater.CancelFunc) {
	s.events <- recordedEvent{name: "OnDownloadStarted", cancel: cancel}
}
func (s *sinkRecorder) OnDownloadExpectedLength(n int64) {
	s.events <- recordedEvent{name: "OnDownloadExpectedLength", n: n}
}
func (s *sinkRecorder) OnDownloadReceivedData(n int64) {
	s.events <- recordedEvent{name: "OnDownloadReceivedData", n: n}
}
func (s *sinkRecorder) OnExtractionStarted() { s.events <- recordedEvent{name: "OnExtractionStarted"} }
func (s *sinkRecorder) OnExtractionProgress(p float64) {
	s.events <- recordedEvent{name: "OnExtractionProgress", p: p}
}
func (s *sinkRecorder) OnReadyToInstall(install updater.InstallFunc) {
	s.events <- recordedEvent{name: "OnReadyToInstall", install: install}
}
func (s *sinkRecorder) OnInstalling() { s.events <- recordedEvent{name: "OnInstalling"} }
func (s *sinkRecorder) OnInstalled() { s.events <- recordedEvent{name: "OnInstalled"} }

// next returns the next recorded event, failing the test on timeout.
func (s *sinkRecorder) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case e := <-s.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a lifecycle event")
		return recordedEvent{}
	}
}

// nextNamed skips events until one with the given name arrives.
func (s *sinkRecorder) nextNamed(t *testing.T, name string) recordedEvent {
	t.Helper()
	for {
		e := s.next(t)
		if e.name == name {
			return e
		}
	}
}

func (s *sinkRecorder) assertNoEvent(t *testing.T, name string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case e := <-s.events:
			if e.name == name {
				t.Fatalf("unexpected %s event", name)
			}
		case <-deadline:
			return
		}
	}
}

func newTestClient(t *testing.T, feedURL, current string) (*Client, *sinkRecorder) {
	t.Helper()
	sink := newSinkRecorder()
	c := NewClient(feedURL, time.Hour, sink)
	c.current = goversion.Must(goversion.NewVersion(current))
	c.stagingDir = t.TempDir()
	return c, sink
}

func manifestServer(t *testing.T, m string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, m)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckReportsNoUpdate(t *testing.T) {
	srv := manifestServer(t, `{"version":"1.0.0","url":"http://localhost/pkg"}`)
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.check(context.Background())

	assert.Equal(t, "RequestCheck", sink.next(t).name)
	assert.Equal(t, "OnNoUpdateFound", sink.next(t).name)
}

func TestCheckReportsErrorOnBadFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.check(context.Background())

	assert.Equal(t, "RequestCheck", sink.next(t).name)
	errEvent := sink.next(t)
	require.Equal(t, "OnError", errEvent.name)
	assert.NotEmpty(t, errEvent.message)
}

func TestSkipDoesNotDownload(t *testing.T) {
	srv := manifestServer(t, `{"version":"2.0.0","url":"http://localhost/pkg"}`)
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.check(context.Background())

	found := sink.nextNamed(t, "OnUpdateFound")
	found.install(updater.DecisionSkip)
	sink.assertNoEvent(t, "OnDownloadStarted", 200*time.Millisecond)
}

func TestFullUpdateFlow(t *testing.T) {
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	pkgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(pkgSrv.Close)

	srv := manifestServer(t, fmt.Sprintf(
		`{"version":"2.0.0","notes":"fixes","url":"%s","length":%d}`, pkgSrv.URL, len(payload)))
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	installed := make(chan string, 1)
	c.installFn = func(ctx context.Context, path string) error {
		installed <- path
		return nil
	}

	ctx := context.Background()
	c.check(ctx)

	assert.Equal(t, "RequestCheck", sink.next(t).name)
	found := sink.next(t)
	require.Equal(t, "OnUpdateFound", found.name)
	assert.Equal(t, "2.0.0", found.version)
	assert.Equal(t, "fixes", found.notes)

	found.install(updater.DecisionInstall)

	started := sink.nextNamed(t, "OnDownloadStarted")
	require.NotNil(t, started.cancel)

	length := sink.nextNamed(t, "OnDownloadExpectedLength")
	assert.Equal(t, int64(len(payload)), length.n)

	var received int64
	for {
		e := sink.next(t)
		if e.name == "OnDownloadReceivedData" {
			received += e.n
			continue
		}
		require.Equal(t, "OnExtractionStarted", e.name)
		break
	}
	assert.Equal(t, int64(len(payload)), received)

	progress := sink.nextNamed(t, "OnExtractionProgress")
	assert.InDelta(t, 1.0, progress.p, 1e-9)

	ready := sink.nextNamed(t, "OnReadyToInstall")
	ready.install(updater.DecisionInstall)

	assert.Equal(t, "OnInstalling", sink.nextNamed(t, "OnInstalling").name)
	assert.Equal(t, "OnInstalled", sink.nextNamed(t, "OnInstalled").name)

	select {
	case path := <-installed:
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	case <-time.After(time.Second):
		t.Fatal("installer was not invoked")
	}
}

func TestDismissRemovesStagedPackage(t *testing.T) {
	payload := []byte("staged package payload")
	pkgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(pkgSrv.Close)

	srv := manifestServer(t, fmt.Sprintf(`{"version":"2.0.0","url":"%s"}`, pkgSrv.URL))
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.check(context.Background())
	sink.nextNamed(t, "OnUpdateFound").install(updater.DecisionInstall)

	ready := sink.nextNamed(t, "OnReadyToInstall")
	ready.install(updater.DecisionDismiss)

	sink.assertNoEvent(t, "OnInstalling", 200*time.Millisecond)
}

func TestCancelledDownloadEndsQuietly(t *testing.T) {
	release := make(chan struct{})
	pkgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(pkgSrv.Close)
	t.Cleanup(func() { close(release) })

	srv := manifestServer(t, fmt.Sprintf(`{"version":"2.0.0","url":"%s"}`, pkgSrv.URL))
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.check(context.Background())
	sink.nextNamed(t, "OnUpdateFound").install(updater.DecisionInstall)

	started := sink.nextNamed(t, "OnDownloadStarted")
	sink.nextNamed(t, "OnDownloadReceivedData")
	started.cancel()

	sink.assertNoEvent(t, "OnError", 300*time.Millisecond)
	sink.assertNoEvent(t, "OnReadyToInstall", 100*time.Millisecond)
}

func TestCheckNowTriggersCheckAndPermissionHandshake(t *testing.T) {
	srv := manifestServer(t, `{"version":"1.0.0","url":"http://localhost/pkg"}`)
	c, sink := newTestClient(t, srv.URL, "1.0.0")

	c.Start(context.Background())
	t.Cleanup(c.Stop)

	permission := sink.nextNamed(t, "OnPermissionRequest")
	require.NotNil(t, permission.reply)
	permission.reply(true)
	assert.True(t, c.autoCheckEnabled())

	c.CheckNow()
	assert.Equal(t, "RequestCheck", sink.nextNamed(t, "RequestCheck").name)
	assert.Equal(t, "OnNoUpdateFound", sink.next(t).name)
}
