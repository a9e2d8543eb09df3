package updatefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"github.com/perchlabs/perch/client/internal/updater"
	"github.com/perchlabs/perch/version"
)

const copyBufferSize = 32 * 1024

// download fetches the release package, stages it and offers the final
// install handshake. The cancellation handle handed to the sink tears down
// the download context; a cancelled download ends quietly because the
// lifecycle already moved on.
func (c *Client) download(ctx context.Context, m *manifest) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.sink.OnDownloadStarted(func() { cancel() })

	staged, err := c.downloadToStaging(dctx, m)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infof("download of %s cancelled", m.Version)
			return
		}
		log.Errorf("download of %s failed: %v", m.Version, err)
		c.sink.OnError("download failed")
		return
	}

	c.sink.OnExtractionStarted()
	if err := os.Chmod(staged, 0o755); err != nil {
		log.Errorf("failed to stage %s: %v", staged, err)
		c.sink.OnError("could not stage the update package")
		return
	}
	c.sink.OnExtractionProgress(1)

	c.sink.OnReadyToInstall(func(d updater.Decision) {
		if d != updater.DecisionInstall {
			log.Debugf("staged update %s abandoned: %s", m.Version, d)
			if err := os.Remove(staged); err != nil {
				log.Warnf("failed to remove staged package %s: %v", staged, err)
			}
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.install(ctx, staged)
		}()
	})
}

func (c *Client) downloadToStaging(ctx context.Context, m *manifest) (string, error) {
	out, err := os.CreateTemp(c.stagingDir, "perch-update-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warnf("error closing staging file %q: %v", out.Name(), cerr)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.PerchVersion()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform download request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing download response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	expected := resp.ContentLength
	if expected <= 0 {
		expected = m.Length
	}
	c.sink.OnDownloadExpectedLength(expected)

	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("write staging file: %w", werr)
			}
			c.sink.OnDownloadReceivedData(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return "", cerr
			}
			return "", fmt.Errorf("read download body: %w", rerr)
		}
	}

	log.Debugf("downloaded update package to %s", out.Name())
	return out.Name(), nil
}

func (c *Client) install(ctx context.Context, staged string) {
	c.sink.OnInstalling()

	if err := c.installFn(ctx, staged); err != nil {
		log.Errorf("install failed: %v", err)
		c.sink.OnError("install failed")
		return
	}

	c.sink.OnInstalled()
}

func runInstaller(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run installer %q: %w (%s)", path, err, out)
	}
	return nil
}
