package updatefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/perchlabs/perch/version"
)

const (
	userAgent        = "Perch updater/%s"
	manifestLimit    = 4 * 1024
	fetchMaxInterval = 10 * time.Second
	fetchMaxElapsed  = 30 * time.Second
)

// manifest is the release descriptor served at the feed URL.
type manifest struct {
	Version string `json:"version"`
	Notes   string `json:"notes,omitempty"`
	URL     string `json:"url"`
	Length  int64  `json:"length,omitempty"`
}

func (c *Client) fetchManifest(ctx context.Context) (*manifest, error) {
	var m *manifest

	operation := func() error {
		fetched, err := c.fetchManifestOnce(ctx)
		if err != nil {
			log.Warnf("manifest fetch failed: %v", err)
			return err
		}
		m = fetched
		return nil
	}

	expBackOff := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         fetchMaxInterval,
		MaxElapsedTime:      fetchMaxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)

	if err := backoff.Retry(operation, expBackOff); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) fetchManifestOnce(ctx context.Context) (*manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf(userAgent, version.PerchVersion()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing manifest response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// nothing transient about a 4xx, stop retrying
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, manifestLimit))
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse manifest: %w", err))
	}
	if m.Version == "" || m.URL == "" {
		return nil, backoff.Permanent(fmt.Errorf("incomplete manifest"))
	}
	if _, err := goversion.NewVersion(m.Version); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse manifest version %q: %w", m.Version, err))
	}

	return &m, nil
}
