package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-soundgate/internal/types"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

const (
	releaseRepo          = "oszuidwest/zwfm-soundgate"
	releaseFirstDelay    = 30 * time.Second // keeps startup free of network calls
	releasePollInterval  = 24 * time.Hour
	releaseLookupTimeout = 30 * time.Second
)

var (
	errReleaseStatus = errors.New("unexpected release status")
	errNoReleaseTag  = errors.New("release has no tag")
)

// latestReleaseURL is the GitHub endpoint for the newest published release.
var latestReleaseURL = "https://api.github.com/repos/" + releaseRepo + "/releases/latest"

// VersionChecker polls GitHub for the latest release so /api/status can
// report whether an update is available.
type VersionChecker struct {
	url    string
	client *http.Client
	clock  util.Clock

	mu     sync.RWMutex
	latest string
	etag   string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker returns an idle checker. Call Start to begin polling.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		url:    latestReleaseURL,
		client: &http.Client{Timeout: releaseLookupTimeout},
		clock:  util.SystemClock{},
		cancel: func() {},
	}
}

// Start polls for releases until ctx ends or Stop is called.
func (vc *VersionChecker) Start(ctx context.Context) {
	ctx, vc.cancel = context.WithCancel(ctx)
	vc.done = make(chan struct{})
	go vc.poll(ctx)
}

// Stop ends polling and waits for an in-flight lookup to return.
// It may be called before Start and more than once.
func (vc *VersionChecker) Stop() {
	vc.cancel()
	if vc.done != nil {
		<-vc.done
	}
}

func (vc *VersionChecker) poll(ctx context.Context) {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := releaseFirstDelay
	for vc.clock.Sleep(ctx, wait) == nil {
		if err := vc.refresh(ctx); err != nil && ctx.Err() == nil {
			// A failed lookup waits for the next interval.
			slog.Debug("release lookup failed", "error", err)
		}
		wait = releasePollInterval
	}
}

// refresh fetches the latest release once. A 304 or 404 leaves the known
// release untouched; drafts and prereleases are ignored.
func (vc *VersionChecker) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeoutCause(ctx, releaseLookupTimeout, errors.New("release lookup timed out"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return util.WrapError("build release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-soundgate/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return util.WrapError("fetch latest release", err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: %d", errReleaseStatus, resp.StatusCode)
	}

	var release struct {
		TagName    string `json:"tag_name"`
		Draft      bool   `json:"draft"`
		Prerelease bool   `json:"prerelease"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return util.WrapError("decode release", err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return errNoReleaseTag
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	vc.etag = resp.Header.Get("ETag")
	vc.mu.Unlock()
	return nil
}

// Info returns the build and release information for the status server.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	return types.VersionInfo{
		Current:     current,
		Latest:      latest,
		Commit:      Commit,
		BuildTime:   util.FormatHumanTime(BuildTime),
		UpdateAvail: latest != "" && semver.IsValid("v"+current) && isNewerVersion(latest, current),
	}
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is a higher semver than current.
// Either side may carry a leading "v"; invalid versions never compare newer.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}
