package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Discovery is the on-disk record of the last DevTools endpoint that
// answered. Written to $XDG_RUNTIME_DIR/formbridge/browser.json.
type Discovery struct {
	WSEndpoint  string `json:"ws_endpoint"`
	DevToolsURL string `json:"devtools_url"`
	Browser     string `json:"browser"`
	SeenAt      string `json:"seen_at"`
}

// Endpoint is a resolved DevTools connection target.
type Endpoint struct {
	// WSEndpoint is the browser-level websocket debugger URL.
	WSEndpoint string
	// AttachTarget is an existing page to attach to on connect, so that
	// connecting does not open a blank tab. Empty when none was found.
	AttachTarget string
}

// ResolveConfig holds inputs for Resolve.
type ResolveConfig struct {
	// WSEndpoint, when set, is used as is after a health check.
	WSEndpoint string
	// DevToolsURL is the HTTP DevTools address, e.g. http://127.0.0.1:9222.
	DevToolsURL string
	// Dir overrides the discovery directory (tests).
	Dir string
}

const healthTimeout = 2 * time.Second

// Resolve returns the DevTools endpoint to connect to.
//
// Flow:
//  1. Explicit WSEndpoint: health check and return
//  2. Acquire flock on browser.lock
//  3. Read browser.json; if healthy and for the same DevToolsURL, reuse it
//  4. Otherwise ask DevToolsURL for /json/version and write browser.json
//  5. Release lock
func Resolve(ctx context.Context, cfg ResolveConfig) (Endpoint, error) {
	if cfg.WSEndpoint != "" {
		if _, err := healthCheck(ctx, devToolsBase(cfg.WSEndpoint)); err != nil {
			return Endpoint{}, fmt.Errorf("devtools endpoint: %w", err)
		}
		return Endpoint{WSEndpoint: cfg.WSEndpoint, AttachTarget: firstPage(ctx, devToolsBase(cfg.WSEndpoint))}, nil
	}
	if cfg.DevToolsURL == "" {
		return Endpoint{}, errors.New("devtools: either ws_endpoint or devtools_url is required")
	}

	dir := cfg.Dir
	if dir == "" {
		var err error
		if dir, err = discoveryDir(); err != nil {
			return Endpoint{}, fmt.Errorf("devtools discovery: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Endpoint{}, fmt.Errorf("devtools discovery: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, "browser.lock"), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return Endpoint{}, fmt.Errorf("devtools discovery: open lock: %w", err)
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
	}()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return Endpoint{}, fmt.Errorf("devtools discovery: flock: %w", err)
	}

	path := filepath.Join(dir, "browser.json")
	if disc, err := readDiscovery(path); err == nil && disc.DevToolsURL == cfg.DevToolsURL {
		if _, err := healthCheck(ctx, devToolsBase(disc.WSEndpoint)); err == nil {
			return Endpoint{WSEndpoint: disc.WSEndpoint, AttachTarget: firstPage(ctx, cfg.DevToolsURL)}, nil
		}
		_ = os.Remove(path)
	}

	version, err := healthCheck(ctx, cfg.DevToolsURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("devtools endpoint: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return Endpoint{}, errors.New("devtools endpoint: /json/version has no webSocketDebuggerUrl")
	}

	disc := &Discovery{
		WSEndpoint:  version.WebSocketDebuggerURL,
		DevToolsURL: cfg.DevToolsURL,
		Browser:     version.Browser,
		SeenAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeDiscovery(path, disc); err != nil {
		return Endpoint{}, fmt.Errorf("devtools discovery: write: %w", err)
	}
	return Endpoint{WSEndpoint: disc.WSEndpoint, AttachTarget: firstPage(ctx, cfg.DevToolsURL)}, nil
}

// discoveryDir returns the directory for discovery files.
// Uses $XDG_RUNTIME_DIR/formbridge/ on Linux, falls back to $TMPDIR/formbridge-$UID/.
func discoveryDir() (string, error) {
	var dir string
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		dir = filepath.Join(xdg, "formbridge")
	} else {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("formbridge-%d", os.Getuid()))
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create discovery dir %s: %w", dir, err)
	}
	return dir, nil
}

// devToolsBase maps a websocket debugger URL to its HTTP DevTools base.
func devToolsBase(wsEndpoint string) string {
	u, err := url.Parse(wsEndpoint)
	if err != nil || u.Host == "" {
		return wsEndpoint
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type targetInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// healthCheck verifies a DevTools server is alive by hitting /json/version.
func healthCheck(ctx context.Context, base string) (*versionInfo, error) {
	var v versionInfo
	if err := getJSON(ctx, base+"/json/version", &v); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &v, nil
}

// firstPage returns the id of the first page target, or "" if there is
// none or the listing fails.
func firstPage(ctx context.Context, base string) string {
	var list []targetInfo
	if err := getJSON(ctx, base+"/json/list", &list); err != nil {
		return ""
	}
	for _, t := range list {
		if t.Type == "page" {
			return t.ID
		}
	}
	return ""
}

func getJSON(ctx context.Context, rawURL string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// readDiscovery reads and parses a discovery file.
func readDiscovery(path string) (*Discovery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var disc Discovery
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("parse discovery: %w", err)
	}
	if disc.WSEndpoint == "" {
		return nil, errors.New("discovery file missing ws_endpoint")
	}
	return &disc, nil
}

// writeDiscovery atomically writes a discovery file.
func writeDiscovery(path string, disc *Discovery) error {
	data, err := json.MarshalIndent(disc, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
