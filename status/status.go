// Package status serves and fetches the bridge status report.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/iox"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Path is where Handler is mounted.
const Path = "/status"

// Report is the bridge state at one instant. It carries no payload bytes.
type Report struct {
	Version     string                   `json:"version" yaml:"version"`
	Listen      string                   `json:"listen" yaml:"listen"`
	StartedAt   time.Time                `json:"started_at" yaml:"started_at"`
	Uptime      string                   `json:"uptime" yaml:"uptime"`
	Connections int                      `json:"connections" yaml:"connections"`
	Relays      []relay.Status           `json:"relays" yaml:"relays"`
	Deployment  *types.DeploymentSummary `json:"deployment" yaml:"deployment"`
	Metrics     metrics.Snapshot         `json:"metrics" yaml:"metrics"`
}

// Source is everything a Report is assembled from.
type Source struct {
	Listen      string
	StartedAt   time.Time
	Store       deploy.Store
	Relays      *relay.Registry
	Metrics     *metrics.Collector
	Connections func() int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Build assembles the current report.
func (s Source) Build() Report {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	r := Report{
		Version:   types.Version,
		Listen:    s.Listen,
		StartedAt: s.StartedAt,
		Uptime:    now().Sub(s.StartedAt).Truncate(time.Second).String(),
		Relays:    []relay.Status{},
		Metrics:   s.Metrics.Snapshot(),
	}
	if s.Connections != nil {
		r.Connections = s.Connections()
	}
	if s.Relays != nil {
		r.Relays = s.Relays.Statuses()
	}
	if s.Store != nil {
		if d := s.Store.Query(); d != nil {
			sum := d.Summary()
			r.Deployment = &sum
		}
	}
	return r
}

// Handler serves the report as JSON on GET.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Build())
	})
}

// Fetch reads the report from a running bridge at base
// (http://host:port or ws://host:port).
func Fetch(ctx context.Context, base string) (*Report, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("invalid bridge URL scheme %q", u.Scheme)
	}
	u.Path = Path
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: HTTP %d", resp.StatusCode)
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &r, nil
}
