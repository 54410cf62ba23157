// Package tabs opens, focuses and feeds the browser tabs that host the
// deployment console.
package tabs

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/ajolex/surveycto-vc-agent/types"
)

var errMissingOrigin = errors.New("URL has no scheme or host")

// Tab is a browser tab as seen by the orchestrator.
type Tab struct {
	ID    types.TabID `json:"id" yaml:"id"`
	URL   string      `json:"url" yaml:"url"`
	Title string      `json:"title,omitempty" yaml:"title,omitempty"`
}

// Browser manages tabs.
type Browser interface {
	// Tabs lists open tabs in browser order.
	Tabs(ctx context.Context) ([]Tab, error)
	// Focus brings the tab's window to the front and activates the tab
	// without navigating it.
	Focus(ctx context.Context, id types.TabID) error
	// Open creates a tab at url.
	Open(ctx context.Context, url string) (Tab, error)
}

// Deliverer hands a message to the page running in a tab.
type Deliverer interface {
	Deliver(ctx context.Context, id types.TabID, msg types.Message) error
}

// Normalize reduces a URL to origin plus path, the form used to match
// existing tabs. Query and fragment are dropped, as are default ports.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err == nil && (u.Scheme == "" || u.Host == "") {
		err = errMissingOrigin
	}
	if err != nil {
		return "", types.NewError(types.ErrorInvalidTarget, "invalid target URL "+raw, err)
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + host + path, nil
}

// ConsoleURL is the console page that performs uploads on server.
func ConsoleURL(server string) string {
	server = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(server, "https://"), "http://"), "/")
	return "https://" + server + "/main.html#Design"
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}
