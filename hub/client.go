package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/types"
)

const handshakeTimeout = 10 * time.Second

// DefaultCallTimeout bounds a client request. It is longer than the relay
// timeout so a controller-side Timeout reply arrives before the client
// gives up.
const DefaultCallTimeout = 30 * time.Second

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("hub client closed")

// DialOptions configures Dial.
type DialOptions struct {
	// Role defaults to client.
	Role  types.Role
	Sheet string
	TabID types.TabID
	// Codec defaults to msgpack.
	Codec ipc.Codec
	// Header is sent with the upgrade request (Origin, for example).
	Header http.Header
	// Timeout bounds each request. Zero means DefaultCallTimeout.
	Timeout time.Duration
	// OnMessage receives every inbound message that is not a reply.
	// Called from the read goroutine; must not block.
	OnMessage func(types.Message)
	Logger    *log.Logger
}

// Client is a hub connection for Go peers: the CLI and the native host.
// Requests are correlated by a bridge.Router keyed on requestId.
type Client struct {
	ws        *websocket.Conn
	codec     ipc.Codec
	router    *bridge.Router
	onMessage func(types.Message)
	logger    *log.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to the hub at rawURL (ws://host:port/ws or http://...).
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Client, error) {
	u, err := wsURL(rawURL, opts)
	if err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = ipc.Msgpack
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, u, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", u, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Client{
		ws:        ws,
		codec:     codec,
		onMessage: opts.OnMessage,
		logger:    logger.Named("hub-client"),
		done:      make(chan struct{}),
	}
	c.router = bridge.NewRouter(bridge.BroadcastFunc(c.Send), bridge.Options{
		Timeout: cmpDuration(opts.Timeout, DefaultCallTimeout),
		Logger:  c.logger,
	})
	go c.readLoop()
	return c, nil
}

func cmpDuration(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func wsURL(raw string, opts DialOptions) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid hub URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid hub URL scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	role := opts.Role
	if role == "" {
		role = types.RoleClient
	}
	q.Set("role", string(role))
	if opts.Sheet != "" {
		q.Set("sheet", opts.Sheet)
	}
	if opts.TabID != 0 {
		q.Set("tab", strconv.FormatInt(int64(opts.TabID), 10))
	}
	if opts.Codec != nil {
		q.Set("codec", opts.Codec.Name())
	} else {
		q.Set("codec", ipc.CodecMsgpack)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send writes msg without waiting for a reply.
func (c *Client) Send(msg types.Message) error {
	payload, err := ipc.EncodeMessage(c.codec, msg)
	if err != nil {
		return err
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(frame, payload)
}

// Call sends msg and waits for the controller's reply body.
func (c *Client) Call(ctx context.Context, msg types.Message) (any, error) {
	res := c.router.Call(ctx, msg)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Data, nil
}

// Request sends msg and decodes the reply body into out.
func (c *Client) Request(ctx context.Context, msg types.Message, out any) error {
	body, err := c.Call(ctx, msg)
	if err != nil {
		return err
	}
	if err := ipc.DecodeBody(c.codec, body, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", msg.Kind(), err)
	}
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			select {
			case <-c.done:
				err = nil
			default:
			}
			c.shutdown(err)
			return
		}

		msg, err := ipc.DecodeMessage(c.codec, data)
		if err != nil {
			c.logger.Warn("undecodable message from hub", map[string]any{"error": err.Error()})
			continue
		}
		if resp, ok := msg.(*types.Response); ok && resp.RequestID != 0 {
			c.router.Resolve(resp.RequestID, true, resp.Body, "")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}
