// Package hub is the websocket transport between page contexts and the
// controller.
//
// Every connection declares what it is in the query string:
//
//	/ws?role=panel&sheet=<id>          spreadsheet sidebar
//	/ws?role=console&tab=<id>          console tab that consumes payloads
//	/ws?role=client                    CLI, popup or native host
//
// and may pick a codec with codec=json|msgpack (default json). JSON travels
// in text frames, msgpack in binary frames.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/tabs"
	"github.com/ajolex/surveycto-vc-agent/types"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// maxMessageSize bounds inbound frames. Stage requests carry whole forms
// and their attachments, base64-encoded under JSON.
const maxMessageSize = ipc.NativeInboundLimit

// Errors returned by the delivery paths.
var (
	ErrNoPanel    = errors.New("no panel connected")
	ErrNoConsole  = errors.New("console tab not connected")
	ErrSendBuffer = errors.New("connection send buffer full")
)

// Dispatcher handles decoded messages. *controller.Controller implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, from types.Sender, msg types.Message) any
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists Origin values accepted on upgrade. Requests
	// without an Origin header (non-browser clients) are always accepted.
	// "*" accepts every origin.
	AllowedOrigins []string
	// ConsoleCloseIsTabClose reports a TAB_CLOSED for a console tab when
	// its last connection goes away. Set when no browser backend watches
	// tab lifecycles.
	ConsoleCloseIsTabClose bool
	Metrics                *metrics.Collector
	Logger                 *log.Logger
}

// Server accepts websocket connections and routes their messages.
type Server struct {
	dispatcher Dispatcher
	relays     *relay.Registry
	upgrader   websocket.Upgrader
	tabClose   bool
	metrics    *metrics.Collector
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	conns    map[*conn]struct{}
	panels   map[string][]*conn
	consoles map[types.TabID]*conn
}

// NewServer creates a Server. relays may be nil when no panel connections
// are expected; SetDispatcher must be called before serving.
func NewServer(relays *relay.Registry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		relays:   relays,
		tabClose: opts.ConsoleCloseIsTabClose,
		metrics:  opts.Metrics,
		logger:   logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*conn]struct{}),
		panels:   make(map[string][]*conn),
		consoles: make(map[types.TabID]*conn),
	}
	allowed := opts.AllowedOrigins
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		},
	}
	return s
}

// SetDispatcher installs the message handler. The controller and the hub
// reference each other (the hub delivers payloads and reaches panels for
// the controller), so one of them is wired after construction.
func (s *Server) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// PanelBroadcaster returns the path from sheet's relay to its panels.
// Sending fails with ErrNoPanel when no panel for sheet is connected.
func (s *Server) PanelBroadcaster(sheet string) bridge.Broadcaster {
	return bridge.BroadcastFunc(func(msg types.Message) error {
		s.mu.RLock()
		targets := slices.Clone(s.panels[sheet])
		s.mu.RUnlock()
		if len(targets) == 0 {
			return ErrNoPanel
		}
		var errs []error
		for _, c := range targets {
			if err := c.enqueue(msg); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == len(targets) {
			return errors.Join(errs...)
		}
		return nil
	})
}

// Deliver sends msg to the console connection for tabID.
func (s *Server) Deliver(_ context.Context, tabID types.TabID, msg types.Message) error {
	s.mu.RLock()
	c := s.consoles[tabID]
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("tab %d: %w", tabID, ErrNoConsole)
	}
	return c.enqueue(msg)
}

var _ tabs.Deliverer = (*Server)(nil)

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close drops every connection. In-flight dispatches see a canceled
// context.
func (s *Server) Close() {
	s.cancel()
	s.mu.RLock()
	all := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		all = append(all, c)
	}
	s.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

// ServeHTTP upgrades the request and runs the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	from, codec, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	ws.SetReadLimit(maxMessageSize)

	from.ConnID = uuid.NewString()
	c := &conn{
		server: s,
		ws:     ws,
		codec:  codec,
		from:   from,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	s.register(c)

	go c.writePump()
	go c.readPump()
}

func parseQuery(r *http.Request) (types.Sender, ipc.Codec, error) {
	q := r.URL.Query()
	codec, err := ipc.CodecByName(q.Get("codec"))
	if err != nil {
		return types.Sender{}, nil, err
	}

	from := types.Sender{Role: types.Role(q.Get("role"))}
	switch from.Role {
	case types.RolePanel:
		from.Sheet = q.Get("sheet")
		if from.Sheet == "" {
			return types.Sender{}, nil, errors.New("panel connections require a sheet")
		}
	case types.RoleConsole:
		id, err := strconv.ParseInt(q.Get("tab"), 10, 64)
		if err != nil || id <= 0 {
			return types.Sender{}, nil, errors.New("console connections require a positive tab id")
		}
		from.TabID = types.TabID(id)
	case "":
		from.Role = types.RoleClient
	case types.RoleClient:
	default:
		return types.Sender{}, nil, fmt.Errorf("unknown role %q", from.Role)
	}
	return from, codec, nil
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	switch c.from.Role {
	case types.RolePanel:
		s.panels[c.from.Sheet] = append(s.panels[c.from.Sheet], c)
	case types.RoleConsole:
		if prev := s.consoles[c.from.TabID]; prev != nil {
			defer prev.close()
		}
		s.consoles[c.from.TabID] = c
	}
	s.mu.Unlock()

	s.metrics.IncConnectionsOpened()
	s.logger.Info("connection opened", map[string]any{
		"conn_id": c.from.ConnID,
		"role":    c.from.Role,
		"sheet":   c.from.Sheet,
		"tab_id":  c.from.TabID,
		"codec":   c.codec.Name(),
	})

	// The relay starts probing at once, so the panel must be registered
	// above before it is acquired.
	if c.from.Role == types.RolePanel && s.relays != nil {
		s.relays.Acquire(c.from.Sheet)
	}
}

func (s *Server) unregister(c *conn) {
	tabGone := false
	s.mu.Lock()
	if _, ok := s.conns[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, c)
	switch c.from.Role {
	case types.RolePanel:
		s.panels[c.from.Sheet] = slices.DeleteFunc(s.panels[c.from.Sheet], func(o *conn) bool { return o == c })
		if len(s.panels[c.from.Sheet]) == 0 {
			delete(s.panels, c.from.Sheet)
		}
	case types.RoleConsole:
		if s.consoles[c.from.TabID] == c {
			delete(s.consoles, c.from.TabID)
			tabGone = s.tabClose
		}
	}
	s.mu.Unlock()

	if tabGone && s.dispatcher != nil {
		s.dispatcher.Dispatch(s.ctx, types.Sender{Role: types.RoleBrowser},
			types.Stamp(&types.TabClosed{TabID: c.from.TabID}))
	}

	if c.from.Role == types.RolePanel && s.relays != nil {
		s.relays.Release(c.from.Sheet)
	}
	s.metrics.IncConnectionsClosed()
	s.logger.Info("connection closed", map[string]any{"conn_id": c.from.ConnID, "role": c.from.Role})
}

// handle runs one inbound message through the dispatcher and queues the
// reply, if any, echoing the request id.
func (s *Server) handle(c *conn, msg types.Message) {
	if s.dispatcher == nil {
		return
	}
	reply := s.dispatcher.Dispatch(s.ctx, c.from, msg)
	if reply == nil {
		return
	}
	resp := types.Stamp(&types.Response{Body: reply})
	resp.RequestID = msg.Head().RequestID
	if err := c.enqueue(resp); err != nil {
		s.logger.Warn("reply dropped", map[string]any{
			"conn_id": c.from.ConnID,
			"type":    msg.Kind(),
			"error":   err.Error(),
		})
	}
}
