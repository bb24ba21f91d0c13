package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// Metrics tracks server throughput and error rates.
type Metrics struct {
	Connections   int64 `json:"connections"`
	ActiveClients int64 `json:"active_clients"`
	Requests      int64 `json:"requests"`
	EventsRelayed int64 `json:"events_relayed"`
	ErrorCount    int64 `json:"error_count"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Config holds configuration for the engine server.
type Config struct {
	// Network is "unix" or "tcp". Empty picks unix except on Windows.
	Network string `json:"network"`

	// ListenAddr is a socket path for unix or host:port for tcp.
	ListenAddr string `json:"listen_addr"`

	// MetricsAddr is the HTTP address for metrics. Empty disables it.
	MetricsAddr string `json:"metrics_addr"`
}

// DefaultConfig returns the daemon defaults for this platform.
func DefaultConfig() Config {
	if runtime.GOOS == "windows" {
		return Config{Network: "tcp", ListenAddr: "127.0.0.1:9876", MetricsAddr: "127.0.0.1:9877"}
	}
	return Config{Network: "unix", ListenAddr: "/tmp/radview-engine.sock", MetricsAddr: "127.0.0.1:9877"}
}

// Server exposes one engine to any number of clients. Calls from all
// clients are serialized; every engine event goes to every client.
type Server struct {
	config Config
	eng    engine.Engine
	log    *logging.Logger
	relay  *engine.ListenerFunc

	metrics Metrics
	started time.Time

	listener net.Listener
	engMu    sync.Mutex
	mu       sync.Mutex
	clients  map[*serverConn]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *serverConn) send(t MessageType, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.conn, t, v)
}

// NewServer returns a server for eng. A nil logger discards output.
func NewServer(config Config, eng engine.Engine, log *logging.Logger) *Server {
	if config.Network == "" {
		config.Network = DefaultConfig().Network
	}
	if log == nil {
		log = logging.NopLogger()
	}
	s := &Server{
		config:  config,
		eng:     eng,
		log:     log.WithComponent("remote-server"),
		clients: make(map[*serverConn]struct{}),
	}
	s.relay = &engine.ListenerFunc{Fn: s.broadcast}
	return s
}

// Start listens, subscribes to engine events and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()

	if s.config.Network == "unix" {
		os.Remove(s.config.ListenAddr)
	}
	listener, err := net.Listen(s.config.Network, s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener

	for _, name := range engine.EventNames() {
		s.eng.AddEventListener(name, s.relay)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.config.MetricsAddr != "" {
		s.wg.Add(1)
		go s.serveMetrics(ctx)
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.log.Info("engine server listening", "addr", listener.Addr().String(), "network", s.config.Network)
	return nil
}

// Addr is the bound listener address, useful with port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client, then waits for goroutines.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.log.Info("shutting down engine server")
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		for _, name := range engine.EventNames() {
			s.eng.RemoveEventListener(name, s.relay)
		}
		s.mu.Lock()
		for c := range s.clients {
			c.conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}

// Metrics returns a snapshot of the server counters.
func (s *Server) Metrics() Metrics {
	return Metrics{
		Connections:   atomic.LoadInt64(&s.metrics.Connections),
		ActiveClients: atomic.LoadInt64(&s.metrics.ActiveClients),
		Requests:      atomic.LoadInt64(&s.metrics.Requests),
		EventsRelayed: atomic.LoadInt64(&s.metrics.EventsRelayed),
		ErrorCount:    atomic.LoadInt64(&s.metrics.ErrorCount),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept failed", "error", err)
			continue
		}

		c := &serverConn{conn: conn}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		atomic.AddInt64(&s.metrics.Connections, 1)
		atomic.AddInt64(&s.metrics.ActiveClients, 1)

		s.wg.Add(1)
		go s.handleConnection(ctx, c)
	}
}

// handleConnection serves requests from one client until it disconnects.
func (s *Server) handleConnection(ctx context.Context, c *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		atomic.AddInt64(&s.metrics.ActiveClients, -1)
		c.conn.Close()
	}()

	s.log.Debug("client connected", "remote", c.conn.RemoteAddr().String())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, payload, err := ReadMessage(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection read error", "error", err)
				atomic.AddInt64(&s.metrics.ErrorCount, 1)
			}
			return
		}
		if msgType != MsgRequest {
			s.log.Warn("unexpected message", "type", msgType.String())
			atomic.AddInt64(&s.metrics.ErrorCount, 1)
			continue
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.log.Warn("undecodable request", "error", err)
			atomic.AddInt64(&s.metrics.ErrorCount, 1)
			continue
		}
		atomic.AddInt64(&s.metrics.Requests, 1)

		resp := s.dispatch(ctx, req)
		if resp.Error != nil {
			atomic.AddInt64(&s.metrics.ErrorCount, 1)
		}
		if err := c.send(MsgResponse, resp); err != nil {
			s.log.Debug("response write failed", "error", err)
			return
		}
	}
}

// dispatch runs one request against the engine.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	s.engMu.Lock()
	defer s.engMu.Unlock()

	result, err := s.call(ctx, req)
	resp := Response{ID: req.ID, Error: toWireError(err)}
	if err == nil && result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			resp.Error = toWireError(mErr)
		} else {
			resp.Result = raw
		}
	}
	return resp
}

func (s *Server) call(ctx context.Context, req Request) (any, error) {
	decode := func(v any) error {
		if err := json.Unmarshal(req.Params, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadRequest, req.Method, err)
		}
		return nil
	}

	switch req.Method {
	case MethodInit:
		var opts engine.InitOptions
		if err := decode(&opts); err != nil {
			return nil, err
		}
		return nil, s.eng.Init(ctx, opts)
	case MethodLoadFiles:
		var lr engine.LoadRequest
		if err := decode(&lr); err != nil {
			return nil, err
		}
		return nil, s.eng.LoadFiles(lr)
	case MethodReset:
		return nil, s.eng.Reset()
	case MethodSetTool:
		var t tools.Tool
		if err := decode(&t); err != nil {
			return nil, err
		}
		return nil, s.eng.SetTool(t)
	case MethodSetViewConfigs:
		var cfg engine.DataViewConfigs
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		return nil, s.eng.SetDataViewConfigs(cfg)
	case MethodDataIDs:
		return s.eng.DataIDs()
	case MethodRender:
		var id string
		if err := decode(&id); err != nil {
			return nil, err
		}
		return nil, s.eng.Render(id)
	case MethodMetaData:
		var id string
		if err := decode(&id); err != nil {
			return nil, err
		}
		return s.eng.MetaData(id)
	case MethodCanScroll:
		return s.eng.CanScroll()
	case MethodResetDisplay:
		return nil, s.eng.ResetDisplay()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
}

// broadcast forwards an engine event to every connected client.
func (s *Server) broadcast(ev engine.RawEvent) {
	s.mu.Lock()
	clients := make([]*serverConn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(MsgEvent, ev); err != nil {
			s.log.Debug("event write failed", "error", err)
			atomic.AddInt64(&s.metrics.ErrorCount, 1)
			continue
		}
		atomic.AddInt64(&s.metrics.EventsRelayed, 1)
	}
}

// MetricsHandler serves /health, /metrics and /api/metrics.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Prometheus text format
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m := s.Metrics()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetric(w, "radview_connections_total", "Total client connections", "counter", m.Connections)
		writeMetric(w, "radview_active_clients", "Connected clients", "gauge", m.ActiveClients)
		writeMetric(w, "radview_requests_total", "Total engine requests", "counter", m.Requests)
		writeMetric(w, "radview_events_relayed_total", "Total engine events sent to clients", "counter", m.EventsRelayed)
		writeMetric(w, "radview_errors_total", "Total errors", "counter", m.ErrorCount)
		writeMetric(w, "radview_uptime_seconds", "Uptime in seconds", "gauge", m.UptimeSeconds)
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Metrics())
	})

	return mux
}

func writeMetric(w io.Writer, name, help, kind string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func (s *Server) serveMetrics(ctx context.Context) {
	defer s.wg.Done()

	server := &http.Server{
		Addr:              s.config.MetricsAddr,
		Handler:           s.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	s.log.Info("metrics server listening", "url", "http://"+s.config.MetricsAddr+"/metrics")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("metrics server", "error", err)
	}
}
