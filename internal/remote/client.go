package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

// ErrClientClosed is returned by calls made after the connection ended.
var ErrClientClosed = errors.New("remote engine connection closed")

// ErrTimeout is returned when the server does not answer in time.
var ErrTimeout = errors.New("remote engine request timed out")

// DefaultTimeout bounds every call except Init, which uses its context.
const DefaultTimeout = 10 * time.Second

// ClientOptions configures Dial.
type ClientOptions struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// Client is an engine.Engine backed by a Server. Events arrive on a reader
// goroutine and are delivered to listeners from there.
type Client struct {
	engine.Listeners

	conn    net.Conn
	timeout time.Duration
	log     *logging.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	err     error
	done    chan struct{}
}

var _ engine.Engine = (*Client)(nil)

// Dial connects to a server.
func Dial(ctx context.Context, network, addr string, opts ClientOptions) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing engine at %s: %w", addr, err)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	c := &Client{
		conn:    conn,
		timeout: opts.Timeout,
		log:     log.WithComponent("remote-client"),
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close ends the connection and fails outstanding calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClientClosed
		}
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		msgType, payload, err := ReadMessage(c.conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.log.Debug("engine connection ended", "error", err)
			}
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
			c.mu.Unlock()
			return
		}

		switch msgType {
		case MsgResponse:
			var resp Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				c.log.Warn("undecodable response", "error", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case MsgEvent:
			var ev engine.RawEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				c.log.Warn("undecodable event", "error", err)
				continue
			}
			c.Emit(ev)
		default:
			c.log.Warn("unexpected message", "type", msgType.String())
		}
	}
}

// call sends one request and decodes the result into out when non-nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		req.Params = raw
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := WriteMessage(c.conn, MsgRequest, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return fmt.Errorf("%w: %v", ErrClientClosed, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(req.ID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) timed(method string, params, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.call(ctx, method, params, out)
}

// Init applies the client timeout unless ctx already carries a deadline.
func (c *Client) Init(ctx context.Context, opts engine.InitOptions) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.call(ctx, MethodInit, opts, nil)
}

func (c *Client) LoadFiles(req engine.LoadRequest) error {
	return c.timed(MethodLoadFiles, req, nil)
}

func (c *Client) Reset() error {
	return c.timed(MethodReset, nil, nil)
}

func (c *Client) SetTool(t tools.Tool) error {
	return c.timed(MethodSetTool, t, nil)
}

func (c *Client) SetDataViewConfigs(cfg engine.DataViewConfigs) error {
	return c.timed(MethodSetViewConfigs, cfg, nil)
}

func (c *Client) DataIDs() ([]string, error) {
	var ids []string
	err := c.timed(MethodDataIDs, nil, &ids)
	return ids, err
}

func (c *Client) Render(dataID string) error {
	return c.timed(MethodRender, dataID, nil)
}

func (c *Client) MetaData(dataID string) (map[string]string, error) {
	var meta map[string]string
	err := c.timed(MethodMetaData, dataID, &meta)
	return meta, err
}

func (c *Client) CanScroll() (bool, error) {
	var ok bool
	err := c.timed(MethodCanScroll, nil, &ok)
	return ok, err
}

func (c *Client) ResetDisplay() error {
	return c.timed(MethodResetDisplay, nil, nil)
}
