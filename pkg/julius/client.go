package julius

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"github.com/saker-ai/julius-bridge/internal/transport/julius/codec"
)

const drainWindow = 10 * time.Millisecond

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Client is one connection to a Julius module server. Writes (Send) are safe
// from any goroutine. Reads are owned either by the caller (ReadDocument,
// WaitFor, Recognize, Drain) or by the dispatcher started with Start, never
// both at once.
type Client struct {
	cfg      Config
	enc      encoding.Encoding
	hooks    Hooks
	logger   *zap.Logger
	modelize atomic.Bool
	results  *ResultStream

	mu         sync.Mutex
	state      State
	conn       net.Conn
	reader     *codec.Reader
	dispatcher *dispatcher

	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewClient validates cfg and returns a disconnected client.
func NewClient(cfg Config, hooks Hooks, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = normalizeConfig(cfg)
	enc, err := codec.LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	client := &Client{
		cfg:     cfg,
		enc:     enc,
		hooks:   hooks,
		logger:  logger.With(zap.String("julius_addr", cfg.Addr())),
		results: NewResultStream(),
		state:   StateDisconnected,
	}
	client.modelize.Store(cfg.Modelize)
	return client, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Results returns the stream the dispatcher publishes to.
func (c *Client) Results() *ResultStream {
	return c.results
}

// SetModelize toggles Sentence conversion for subsequently read documents.
func (c *Client) SetModelize(enabled bool) {
	c.modelize.Store(enabled)
}

// Modelize reports whether RECOGOUT documents are converted.
func (c *Client) Modelize() bool {
	return c.modelize.Load()
}

// Connect dials the server. On failure it returns a *ConnectionError and the
// client stays disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateConnected {
		return ErrAlreadyConnected
	}
	addr := c.cfg.Addr()
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.logger.Info("julius connecting")
	conn, err := c.cfg.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.logger.Warn("julius connect failed", zap.Error(err))
		return &ConnectionError{Addr: addr, Err: err}
	}

	reader := codec.NewReader(conn, c.enc, c.cfg.PollInterval)
	reader.OnLine = c.observeLine
	reader.OnBlock = c.hooks.OnBlock

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.reader = reader
	c.dispatcher = nil
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("julius connected")
	c.notifyState(StateConnected)
	return nil
}

// Disconnect shuts down both directions of the socket and closes it. Stop and
// Join a running dispatcher first.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.conn = nil
	c.reader = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
	}
	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	c.logger.Info("julius disconnected")
	c.notifyState(StateDisconnected)
	return err
}

// Send writes command, waiting at most timeout for the socket to accept it.
// timeout <= 0 uses Config.SendTimeout. When the deadline passes the error is
// a *SendTimeoutError.
func (c *Client) Send(ctx context.Context, command string, timeout time.Duration) error {
	err := c.send(ctx, command, timeout)
	if c.hooks.OnSend != nil {
		c.hooks.OnSend(command, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, command string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = c.cfg.SendTimeout
	}
	payload, err := c.enc.NewEncoder().String(command)
	if err != nil {
		return fmt.Errorf("julius: encode command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("julius: send: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	n, err := conn.Write([]byte(payload))
	stop()
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Warn("julius send timed out", zap.Duration("timeout", timeout), zap.Int("written", n))
			return &SendTimeoutError{Command: command, After: timeout, Written: n}
		}
		return fmt.Errorf("julius: send: %w", err)
	}
	c.logger.Debug("julius command sent", zap.String("command", command))
	return nil
}

// Drain discards stale server output and returns the number of bytes dropped.
func (c *Client) Drain() (int, error) {
	if !c.readMu.TryLock() {
		return 0, ErrReaderBusy
	}
	defer c.readMu.Unlock()
	reader, err := c.currentReader()
	if err != nil {
		return 0, err
	}
	n, err := reader.Discard(drainWindow)
	if n > 0 {
		c.logger.Debug("julius input drained", zap.Int("bytes", n))
	}
	return n, err
}

// ReadDocument blocks for the next document on the caller's goroutine.
func (c *Client) ReadDocument(ctx context.Context) (*Document, error) {
	if !c.readMu.TryLock() {
		return nil, ErrReaderBusy
	}
	defer c.readMu.Unlock()
	reader, err := c.currentReader()
	if err != nil {
		return nil, err
	}
	return c.readDocument(ctx, reader)
}

// WaitFor reads and drops documents until one with the given root tag arrives.
func (c *Client) WaitFor(ctx context.Context, tag string) (*Document, error) {
	if !c.readMu.TryLock() {
		return nil, ErrReaderBusy
	}
	defer c.readMu.Unlock()
	reader, err := c.currentReader()
	if err != nil {
		return nil, err
	}
	for {
		doc, err := c.readDocument(ctx, reader)
		if err != nil {
			return nil, err
		}
		if doc.Tag() == tag {
			return doc, nil
		}
	}
}

// Recognize blocks until the next recognition result and converts it,
// consuming every document before it.
func (c *Client) Recognize(ctx context.Context) (Sentence, error) {
	doc, err := c.WaitFor(ctx, TagRecogOut)
	if err != nil {
		return Sentence{}, err
	}
	return SentenceFromDocument(doc)
}

// Start runs the dispatcher in its own goroutine until Stop, the end of the
// event stream, or cancellation of ctx, which must outlive the dispatcher. A
// stopped dispatcher is replaced by a new one on the next Start.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return ErrNotConnected
	}
	if c.dispatcher != nil && c.dispatcher.State() == DispatcherRunning {
		return ErrDispatcherRunning
	}
	if !c.readMu.TryLock() {
		return ErrReaderBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	d := newDispatcher(c, c.reader, cancel, c.readMu.Unlock)
	c.dispatcher = d
	go d.run(runCtx)
	return nil
}

// Stop asks the dispatcher to end. It returns at once; use Join to wait.
func (c *Client) Stop() {
	if d := c.currentDispatcher(); d != nil {
		d.stop()
	}
}

// Join waits for the dispatcher to end. It returns nil after Stop or the end
// of the event stream, and the conversion error when a recognition document
// could not be converted.
func (c *Client) Join(ctx context.Context) error {
	d := c.currentDispatcher()
	if d == nil {
		return nil
	}
	select {
	case <-d.done:
		return d.fatal()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current dispatcher ends. It is already closed when
// none was started.
func (c *Client) Done() <-chan struct{} {
	if d := c.currentDispatcher(); d != nil {
		return d.done
	}
	return closedChan
}

// Err reports why the dispatcher ended: ErrDispatcherStopped after Stop,
// ErrStreamEnded when the stream closed or a block did not parse, or a
// *ProtocolError. It is nil while the dispatcher runs.
func (c *Client) Err() error {
	if d := c.currentDispatcher(); d != nil {
		return d.Err()
	}
	return nil
}

// DispatcherState returns the state of the current dispatcher.
func (c *Client) DispatcherState() DispatcherState {
	if d := c.currentDispatcher(); d != nil {
		return d.State()
	}
	return DispatcherIdle
}

// Next returns the oldest published result. Once the dispatcher has ended and
// the stream is empty it returns the dispatcher's Err.
func (c *Client) Next(ctx context.Context) (Result, error) {
	for {
		if r, ok := c.results.TryGet(); ok {
			return r, nil
		}
		d := c.currentDispatcher()
		if d == nil {
			return Result{}, ErrDispatcherStopped
		}
		select {
		case <-c.results.Ready():
		case <-d.done:
			if r, ok := c.results.TryGet(); ok {
				return r, nil
			}
			return Result{}, d.Err()
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (c *Client) readDocument(ctx context.Context, reader *codec.Reader) (*Document, error) {
	doc, err := reader.ReadDocument(ctx)
	if err != nil {
		if errors.Is(err, codec.ErrMalformedBlock) && c.hooks.OnMalformed != nil {
			c.hooks.OnMalformed(err)
		}
		return nil, err
	}
	if c.hooks.OnDocument != nil {
		c.hooks.OnDocument(doc)
	}
	return doc, nil
}

func (c *Client) project(doc *Document) (Result, error) {
	result := Result{Kind: ResultDocument, Document: doc, ReceivedAt: time.Now()}
	if !c.modelize.Load() || doc.Tag() != TagRecogOut {
		return result, nil
	}
	sentence, err := SentenceFromDocument(doc)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultSentence, Sentence: &sentence, ReceivedAt: result.ReceivedAt}, nil
}

func (c *Client) currentReader() (*codec.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil, ErrNotConnected
	}
	return c.reader, nil
}

func (c *Client) currentDispatcher() *dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatcher
}

func (c *Client) observeLine(line string) {
	c.logger.Debug("julius line", zap.String("line", line))
	if c.hooks.OnLine != nil {
		c.hooks.OnLine(line)
	}
}

func (c *Client) notifyState(state State) {
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(state)
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
