// Package asyncreq implements the one-shot, non-blocking HTTP/1.1 client
// described in spec.md §4.2 (C2). A Client is constructed once, started
// with Start, and reports completion exactly once through an optional
// callback and through Wait. Unlike a plain http.Client.Do call, it owns
// a retry policy, a dynamic endpoint resolver, an expiration timer, and a
// distinguishable body-size-cap failure — none of which net/http exposes
// directly, so the state machine lives here on top of it.
package asyncreq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// State is the lifecycle of a Client, per spec.md §4.2.
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateFinished
	StateFailed
	StateBodyLimitError
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateFinished:
		return "FINISHED"
	case StateFailed:
		return "FAILED"
	case StateBodyLimitError:
		return "BODY_LIMIT_ERROR"
	case StateCancelled:
		return "CANCELLED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// terminal reports whether s is one of the states start() can no longer
// leave.
func (s State) terminal() bool {
	switch s {
	case StateFinished, StateFailed, StateBodyLimitError, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// DefaultMaxResponseBodySize is assumed when a Client is constructed with
// maxResponseBodySize == 0, mirroring the 8MB default the reference
// implementation inherits from Boost.Beast.
const DefaultMaxResponseBodySize = 8 * 1024 * 1024

// retryDelay is the fixed spacing between re-attempts (spec.md §4.2).
const retryDelay = time.Second

// EndpointProvider re-resolves (host, port) before each connection
// attempt. Returning an error causes the previous endpoint to be reused
// (spec.md §4.2, "Retry policy").
type EndpointProvider func() (host string, port uint16, err error)

// CallbackType is invoked exactly once on completion, never while the
// client's internal lock is held (spec.md §4.2, "Completion").
type CallbackType func(*Client)

// Client is a single HTTP request/response exchange with retry and
// expiration semantics layered on top of net/http.
type Client struct {
	mu       sync.Mutex
	state    State
	method   httpx.Method
	url      httpx.Url
	body     []byte
	headers  map[string]string
	maxBody  int64
	expireAt time.Duration
	provider EndpointProvider
	onFinish CallbackType
	logger   *zap.Logger

	httpClient *http.Client

	cancelFn context.CancelFunc
	expired  atomic.Bool
	done     chan struct{}

	respCode   int
	respHeader http.Header
	respBody   []byte
	bodyTooBig bool
	errMessage string
}

// New constructs a Client in StateCreated. Construction is pure: no I/O
// happens until Start is called.
func New(logger *zap.Logger, onFinish CallbackType, method httpx.Method, rawURL string, body []byte,
	headers map[string]string, maxResponseBodySize int64, expirationIvalSec uint) (*Client, error) {
	u, err := httpx.ParseUrl(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: %w", err)
	}
	if u.IsDataCSV() {
		return nil, fmt.Errorf("invalid argument: asyncreq.Client only speaks http, got %s", rawURL)
	}
	if maxResponseBodySize <= 0 {
		maxResponseBodySize = DefaultMaxResponseBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		state:    StateCreated,
		method:   method,
		url:      u,
		body:     body,
		headers:  headers,
		maxBody:  maxResponseBodySize,
		expireAt: time.Duration(expirationIvalSec) * time.Second,
		onFinish: onFinish,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 0, // expiration is managed by our own context, not the client
		},
		done: make(chan struct{}),
	}, nil
}

// WithEndpointProvider installs a dynamic (host, port) resolver invoked
// before each connection attempt. Must be called before Start.
func (c *Client) WithEndpointProvider(p EndpointProvider) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins processing the request. It returns a logic error if the
// client already started or finished (spec.md §4.2, "Cancellation":
// "Post-cancel, start() fails with logic error").
func (c *Client) Start() error {
	c.mu.Lock()
	if c.state != StateCreated {
		c.mu.Unlock()
		return fmt.Errorf("logic error: start() called in state %s", c.state)
	}
	c.state = StateInProgress
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFn = cancel
	c.mu.Unlock()

	if c.expireAt > 0 {
		timer := time.AfterFunc(c.expireAt, func() {
			c.expired.Store(true)
			cancel()
		})
		go func() {
			<-c.done
			timer.Stop()
		}()
	}

	go c.run(ctx)
	return nil
}

// Cancel requests termination of an in-flight request. It is idempotent
// and safe to call from any goroutine; it reports whether it actually
// performed the CANCELLED transition (spec.md §4.2, §5).
func (c *Client) Cancel() bool {
	c.mu.Lock()
	if c.state == StateCreated || c.state.terminal() {
		c.mu.Unlock()
		return false
	}
	cancel := c.cancelFn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// _finish is idempotent and first-write-wins against the run loop's
	// own terminal transitions, so at most one caller ever observes true.
	return c._finish(StateCancelled, "")
}

// Wait blocks until the request reaches a terminal state. Safe to call
// from any goroutine, including after completion.
func (c *Client) Wait() {
	<-c.done
}

// ResponseCode returns the HTTP status code. Valid only in StateFinished
// or StateBodyLimitError.
func (c *Client) ResponseCode() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFinished && c.state != StateBodyLimitError {
		return 0, fmt.Errorf("logic error: no response code in state %s", c.state)
	}
	return c.respCode, nil
}

// ResponseHeader returns the response header map. Valid in StateFinished
// or StateBodyLimitError (the header is preserved even when the body
// exceeded the cap).
func (c *Client) ResponseHeader() (http.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFinished && c.state != StateBodyLimitError {
		return nil, fmt.Errorf("logic error: no response header in state %s", c.state)
	}
	return c.respHeader, nil
}

// ResponseBody returns the response body. It is inaccessible (returns an
// error) when the body exceeded the configured cap, even though the
// client reached a terminal state.
func (c *Client) ResponseBody() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFinished {
		return nil, fmt.Errorf("logic error: response body not available in state %s", c.state)
	}
	return c.respBody, nil
}

// ErrorMessage returns the last error message recorded for a failed,
// expired, or cancelled request.
func (c *Client) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMessage
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	host, port := c.url.Host, c.url.Port
	for {
		select {
		case <-ctx.Done():
			if c.expired.Load() {
				c._finish(StateExpired, "expiration timer elapsed")
			} else {
				c._finish(StateCancelled, "")
			}
			return
		default:
		}

		attempt++
		if c.provider != nil {
			h, p, err := c.provider()
			if err != nil {
				c.logger.Debug("endpoint provider failed, reusing previous endpoint",
					zap.Int("attempt", attempt), zap.Error(err))
			} else {
				host, port = h, p
			}
		}

		code, header, body, tooBig, err := c.attempt(ctx, host, port)
		if err == nil {
			if tooBig {
				c.respCode = code
				c.respHeader = header
				c.bodyTooBig = true
				c._finish(StateBodyLimitError, "")
			} else {
				c.respCode = code
				c.respHeader = header
				c.respBody = body
				c._finish(StateFinished, "")
			}
			return
		}

		c.logger.Debug("transport attempt failed, will retry",
			zap.Int("attempt", attempt), zap.String("host", host), zap.Uint16("port", port), zap.Error(err))

		select {
		case <-ctx.Done():
			if c.expired.Load() {
				c._finish(StateExpired, "expiration timer elapsed")
			} else {
				c._finish(StateCancelled, "")
			}
			return
		case <-time.After(retryDelay):
		}
	}
}

// attempt performs a single connect/send/receive cycle. A non-nil error
// means transport failure (retryable); tooBig means the response header
// arrived but the body exceeded c.maxBody.
func (c *Client) attempt(ctx context.Context, host string, port uint16) (code int, header http.Header, body []byte, tooBig bool, err error) {
	target := fmt.Sprintf("http://%s:%d%s", host, port, c.url.Target)
	if c.url.Query != "" {
		target += "?" + c.url.Query
	}

	methodStr, merr := httpx.Method2String(c.method)
	if merr != nil {
		return 0, nil, nil, false, merr
	}

	var bodyReader io.Reader
	if len(c.body) > 0 {
		bodyReader = bytes.NewReader(c.body)
	}

	req, rerr := http.NewRequestWithContext(ctx, methodStr, target, bodyReader)
	if rerr != nil {
		return 0, nil, nil, false, rerr
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, derr := c.httpClient.Do(req)
	if derr != nil {
		return 0, nil, nil, false, derr
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.maxBody+1)
	data, rderr := io.ReadAll(limited)
	if rderr != nil {
		return 0, nil, nil, false, rderr
	}
	if int64(len(data)) > c.maxBody {
		return resp.StatusCode, resp.Header.Clone(), nil, true, nil
	}
	return resp.StatusCode, resp.Header.Clone(), data, false, nil
}

// _finish transitions to a terminal state exactly once and fires the
// completion callback. Returns whether this call performed the
// transition (used by Cancel's return value).
func (c *Client) _finish(final State, errMessage string) bool {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = final
	if errMessage != "" {
		c.errMessage = errMessage
	}
	cb := c.onFinish
	// Clear the stored callback before releasing the lock so the
	// request/closure cycle is broken and re-entrant Cancel() calls
	// never fire it twice.
	c.onFinish = nil
	c.mu.Unlock()

	close(c.done)

	if cb != nil {
		go cb(c)
	}
	return true
}
