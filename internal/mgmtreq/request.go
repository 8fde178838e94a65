// Package mgmtreq implements the worker-management request object of
// spec.md §4.7 (C7): a retained per-worker RPC with a CREATED → IN_PROGRESS
// → FINISHED state machine, a persistence hook, and exactly-once
// completion callback delivery, built on top of the async HTTP client
// (C2, package asyncreq).
package mgmtreq

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qserv-ingest/czarctl/internal/asyncreq"
	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// State is the primary lifecycle state (spec.md §3, §4.7).
type State int

const (
	StateCreated State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ExtendedState refines State == StateFinished (spec.md §3, §4.7).
type ExtendedState int

const (
	ExtNone ExtendedState = iota
	ExtSuccess
	ExtConfigError
	ExtBodyLimitError
	ExtServerBad
	ExtServerChunkInUse
	ExtServerError
	ExtServerBadResponse
	ExtTimeoutExpired
	ExtCancelled
)

func (s ExtendedState) String() string {
	switch s {
	case ExtNone:
		return "NONE"
	case ExtSuccess:
		return "SUCCESS"
	case ExtConfigError:
		return "CONFIG_ERROR"
	case ExtBodyLimitError:
		return "BODY_LIMIT_ERROR"
	case ExtServerBad:
		return "SERVER_BAD"
	case ExtServerChunkInUse:
		return "SERVER_CHUNK_IN_USE"
	case ExtServerError:
		return "SERVER_ERROR"
	case ExtServerBadResponse:
		return "SERVER_BAD_RESPONSE"
	case ExtTimeoutExpired:
		return "TIMEOUT_EXPIRED"
	case ExtCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Performance tracks the three timestamps of a request's lifetime.
type Performance struct {
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Impl is implemented by each concrete request type (test-echo,
// set-replicas, remove-replica) per spec.md §4.7.
type Impl interface {
	// Type is the request's symbolic name, used for logging and
	// persistence.
	Type() string

	// CreateHTTPRequest materializes the outbound call against a
	// worker's base URL, returning the method, path, and JSON body.
	CreateHTTPRequest(workerBaseURL string) (method httpx.Method, target string, body []byte, err error)

	// DataReady is invoked once a 2xx, success:1 response has been
	// parsed. It picks the final extended state (typically
	// ExtSuccess) and may stash parsed fields on the Impl itself.
	DataReady(data map[string]interface{}) (ExtendedState, error)

	// PersistentState returns an ordered list of (key, value) pairs
	// for optional storage (extendedPersistentState hook).
	PersistentState() [][2]string
}

// CallbackType is invoked exactly once on completion.
type CallbackType func(*Request)

// Request is a retained worker-management RPC object.
type Request struct {
	mu sync.Mutex

	logger *zap.Logger
	impl   Impl

	workerName    string
	workerBaseURL string
	headers       map[string]string

	state         State
	extendedState ExtendedState
	perf          Performance
	jobID         string
	serverError   string
	responseJSON  map[string]interface{}

	onFinish CallbackType
	client   *asyncreq.Client
	done     chan struct{}

	defaultExpirationSec uint
	maxResponseBodySize  int64
}

// New constructs a Request in StateCreated.
func New(logger *zap.Logger, impl Impl, workerName, workerBaseURL string, headers map[string]string,
	onFinish CallbackType, defaultExpirationSec uint) *Request {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Request{
		logger:                logger,
		impl:                  impl,
		workerName:            workerName,
		workerBaseURL:         workerBaseURL,
		headers:               headers,
		state:                 StateCreated,
		perf:                  Performance{CreatedAt: time.Now()},
		onFinish:              onFinish,
		defaultExpirationSec:  defaultExpirationSec,
		maxResponseBodySize:   asyncreq.DefaultMaxResponseBodySize,
		done:                  make(chan struct{}),
	}
}

// WorkerName returns the target worker's identity.
func (r *Request) WorkerName() string { return r.workerName }

// State returns the primary lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ExtendedState returns the refined state; only meaningful once
// State() == StateFinished.
func (r *Request) ExtendedState() ExtendedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extendedState
}

// ServerError returns the error message captured from the worker, if any.
func (r *Request) ServerError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serverError
}

// Performance returns a copy of the recorded timestamps.
func (r *Request) Performance() Performance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perf
}

// JobID returns the owning job's identifier; only valid once Start has
// been called.
func (r *Request) JobID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateCreated {
		return "", fmt.Errorf("logic error: jobId unavailable before start()")
	}
	return r.jobID, nil
}

// PersistentState delegates to the Impl's extendedPersistentState hook.
func (r *Request) PersistentState() [][2]string { return r.impl.PersistentState() }

// Start transitions CREATED → IN_PROGRESS, materializes the outbound HTTP
// call via the Impl hook, and arms the expiration timer (0 ⇒ use the
// request's configured default; spec.md §4.7).
func (r *Request) Start(jobID string, expirationIvalSec uint) error {
	r.mu.Lock()
	if r.state != StateCreated {
		r.mu.Unlock()
		return fmt.Errorf("logic error: start() called in state %s", r.state)
	}
	r.state = StateInProgress
	r.jobID = jobID
	r.perf.StartedAt = time.Now()
	r.mu.Unlock()

	method, target, body, err := r.impl.CreateHTTPRequest(r.workerBaseURL)
	if err != nil {
		r.finish(ExtConfigError, err.Error(), nil)
		return nil
	}

	exp := expirationIvalSec
	if exp == 0 {
		exp = r.defaultExpirationSec
	}

	client, err := asyncreq.New(r.logger, r.onClientFinish, method, r.workerBaseURL+target, body,
		r.headers, r.maxResponseBodySize, exp)
	if err != nil {
		r.finish(ExtConfigError, err.Error(), nil)
		return nil
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	return client.Start()
}

func (r *Request) onClientFinish(c *asyncreq.Client) {
	switch c.State() {
	case asyncreq.StateFinished:
		r.handleResponse(c)
	case asyncreq.StateBodyLimitError:
		r.finish(ExtBodyLimitError, "response body exceeded the configured cap", nil)
	case asyncreq.StateExpired:
		r.finish(ExtTimeoutExpired, c.ErrorMessage(), nil)
	case asyncreq.StateCancelled:
		r.finish(ExtCancelled, "", nil)
	default:
		r.finish(ExtServerBadResponse, c.ErrorMessage(), nil)
	}
}

func (r *Request) handleResponse(c *asyncreq.Client) {
	code, err := c.ResponseCode()
	if err != nil {
		r.finish(ExtServerBadResponse, err.Error(), nil)
		return
	}
	body, err := c.ResponseBody()
	if err != nil {
		r.finish(ExtServerBadResponse, err.Error(), nil)
		return
	}

	var parsed map[string]interface{}
	if len(body) > 0 {
		if jerr := wireJSON.Unmarshal(body, &parsed); jerr != nil {
			r.finish(ExtServerBadResponse, fmt.Sprintf("malformed JSON response: %v", jerr), nil)
			return
		}
	}

	if code < 200 || code >= 300 {
		r.finish(ExtServerError, extractError(parsed, fmt.Sprintf("HTTP status %d", code)), parsed)
		return
	}
	if success, ok := parsed["success"]; ok {
		if n, ok := toFloat(success); ok && n == 0 {
			r.finish(ExtServerError, extractError(parsed, "server reported success=0"), parsed)
			return
		}
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.finish(ExtServerBadResponse, fmt.Sprintf("dataReady panicked: %v", rec), parsed)
			}
		}()
		ext, derr := r.impl.DataReady(parsed)
		if derr != nil {
			r.finish(ExtServerBadResponse, derr.Error(), parsed)
			return
		}
		r.finish(ext, "", parsed)
	}()
}

func extractError(parsed map[string]interface{}, fallback string) string {
	if parsed == nil {
		return fallback
	}
	if e, ok := parsed["error"].(string); ok && e != "" {
		return e
	}
	return fallback
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Cancel is equivalent to an explicit expiration: it lands the request in
// FINISHED × CANCELLED (spec.md §4.7).
func (r *Request) Cancel() bool {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client != nil {
		return client.Cancel()
	}
	return r.finish(ExtCancelled, "", nil)
}

// Wait blocks until the request reaches StateFinished.
func (r *Request) Wait() { <-r.done }

// finish performs the FINISHED transition exactly once and fires the
// completion callback, clearing the stored callback first to guarantee
// exactly-once delivery and break the request/callback reference cycle.
func (r *Request) finish(ext ExtendedState, serverError string, responseJSON map[string]interface{}) bool {
	r.mu.Lock()
	if r.state == StateFinished {
		r.mu.Unlock()
		return false
	}
	r.state = StateFinished
	r.extendedState = ext
	r.serverError = serverError
	r.responseJSON = responseJSON
	r.perf.FinishedAt = time.Now()
	cb := r.onFinish
	r.onFinish = nil
	r.mu.Unlock()

	close(r.done)
	if cb != nil {
		go cb(r)
	}
	return true
}
