// Package queryctl implements the async query control surface named in
// spec.md §6's external interface table: submit, cancel, status, result
// fetch, and result drop. Grounded on
// original_source/src/czar/HttpCzarQueryModule.cc's
// _submitAsync/_cancel/_status/_result/_resultDelete submodules.
//
// Per SPEC_FULL.md's scope note this package supplies routing, state
// tracking, and the JSON envelope only. The original's SQL dialect and
// the work of actually distributing, executing, and merging chunk
// queries (the Executive/UserQuerySelect machinery) are out of scope;
// a query submitted here starts EXECUTING and stays there until some
// external caller (normally the chunk-fan-out machinery this module
// does not implement) reports it COMPLETED, FAILED, or the client
// cancels it.
package queryctl

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/modreq"
	"github.com/qserv-ingest/czarctl/internal/stream"
	"github.com/qserv-ingest/czarctl/internal/workeringest"
	"github.com/qserv-ingest/czarctl/middleware"
)

// Status is one of the four terminal/non-terminal states a tracked
// query can be in (HttpCzarQueryModule::_status's "status" field).
type Status string

const (
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusAborted   Status = "ABORTED"
)

// ColumnSchema is one column of a query's result set, carrying enough
// information to render its cells (HttpCzarQueryModule::_schemaToJson).
type ColumnSchema struct {
	Table    string
	Column   string
	Type     string
	IsBinary bool
}

// Result is a completed query's result set: declared column schema plus
// a row-major cell matrix.
type Result struct {
	Schema []ColumnSchema
	Rows   [][]interface{}
}

// Record is the tracked state of one async query (the fields of
// spec.md §6's status tuple, plus its optional Result once COMPLETED).
type Record struct {
	QueryID         uint64
	Status          Status
	CzarID          uint32
	CzarType        string
	TotalChunks     int
	CompletedChunks int
	CollectedBytes  uint64
	CollectedRows   uint64
	FinalRows       uint64
	QueryBeginEpoch int64
	LastUpdateEpoch int64
	Error           string
	Result          *Result
}

// StatusJSON renders the spec.md §6 status tuple.
func (r Record) StatusJSON() map[string]any {
	return map[string]any{
		"queryId":         r.QueryID,
		"status":          string(r.Status),
		"czarId":          r.CzarID,
		"czarType":        r.CzarType,
		"totalChunks":     r.TotalChunks,
		"completedChunks": r.CompletedChunks,
		"collectedBytes":  r.CollectedBytes,
		"collectedRows":   r.CollectedRows,
		"finalRows":       r.FinalRows,
		"queryBeginEpoch": r.QueryBeginEpoch,
		"lastUpdateEpoch": r.LastUpdateEpoch,
	}
}

// Tracker owns the lifecycle of tracked async queries: creation,
// progress updates, cancellation, and the terminal result (or its
// deletion). It is the Go analog of the original's in-memory
// QueryId-to-Executive map guarded by Czar's own mutex.
type Tracker interface {
	Create(czarID uint32, czarType string, totalChunks int, nowEpoch int64) Record
	Get(queryID uint64) (Record, error)
	Cancel(queryID uint64, nowEpoch int64) error
	Complete(queryID uint64, result Result, finalRows uint64, nowEpoch int64) error
	Fail(queryID uint64, reason string, nowEpoch int64) error
	DeleteResult(queryID uint64) error
}

// MemTracker is an in-process Tracker guarded by a single mutex,
// matching the original's observation that query state lives in a
// single Czar process's memory, never replicated (spec.md §9, "Shared
// mutable state").
type MemTracker struct {
	mu      sync.Mutex
	nextID  uint64
	records map[uint64]*Record
}

// NewMemTracker returns an empty tracker. firstQueryID seeds the
// counter so ids don't collide across a process restart in tests that
// want deterministic, non-overlapping ranges.
func NewMemTracker(firstQueryID uint64) *MemTracker {
	return &MemTracker{nextID: firstQueryID, records: map[uint64]*Record{}}
}

func (t *MemTracker) Create(czarID uint32, czarType string, totalChunks int, nowEpoch int64) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	rec := Record{
		QueryID:         id,
		Status:          StatusExecuting,
		CzarID:          czarID,
		CzarType:        czarType,
		TotalChunks:     totalChunks,
		QueryBeginEpoch: nowEpoch,
		LastUpdateEpoch: nowEpoch,
	}
	t.records[id] = &rec
	return rec
}

func (t *MemTracker) Get(queryID uint64) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[queryID]
	if !ok {
		return Record{}, fmt.Errorf("unknown queryId %d", queryID)
	}
	return *rec, nil
}

func (t *MemTracker) Cancel(queryID uint64, nowEpoch int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[queryID]
	if !ok {
		return fmt.Errorf("unknown queryId %d", queryID)
	}
	if rec.Status != StatusExecuting {
		return nil // idempotent: cancelling an already-terminal query is not an error
	}
	rec.Status = StatusAborted
	rec.LastUpdateEpoch = nowEpoch
	return nil
}

func (t *MemTracker) Complete(queryID uint64, result Result, finalRows uint64, nowEpoch int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[queryID]
	if !ok {
		return fmt.Errorf("unknown queryId %d", queryID)
	}
	rec.Status = StatusCompleted
	rec.Result = &result
	rec.FinalRows = finalRows
	rec.CompletedChunks = rec.TotalChunks
	rec.LastUpdateEpoch = nowEpoch
	return nil
}

func (t *MemTracker) Fail(queryID uint64, reason string, nowEpoch int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[queryID]
	if !ok {
		return fmt.Errorf("unknown queryId %d", queryID)
	}
	rec.Status = StatusFailed
	rec.Error = reason
	rec.LastUpdateEpoch = nowEpoch
	return nil
}

// DeleteResult drops a completed query's result and message state,
// matching HttpCzarQueryModule::_resultDelete's drop of the result and
// message tables. The status record itself survives so a subsequent
// status poll still reports the terminal state; only the row/schema
// payload is discarded.
func (t *MemTracker) DeleteResult(queryID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[queryID]
	if !ok {
		return fmt.Errorf("unknown queryId %d", queryID)
	}
	rec.Result = nil
	return nil
}

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Tracker Tracker
	NowFunc func() int64
}

func (d Deps) now() int64 {
	if d.NowFunc != nil {
		return d.NowFunc()
	}
	return 0
}

// SubmitHandler implements POST /query-async (HttpCzarQueryModule::_submitAsync).
// It does not execute the query; it only starts tracking it and returns
// {queryId}, matching this package's routing/state-tracking-only scope.
func SubmitHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		query, _ := body["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("invalid argument: the 'query' field is required")
		}
		czarID, _ := body["czar_id"].(float64)
		czarType, _ := body["czar_type"].(string)
		if czarType == "" {
			czarType = "client"
		}
		rec := deps.Tracker.Create(uint32(czarID), czarType, 0, deps.now())
		return map[string]any{"queryId": rec.QueryID}, nil
	})
}

// CancelHandler implements DELETE /query-async/:qid (HttpCzarQueryModule::_cancel).
func CancelHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		queryID, err := parseQueryID(c)
		if err != nil {
			return nil, err
		}
		if err := deps.Tracker.Cancel(queryID, deps.now()); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
}

// StatusHandler implements GET /query-async/status/:qid (HttpCzarQueryModule::_status).
func StatusHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		queryID, err := parseQueryID(c)
		if err != nil {
			return nil, err
		}
		rec, err := deps.Tracker.Get(queryID)
		if err != nil {
			return nil, err
		}
		return rec.StatusJSON(), nil
	})
}

// ResultHandler implements GET /query-async/result/:qid
// (HttpCzarQueryModule::_result): it renders the stored schema and rows
// of a COMPLETED query. Cell encoding matches _rowsToJson: NULL stays
// null, binary columns render hex-encoded, everything else renders as
// its native JSON type.
//
// A request carrying ?stream=1 gets the same schema/rows payload
// chunked incrementally through internal/stream instead of built up as
// one in-memory envelope, for result sets too large to hold whole; this
// mirrors the teacher's own large-table streaming endpoints.
func ResultHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	jsonHandler := resultJSONHandler(cfg, deps)
	streamHandler := resultStreamHandler(cfg, deps)
	return func(c *gin.Context) {
		if c.Query("stream") == "1" {
			streamHandler(c)
			return
		}
		jsonHandler(c)
	}
}

func resultJSONHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		queryID, err := parseQueryID(c)
		if err != nil {
			return nil, err
		}
		rec, err := deps.Tracker.Get(queryID)
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusCompleted || rec.Result == nil {
			return nil, fmt.Errorf("queryId=%d has no result available (status=%s)", queryID, rec.Status)
		}
		return map[string]any{
			"schema": schemaToJSON(rec.Result.Schema),
			"rows":   rowsToJSON(rec.Result.Schema, rec.Result.Rows),
		}, nil
	})
}

// resultStreamHandler repeats resultJSONHandler's auth/lookup checks by
// hand, since its success path writes through middleware.sendStream
// rather than returning a value to modreq.Handler's envelope.
func resultStreamHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		send := c.MustGet("send").(func(middleware.Response))
		sendStream := c.MustGet("sendStream").(func(middleware.StreamResponse))
		fail := func(err error) {
			send(middleware.Response{Code: http.StatusOK, Message: "Result stream failed: " + err.Error(), Error: err})
		}

		queryID, err := parseQueryID(c)
		if err != nil {
			fail(err)
			return
		}

		authKey, adminKey := c.Query("auth_key"), c.Query("admin_auth_key")
		body := map[string]interface{}{"auth_key": authKey, "admin_auth_key": adminKey}
		if _, err := modreq.CheckAuth(modreq.AuthRequired, cfg.Auth, c.Request.Header, body); err != nil {
			fail(err)
			return
		}

		rec, err := deps.Tracker.Get(queryID)
		if err != nil {
			fail(err)
			return
		}
		if rec.Status != StatusCompleted || rec.Result == nil {
			fail(fmt.Errorf("queryId=%d has no result available (status=%s)", queryID, rec.Status))
			return
		}

		schema, rows := rec.Result.Schema, rec.Result.Rows
		streamer := stream.NewStreamer[[]interface{}](stream.DefaultChunkConfig())
		fetcher := func(ctx context.Context) (<-chan []interface{}, <-chan error) {
			dataCh := make(chan []interface{})
			errCh := make(chan error, 1)
			go func() {
				defer close(dataCh)
				defer close(errCh)
				for _, row := range rows {
					select {
					case <-ctx.Done():
						return
					case dataCh <- row:
					}
				}
			}()
			return dataCh, errCh
		}
		transformer := func(row []interface{}) (interface{}, error) {
			rendered := make([]any, len(row))
			for i, cell := range row {
				rendered[i] = renderCell(schema, i, cell)
			}
			return rendered, nil
		}

		resp := streamer.Stream(c.Request.Context(), fetcher, transformer)
		resp.TotalCount = int64(len(rows))
		sendStream(resp)
	}
}

// ResultDeleteHandler implements DELETE /query-async/result/:qid
// (HttpCzarQueryModule::_resultDelete).
func ResultDeleteHandler(cfg modreq.Config, deps Deps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		queryID, err := parseQueryID(c)
		if err != nil {
			return nil, err
		}
		if err := deps.Tracker.DeleteResult(queryID); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
}

func parseQueryID(c *gin.Context) (uint64, error) {
	raw := c.Param("qid")
	var queryID uint64
	if _, err := fmt.Sscanf(raw, "%d", &queryID); err != nil || raw == "" {
		return 0, fmt.Errorf("invalid argument: %q is not a valid queryId", raw)
	}
	return queryID, nil
}

func schemaToJSON(schema []ColumnSchema) []map[string]any {
	out := make([]map[string]any, len(schema))
	for i, col := range schema {
		out[i] = map[string]any{
			"table":     col.Table,
			"column":    col.Column,
			"type":      col.Type,
			"is_binary": col.IsBinary,
		}
	}
	return out
}

func rowsToJSON(schema []ColumnSchema, rows [][]interface{}) [][]any {
	out := make([][]any, len(rows))
	for r, row := range rows {
		rendered := make([]any, len(row))
		for cIdx, cell := range row {
			rendered[cIdx] = renderCell(schema, cIdx, cell)
		}
		out[r] = rendered
	}
	return out
}

func renderCell(schema []ColumnSchema, colIdx int, cell interface{}) any {
	if cell == nil {
		return nil
	}
	if colIdx < len(schema) && schema[colIdx].IsBinary {
		switch v := cell.(type) {
		case []byte:
			return fmt.Sprintf("%x", v)
		case string:
			return fmt.Sprintf("%x", []byte(v))
		}
	}
	return cell
}

// ColumnSchemaFrom projects a workeringest.ColumnDef list (the same
// catalog C9/C10/C11 use) into the schema shape this package needs,
// classifying binary columns with the same rule C10 uses on ingest.
func ColumnSchemaFrom(table string, columns []workeringest.ColumnDef) []ColumnSchema {
	out := make([]ColumnSchema, len(columns))
	for i, col := range columns {
		out[i] = ColumnSchema{Table: table, Column: col.Name, Type: col.Type, IsBinary: workeringest.IsBinaryColumnType(col.Type)}
	}
	return out
}
