// Package ingest implements the Czar-side ingest orchestration
// described in spec.md §4.8 (C8): name validation, database/table
// preparation against the Replication Controller, transaction
// lifecycle, bounded fan-out to eligible workers, arbitration, commit
// and publish, and best-effort post-ingest steps. It is grounded on
// HttpCzarIngestModuleBase.{h,cc} and HttpCzarIngestModule.cc /
// HttpCzarIngestCsvModule.cc from original_source/, generalizing the
// async-request wiring C2 already provides and the fan-out pool C6
// already provides rather than inventing a new transport.
package ingest

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	jsoniter "github.com/json-iterator/go"

	"github.com/qserv-ingest/czarctl/internal/workerpool"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ReservedTablePrefix and RequiredDatabasePrefix implement the name
// validation rules of spec.md §4.8 step 1.
const (
	RequiredDatabasePrefix = "user_"
	ReservedTablePrefix    = "qserv"
)

// Default partitioning parameters for a newly created database
// (spec.md §4.8 step 2).
const (
	DefaultNumStripes    = 340
	DefaultNumSubStripes = 3
	DefaultOverlap       = 0.01667
)

// DirectorTableSchema is the mandatory root table of a newly created
// partitioned catalog (spec.md §4.8 step 2).
var DirectorTableSchema = []map[string]string{
	{"name": "objectId", "type": "BIGINT NOT NULL"},
	{"name": "ra", "type": "DOUBLE NOT NULL"},
	{"name": "dec", "type": "DOUBLE NOT NULL"},
	{"name": "chunkId", "type": "INT NOT NULL"},
	{"name": "subChunkId", "type": "INT NOT NULL"},
}

// ProtocolFields is the {version, instance_id, auth_key,
// admin_auth_key, ...} envelope every outbound Controller/worker call
// injects (spec.md §6, "Wire envelope").
type ProtocolFields struct {
	Version      int
	InstanceID   string
	AuthKey      string
	AdminAuthKey string
}

func (p ProtocolFields) apply(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["version"] = p.Version
	data["instance_id"] = p.InstanceID
	data["auth_key"] = p.AuthKey
	data["admin_auth_key"] = p.AdminAuthKey
	return data
}

// Config is the process-wide, write-once-at-startup state this
// orchestrator reads on every request (spec.md §9, "Shared mutable
// state").
type Config struct {
	ControllerBaseURL string
	// RegistryBaseURL, if set, is consulted lazily to resolve worker
	// loader endpoints (spec.md §5). Leave empty when workers are
	// addressed through some other static configuration.
	RegistryBaseURL   string
	Protocol          ProtocolFields
	RequestTimeoutSec uint
	FanOutPoolThreads int
}

// Orchestrator drives the eight-step ingest sequence of spec.md §4.8.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
	queue  *workerpool.RequestQueue
	pool   *workerpool.Processor

	mu          sync.Mutex
	workerCache map[string]string
}

// New constructs an Orchestrator with its own dedicated fan-out pool,
// per spec.md §5 ("The worker-ingest fan-out (C6) owns its own
// dedicated thread pool for synchronous CSV POSTs").
func New(cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	threads := cfg.FanOutPoolThreads
	if threads < 1 {
		threads = 4
	}
	queue := workerpool.NewRequestQueue(threads * 4)
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		queue:       queue,
		pool:        workerpool.NewProcessor(logger, queue, threads),
		workerCache: make(map[string]string),
	}
}

// Close drains the fan-out pool. Call once at process shutdown.
func (o *Orchestrator) Close() {
	o.queue.Close()
	o.pool.Wait()
}

// VerifyUserDatabaseName enforces the "user_" prefix rule (spec.md
// §4.8 step 1).
func VerifyUserDatabaseName(databaseName string) error {
	if len(databaseName) <= len(RequiredDatabasePrefix) || !strings.HasPrefix(databaseName, RequiredDatabasePrefix) {
		return fmt.Errorf("invalid argument: database name %q must begin with the prefix %q and be longer than it",
			databaseName, RequiredDatabasePrefix)
	}
	return nil
}

// VerifyUserTableName enforces the "qserv" reserved-prefix rule
// (spec.md §4.8 step 1; case-insensitive per §3).
func VerifyUserTableName(tableName string) error {
	if strings.HasPrefix(strings.ToLower(tableName), ReservedTablePrefix) {
		return fmt.Errorf("invalid argument: table name %q must not begin with the reserved prefix %q",
			tableName, ReservedTablePrefix)
	}
	return nil
}

// WorkerErrors aggregates per-worker failures for error_ext.worker_errors
// (spec.md §6).
type WorkerErrors map[string]string

// Column describes one schema column for table creation.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// IndexDef describes one post-ingest index creation request.
type IndexDef struct {
	Index     string   `json:"index"`
	Spec      string   `json:"spec"`
	Comment   string   `json:"comment,omitempty"`
	Columns   []Column `json:"columns"`
}

// Result summarizes one completed ingest request for the caller.
type Result struct {
	TransactionID uint32
	Warnings      []string
}

// RowPayload carries the request-wide fields of the caller's ingest
// request (target database, table, chunk, schema, indexes), already
// decoded from either the JSON-rows or multipart-CSV path; the rows
// themselves are not part of it.
type RowPayload struct {
	Database string
	Table    string
	Chunk    uint32
	Overlap  bool
	Schema   []Column
	Indexes  []IndexDef
}

// SubmitFunc sends this ingest's payload to one worker and returns an
// error (nil on success); it is supplied by the C9/C10 client
// peers depending on which wire format the caller used.
type SubmitFunc func(workerID string, transactionID uint32) error

// Ingest runs the full eight-step sequence. submitToWorkers is invoked
// once per eligible worker, concurrently, via C6's pool.
func (o *Orchestrator) Ingest(payload RowPayload, submitToWorkers SubmitFunc) (*Result, error) {
	if err := VerifyUserDatabaseName(payload.Database); err != nil {
		return nil, err
	}
	if err := VerifyUserTableName(payload.Table); err != nil {
		return nil, err
	}

	if err := o.prepareDatabase(payload.Database); err != nil {
		return nil, fmt.Errorf("preparing database %s: %w", payload.Database, err)
	}
	if err := o.createTable(payload.Database, payload.Table, payload.Schema); err != nil {
		return nil, fmt.Errorf("creating table %s.%s: %w", payload.Database, payload.Table, err)
	}

	transactionID, err := o.beginTransaction(payload.Database)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	workers, err := o.eligibleWorkers()
	if err != nil {
		return nil, fmt.Errorf("listing eligible workers: %w", err)
	}
	if len(workers) == 0 {
		o.abortTransaction(transactionID)
		return nil, fmt.Errorf("invalid argument: no enabled, writable workers are available")
	}

	workerErrors := o.fanOut(workers, transactionID, submitToWorkers)
	if len(workerErrors) > 0 {
		o.abortTransaction(transactionID)
		o.deleteTable(payload.Database, payload.Table)
		return nil, &WorkerFanOutError{Errors: workerErrors}
	}

	if err := o.commitTransaction(transactionID); err != nil {
		return nil, fmt.Errorf("committing transaction %d: %w", transactionID, err)
	}
	if err := o.publishDatabase(payload.Database); err != nil {
		return nil, fmt.Errorf("publishing database %s: %w", payload.Database, err)
	}

	var warnings []string
	warnings = append(warnings, o.createIndexes(payload.Database, payload.Table, payload.Indexes)...)
	warnings = append(warnings, o.updateTableStats(payload.Database, payload.Table)...)

	return &Result{TransactionID: transactionID, Warnings: warnings}, nil
}

// WorkerFanOutError reports the per-worker failures that triggered an
// abort (spec.md scenario 7).
type WorkerFanOutError struct {
	Errors WorkerErrors
}

func (e *WorkerFanOutError) Error() string {
	return fmt.Sprintf("%d worker(s) reported an error during ingest", len(e.Errors))
}

// ErrorExt renders the {worker_errors: {w: msg}} diagnostic object.
func (e *WorkerFanOutError) ErrorExt() any {
	return map[string]any{"worker_errors": e.Errors}
}

func (o *Orchestrator) fanOut(workers []string, transactionID uint32, submit SubmitFunc) WorkerErrors {
	closures := make(map[string]workerpool.Closure, len(workers))
	for _, w := range workers {
		w := w
		closures[w] = func() workerpool.Result {
			if err := submit(w, transactionID); err != nil {
				return workerpool.Result{Error: "error: " + err.Error()}
			}
			return workerpool.Result{}
		}
	}
	results := workerpool.Submit(o.queue, closures)

	errs := WorkerErrors{}
	for worker, r := range results {
		if r.Error != "" {
			errs[worker] = r.Error
		}
	}
	return errs
}

func (o *Orchestrator) abortTransaction(id uint32) {
	if err := o.abortOrCommitTransaction(id, true); err != nil {
		o.logger.Warn("failed to abort transaction after fan-out failure", zap.Uint32("transactionId", id), zap.Error(err))
	}
}
