// Package workeringest implements the worker-side ingest services of
// spec.md §4.9–§4.10 (C9, C10): the per-contribution state machine,
// temporary-file staging, and the final MySQL LOAD DATA step shared by
// the multipart-CSV and JSON-rows entry points. It is grounded on
// original_source/src/replica/ingest/{IngestFileHttpSvcMod,IngestDataHttpSvcMod}.cc
// and on the teacher's Repository.ExecuteQuery pattern for dropping to
// raw SQL through gorm.
package workeringest

import (
	"fmt"

	"github.com/guregu/null/v5"
	"gorm.io/gorm"

	jsoniter "github.com/json-iterator/go"

	"github.com/qserv-ingest/czarctl/internal/csvdialect"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ContribState tracks a contribution's progress through the pipeline
// (spec.md §4, "Contribution descriptor"): created -> started (temp
// file opened) -> read (source fully consumed) -> loaded (MySQL load
// returned), or failed at any step.
type ContribState int

const (
	ContribCreated ContribState = iota
	ContribStarted
	ContribRead
	ContribLoaded
)

func (s ContribState) String() string {
	switch s {
	case ContribCreated:
		return "CREATED"
	case ContribStarted:
		return "STARTED"
	case ContribRead:
		return "READ"
	case ContribLoaded:
		return "LOADED"
	default:
		return "UNKNOWN"
	}
}

// Contrib is one in-flight contribution: a single file or JSON-rows
// request ingesting into one (transaction, table, chunk). Every field
// listed in spec.md §4's contribution descriptor is present.
type Contrib struct {
	recordID uint32

	TransactionID  uint32
	Database       string
	Table          string
	Chunk          uint32
	IsOverlap      bool
	Worker         string
	URL            string
	CharsetName    string
	Dialect        csvdialect.Dialect
	MaxNumWarnings uint

	// RetryAllowed holds until immediately before the LOAD statement is
	// issued (spec.md §4): once false, a client-side retry of this
	// contribution would double-load data into the destination table.
	RetryAllowed bool

	TmpFile       string
	NumRows       uint64
	NumBytes      uint64
	NumRowsLoaded uint64
	NumWarnings   uint
	Warnings      []string

	HTTPError   int
	SystemError int
	Error       string
	Failed      bool
	State       ContribState
}

// ToJSON renders the wire shape of the contribution descriptor
// returned alongside every C9/C10 response (spec.md §6).
func (c *Contrib) ToJSON() map[string]any {
	return map[string]any{
		"transactionId":  c.TransactionID,
		"database":       c.Database,
		"table":          c.Table,
		"chunk":          c.Chunk,
		"isOverlap":      c.IsOverlap,
		"worker":         c.Worker,
		"url":            c.URL,
		"charsetName":    c.CharsetName,
		"maxNumWarnings": c.MaxNumWarnings,
		"retryAllowed":   c.RetryAllowed,
		"tmpFile":        c.TmpFile,
		"numRows":        c.NumRows,
		"numBytes":       c.NumBytes,
		"numRowsLoaded":  c.NumRowsLoaded,
		"numWarnings":    c.NumWarnings,
		"warnings":       c.Warnings,
		"httpError":      c.HTTPError,
		"systemError":    c.SystemError,
		"error":          c.Error,
		"state":          c.State.String(),
	}
}

// ErrorExt renders the {http_error, system_error, retry_allowed}
// diagnostic object spec.md §6 names for failed contributions.
func (c *Contrib) ErrorExt() any {
	return map[string]any{
		"http_error":    c.HTTPError,
		"system_error":  c.SystemError,
		"retry_allowed": c.RetryAllowed,
	}
}

// ContribRecord is the gorm-persisted row backing one Contrib, mirroring
// the teacher's dummy/real database duality: sqlite in tests and local
// dev, the same schema against MySQL/another server in production.
type ContribRecord struct {
	ID             uint32 `gorm:"primaryKey;autoIncrement"`
	TransactionID  uint32 `gorm:"index"`
	Database       string
	Table          string
	Chunk          uint32
	IsOverlap      bool
	Worker         string
	URL            string
	CharsetName    string
	MaxNumWarnings uint
	RetryAllowed   bool
	TmpFile        string
	NumRows        uint64
	NumBytes       uint64
	NumRowsLoaded  uint64
	NumWarnings    uint
	WarningsJSON   string
	HTTPError      int
	SystemError    int
	// Error is absent (rather than an empty string) for every
	// contribution that never failed, the common case, instead of
	// persisting an empty-string sentinel for the vast majority of rows.
	Error  null.String
	Failed bool
	State  int
}

// Store persists contribution state transitions, the Go analog of
// DatabaseServices::{created,started,read,loaded}TransactionContrib in
// original_source.
type Store struct {
	db *gorm.DB
}

// NewStore wraps db (already open; sqlite in tests, MySQL in
// production) and ensures the ledger table exists.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ContribRecord{}); err != nil {
		return nil, fmt.Errorf("migrating contribution ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// Persist writes c's current state to the ledger, inserting on first
// call and updating thereafter. Every state transition in C9/C10 calls
// this immediately, exactly as the original calls
// databaseServices->...TransactionContrib after each step.
func (s *Store) Persist(c *Contrib) error {
	warningsJSON, err := wireJSON.Marshal(c.Warnings)
	if err != nil {
		return fmt.Errorf("encoding contribution warnings: %w", err)
	}
	rec := ContribRecord{
		ID:             c.recordID,
		TransactionID:  c.TransactionID,
		Database:       c.Database,
		Table:          c.Table,
		Chunk:          c.Chunk,
		IsOverlap:      c.IsOverlap,
		Worker:         c.Worker,
		URL:            c.URL,
		CharsetName:    c.CharsetName,
		MaxNumWarnings: c.MaxNumWarnings,
		RetryAllowed:   c.RetryAllowed,
		TmpFile:        c.TmpFile,
		NumRows:        c.NumRows,
		NumBytes:       c.NumBytes,
		NumRowsLoaded:  c.NumRowsLoaded,
		NumWarnings:    c.NumWarnings,
		WarningsJSON:   string(warningsJSON),
		HTTPError:      c.HTTPError,
		SystemError:    c.SystemError,
		Error:          null.NewString(c.Error, c.Error != ""),
		Failed:         c.Failed,
		State:          int(c.State),
	}
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("persisting contribution: %w", err)
	}
	c.recordID = rec.ID
	return nil
}

// rowCounter counts completed CSV rows from a byte stream without
// buffering it, mirroring IngestFileHttpSvcMod's flush-aware parser:
// a trailing, unterminated row is still counted once Flush is called
// at end-of-file.
type rowCounter struct {
	dialect csvdialect.Dialect
	pending bool
}

// Feed scans data for dialect.LinesTerminatedBy and returns how many
// complete rows it contains.
func (rc *rowCounter) Feed(data []byte) uint64 {
	var rows uint64
	for _, b := range data {
		if b == rc.dialect.LinesTerminatedBy {
			rows++
			rc.pending = false
		} else {
			rc.pending = true
		}
	}
	return rows
}

// Flush reports one final row if the stream ended without a trailing
// line terminator.
func (rc *rowCounter) Flush() uint64 {
	if rc.pending {
		rc.pending = false
		return 1
	}
	return 0
}
