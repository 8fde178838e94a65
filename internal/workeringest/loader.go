package workeringest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qserv-ingest/czarctl/internal/csvdialect"
)

// Loader owns the temporary-file staging area and the MySQL connection
// pool used for the final LOAD DATA step. It is grounded on the
// teacher's Repository.ExecuteQuery pattern of dropping to *sql.DB for
// raw statements gorm has no typed model for.
type Loader struct {
	db     *gorm.DB
	tmpDir string
}

// NewLoader wraps db (the worker's MySQL connection pool) and stages
// temp files under tmpDir.
func NewLoader(db *gorm.DB, tmpDir string) *Loader {
	return &Loader{db: db, tmpDir: tmpDir}
}

// OpenFile creates a uniquely-named temporary file for c and records
// its path on c.TmpFile. The name embeds a random UUID so two
// concurrent contributions to the same (database, table, chunk) never
// collide, and O_EXCL catches the astronomically unlikely collision
// rather than silently truncating another contribution's file.
func (l *Loader) OpenFile(c *Contrib) (*os.File, error) {
	name := fmt.Sprintf("%s-%d-%s-%d-%s.csv", c.Database, c.TransactionID, c.Table, c.Chunk, uuid.New().String())
	path := filepath.Join(l.tmpDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening temporary contribution file: %w", err)
	}
	c.TmpFile = path
	return f, nil
}

// LoadDataIntoTable issues the MySQL LOAD DATA statement described in
// spec.md §4.9, capturing rows-loaded and up to c.MaxNumWarnings
// warning rows onto c.
func (l *Loader) LoadDataIntoTable(ctx context.Context, c *Contrib) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("obtaining raw SQL connection: %w", err)
	}

	stmt := fmt.Sprintf(
		"LOAD DATA LOCAL INFILE %s INTO TABLE %s CHARACTER SET %s FIELDS TERMINATED BY %s ENCLOSED BY %s ESCAPED BY %s LINES TERMINATED BY %s",
		quoteSQLString(c.TmpFile),
		quotedQualifiedTable(c.Database, c.Table),
		charsetOrDefault(c.CharsetName),
		quoteDialectChar(c.Dialect.FieldsTerminatedBy),
		enclosedByClause(c.Dialect.FieldsEnclosedBy),
		quoteDialectChar(c.Dialect.FieldsEscapedBy),
		quoteDialectChar(c.Dialect.LinesTerminatedBy),
	)

	result, err := sqlDB.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("LOAD DATA failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil {
		c.NumRowsLoaded = uint64(affected)
	}

	warnings, err := collectWarnings(ctx, sqlDB, c.MaxNumWarnings)
	if err != nil {
		return fmt.Errorf("collecting warnings: %w", err)
	}
	c.Warnings = warnings
	c.NumWarnings = uint(len(warnings))
	return nil
}

func collectWarnings(ctx context.Context, sqlDB *sql.DB, limit uint) ([]string, error) {
	rows, err := sqlDB.QueryContext(ctx, fmt.Sprintf("SHOW WARNINGS LIMIT %d", limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []string
	for rows.Next() {
		var level, message string
		var code int
		if err := rows.Scan(&level, &code, &message); err != nil {
			return nil, err
		}
		warnings = append(warnings, fmt.Sprintf("%s (%d): %s", level, code, message))
	}
	return warnings, rows.Err()
}

func charsetOrDefault(charsetName string) string {
	if charsetName == "" {
		return "utf8"
	}
	return charsetName
}

func quotedQualifiedTable(database, table string) string {
	return fmt.Sprintf("`%s`.`%s`", database, table)
}

func quoteSQLString(s string) string {
	return "'" + s + "'"
}

// quoteDialectChar renders a single dialect byte as a MySQL string
// literal. Control characters use MySQL's own backslash-escape
// notation rather than an embedded raw byte, which keeps the
// generated statement readable and avoids depending on a client
// library to pass control bytes through a query string unmangled.
func quoteDialectChar(b byte) string {
	switch b {
	case csvdialect.Unset:
		return "''"
	case '\t':
		return `'\t'`
	case '\n':
		return `'\n'`
	case '\r':
		return `'\r'`
	case '\'':
		return `'\''`
	case '\\':
		return `'\\'`
	default:
		return "'" + string(b) + "'"
	}
}

func enclosedByClause(b byte) string {
	if b == csvdialect.Unset {
		return "''"
	}
	return quoteDialectChar(b)
}
