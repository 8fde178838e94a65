// Package export implements C11 (spec.md §4.11): the worker-side table
// export service. A client requests a whole table or a single chunk's
// data in CSV form; the worker dumps it via MySQL's SELECT ... INTO
// OUTFILE into a temporary file and streams that file back in the
// response, deleting it once the transfer completes.
//
// Grounded on
// original_source/src/replica/worker/WorkerExporterHttpSvcMod.cc and the
// teacher's internal/stream/streamer.go chunked-channel-to-http.Flusher
// pattern, reused here via internal/serverhttp.StreamFile.
package export

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qserv-ingest/czarctl/internal/csvdialect"
	"github.com/qserv-ingest/czarctl/internal/modreq"
	"github.com/qserv-ingest/czarctl/internal/serverhttp"
	"github.com/qserv-ingest/czarctl/internal/workeringest"
)

// Deps are the collaborators an export handler needs.
type Deps struct {
	Meta   workeringest.MetadataStore
	DB     *gorm.DB
	TmpDir string
	Logger *zap.Logger
}

// request carries the parsed, validated parameters shared by the
// whole-table and single-chunk export paths (_parseParameters in the
// original).
type request struct {
	database string
	table    string

	isChunk bool
	chunk   uint32
	overlap bool

	keepTransID    bool
	keepChunkID    bool
	keepSubChunkID bool

	dialect csvdialect.Dialect
}

// ChunkedTableName renders the physical name of a chunked table, e.g.
// "Object_123" or its full-overlap variant "ObjectFullOverlap_123". The
// geometry that decides which chunk numbers are valid for a given
// database is out of scope (spec.md §1, "chunk/subchunk geometry
// library"); this function only renders a name, it does not validate one.
func ChunkedTableName(table string, chunk uint32, isOverlap bool) string {
	if isOverlap {
		return fmt.Sprintf("%sFullOverlap_%d", table, chunk)
	}
	return fmt.Sprintf("%s_%d", table, chunk)
}

func parseRequest(c *gin.Context, isChunk bool) (request, error) {
	req := request{
		database: c.Param("database"),
		table:    c.Param("table"),
		isChunk:  isChunk,
		dialect:  csvdialect.Default(),
	}
	if req.database == "" || req.table == "" {
		return request{}, fmt.Errorf("the 'database' and 'table' path parameters are required")
	}

	if isChunk {
		chunkStr := c.Param("chunk")
		chunk, err := strconv.ParseUint(chunkStr, 10, 32)
		if err != nil {
			return request{}, fmt.Errorf("the 'chunk' parameter is not a valid unsigned integer: %q", chunkStr)
		}
		req.chunk = uint32(chunk)
		req.overlap = c.Query("overlap") == "1"
	}

	format := strings.ToUpper(c.DefaultQuery("format", "CSV"))
	if format != "CSV" {
		return request{}, fmt.Errorf("the 'format' parameter has unsupported value %q; only CSV is supported", format)
	}

	req.keepTransID = c.Query("keep_trans_id") == "1"
	if isChunk {
		req.keepChunkID = c.Query("keep_chunk_id") == "1"
		req.keepSubChunkID = c.Query("keep_sub_chunk_id") == "1"
	}

	var err error
	if v := c.Query("fields_terminated_by"); v != "" {
		if req.dialect.FieldsTerminatedBy, err = csvdialect.DecodeChar(v); err != nil {
			return request{}, fmt.Errorf("fields_terminated_by: %w", err)
		}
	}
	if v := c.Query("fields_enclosed_by"); v != "" {
		if req.dialect.FieldsEnclosedBy, err = csvdialect.DecodeChar(v); err != nil {
			return request{}, fmt.Errorf("fields_enclosed_by: %w", err)
		}
	}
	if v := c.Query("fields_escaped_by"); v != "" {
		if req.dialect.FieldsEscapedBy, err = csvdialect.DecodeChar(v); err != nil {
			return request{}, fmt.Errorf("fields_escaped_by: %w", err)
		}
	}
	if v := c.Query("lines_terminated_by"); v != "" {
		if req.dialect.LinesTerminatedBy, err = csvdialect.DecodeChar(v); err != nil {
			return request{}, fmt.Errorf("lines_terminated_by: %w", err)
		}
	}
	return req, nil
}

func (req request) sourceTableName() string {
	if req.isChunk {
		return ChunkedTableName(req.table, req.chunk, req.overlap)
	}
	return req.table
}

// columnsToKeep drops the sentinel columns the caller didn't ask to
// keep (qserv_trans_id, and for chunked tables chunkId/subChunkId).
func columnsToKeep(columns []workeringest.ColumnDef, req request) []string {
	drop := map[string]bool{}
	if !req.keepTransID {
		drop["qserv_trans_id"] = true
	}
	if req.isChunk {
		if !req.keepChunkID {
			drop["chunkId"] = true
		}
		if !req.keepSubChunkID {
			drop["subChunkId"] = true
		}
	}
	kept := make([]string, 0, len(columns))
	for _, col := range columns {
		if !drop[col.Name] {
			kept = append(kept, col.Name)
		}
	}
	return kept
}

// Handler builds the gin handler for either the whole-table ("TABLE") or
// single-chunk ("CHUNK") export sub-module, matching
// WorkerExporterHttpSvcMod::_table/_chunk. Like the original, this
// module bypasses the canonical JSON envelope on success: it streams a
// raw CSV file in the response body instead, falling back to the
// envelope only to report an error before any bytes have been written.
func Handler(cfg modreq.Config, deps Deps, isChunk bool) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return func(c *gin.Context) {
		warnings := &modreq.WarningAccumulator{}
		// GET requests carry no JSON body; auth/version keys travel in
		// the query string instead, matching RequestQuery::optionalString
		// in the original module.
		authBody := map[string]interface{}{
			"auth_key":       c.Query("auth_key"),
			"admin_auth_key": c.Query("admin_auth_key"),
		}
		if _, err := modreq.CheckAuth(spec.AuthType, cfg.Auth, c.Request.Header, authBody); err != nil {
			modreq.WriteFail(c, err.Error(), nil)
			return
		}
		if err := modreq.CheckVersion(c, nil, spec.MinVersion, spec.CurrentVersion, warnings); err != nil {
			modreq.WriteFail(c, err.Error(), nil)
			return
		}

		req, err := parseRequest(c, isChunk)
		if err != nil {
			modreq.WriteFail(c, err.Error(), nil)
			return
		}

		columns, err := deps.Meta.TableColumns(req.database, req.table)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": 0, "error": err.Error()})
			return
		}
		if len(columns) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"success": 0, "error": fmt.Sprintf("table %s.%s does not exist", req.database, req.table)})
			return
		}

		var selectList string
		if req.keepTransID && (!req.isChunk || (req.keepChunkID && req.keepSubChunkID)) {
			selectList = "*"
		} else {
			kept := columnsToKeep(columns, req)
			quoted := make([]string, len(kept))
			for i, name := range kept {
				quoted[i] = "`" + name + "`"
			}
			selectList = strings.Join(quoted, ", ")
		}

		path, err := uniqueTempPath(deps.TmpDir, req.database, req.sourceTableName())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": 0, "error": err.Error()})
			return
		}

		if err := dumpTableIntoFile(c.Request.Context(), deps.DB, req, selectList, path); err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "doesn't exist") {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": 0, "error": err.Error()})
			return
		}

		if err := sendFileInResponse(c, path); err != nil && deps.Logger != nil {
			deps.Logger.Debug("export: streaming failed", zap.Error(err), zap.String("path", path))
		}
	}
}

// uniqueTempPath picks a file name that does not exist yet, without
// creating it: SELECT ... INTO OUTFILE refuses to write to a file MySQL
// finds already present, matching the original's
// create-then-remove-before-use sequence in _createTemporaryFile.
func uniqueTempPath(tmpDir, database, table string) (string, error) {
	base := fmt.Sprintf("%s-%s", database, table)
	for attempt := 0; attempt < 8; attempt++ {
		candidate := fmt.Sprintf("%s/%s-%s.csv", tmpDir, base, uuid.New().String())
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique temporary file name under %s", tmpDir)
}

func dumpTableIntoFile(ctx context.Context, db *gorm.DB, req request, selectList, path string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtaining raw SQL connection: %w", err)
	}
	qualifiedTable := fmt.Sprintf("`%s`.`%s`", req.database, req.sourceTableName())
	stmt := fmt.Sprintf(
		"SELECT %s FROM %s INTO OUTFILE %s FIELDS TERMINATED BY %s ENCLOSED BY %s ESCAPED BY %s LINES TERMINATED BY %s",
		selectList,
		qualifiedTable,
		quoteSQLString(path),
		quoteSQLChar(req.dialect.FieldsTerminatedBy),
		quoteSQLChar(req.dialect.FieldsEnclosedBy),
		quoteSQLChar(req.dialect.FieldsEscapedBy),
		quoteSQLChar(req.dialect.LinesTerminatedBy),
	)
	if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("export query failed: %w", err)
	}
	return nil
}

func sendFileInResponse(c *gin.Context, path string) error {
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open the exported file %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat the exported file %q: %w", path, err)
	}
	return serverhttp.StreamFile(c.Writer, f, "text/csv", info.Size())
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteSQLChar(b byte) string {
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
