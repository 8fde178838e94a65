package workeringest

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/csvdialect"
	"github.com/qserv-ingest/czarctl/internal/modreq"
)

// JSONRowsIngestDeps mirrors CSVIngestDeps for the synchronous
// JSON-rows path.
type JSONRowsIngestDeps struct {
	Meta   MetadataStore
	Store  *Store
	Loader *Loader

	DefaultCharsetName    string
	DefaultMaxNumWarnings uint
}

var binaryColumnTypePatterns = []string{"BIT", "BINARY", "BLOB"}

// IsBinaryColumnType reports whether a MySQL column type name denotes
// one of the binary family (spec.md §4.10). Exported so the async query
// result renderer (C11's sibling, internal/queryctl) can classify
// columns the same way rather than duplicating the pattern list.
func IsBinaryColumnType(columnType string) bool {
	upper := strings.ToUpper(columnType)
	for _, pattern := range binaryColumnTypePatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// JSONRowsIngestHandler implements C10 (spec.md §4.10): a synchronous
// POST carrying JSON rows, materialized into the same CSV/LOAD DATA
// path C9 uses. Grounded on IngestDataHttpSvcMod::_syncProcessData.
func JSONRowsIngestHandler(cfg modreq.Config, workerName string, deps JSONRowsIngestDeps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}

	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		contrib := &Contrib{Worker: workerName}
		if err := populateContribFromBody(contrib, stringFieldGetter(body), deps.DefaultCharsetName, deps.DefaultMaxNumWarnings); err != nil {
			return nil, err
		}
		contrib.URL = "data-json:///" + c.ClientIP()
		// Row cells arrive as bare JSON strings; the dialect always
		// quotes fields on this path regardless of the caller's
		// fields_enclosed_by override (spec.md §4.10).
		contrib.Dialect.FieldsEnclosedBy = '"'

		rowsRaw, ok := body["rows"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid argument: a collection of rows is missing in the request or is not a JSON array")
		}
		if len(rowsRaw) == 0 {
			return nil, fmt.Errorf("invalid argument: a collection of rows in the request is empty")
		}

		binaryEncoding, _ := body["binary_encoding"].(string)
		if binaryEncoding == "" {
			binaryEncoding = "hex"
		}

		trans, err := deps.Meta.Transaction(contrib.TransactionID)
		if err != nil {
			return nil, err
		}
		contrib.Database = trans.Database

		columns, err := deps.Meta.TableColumns(contrib.Database, contrib.Table)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 || columns[0].Name != "qserv_trans_id" {
			contrib.Failed = true
			contrib.Error = "incomplete or missing table schema"
			deps.Store.Persist(contrib)
			return nil, errors.New(contrib.Error)
		}
		isBinary := make([]bool, 0, len(columns)-1)
		for _, col := range columns[1:] {
			isBinary = append(isBinary, IsBinaryColumnType(col.Type))
		}

		if trans.State != TransactionStateStarted {
			contrib.Failed = true
			contrib.Error = fmt.Sprintf("transactionId=%d is not active", contrib.TransactionID)
			deps.Store.Persist(contrib)
			return nil, errors.New(contrib.Error)
		}

		contrib.RetryAllowed = true
		contrib.State = ContribCreated
		if err := deps.Store.Persist(contrib); err != nil {
			return nil, err
		}

		file, err := deps.Loader.OpenFile(contrib)
		if err != nil {
			contrib.Failed = true
			contrib.Error = err.Error()
			deps.Store.Persist(contrib)
			return nil, err
		}
		defer file.Close()
		contrib.State = ContribStarted
		if err := deps.Store.Persist(contrib); err != nil {
			os.Remove(contrib.TmpFile)
			return nil, err
		}

		quoted := contrib.Dialect.FieldsEnclosedBy != csvdialect.Unset
		overheadPerRow := 4 + 1 // uint32 transaction id + field terminator
		if quoted {
			overheadPerRow += 2
		}

		var row []byte
		for rowIdx, rawRow := range rowsRaw {
			cells, ok := rawRow.([]interface{})
			if !ok {
				return nil, failContribution(deps.Store, contrib, "a row found in the request is not the JSON array")
			}
			if len(cells) != len(isBinary) {
				return nil, failContribution(deps.Store, contrib, "the row size in the request doesn't match the table schema")
			}
			row = row[:0]
			for colIdx, cell := range cells {
				if colIdx != 0 {
					row = append(row, contrib.Dialect.FieldsTerminatedBy)
				}
				if quoted {
					row = append(row, contrib.Dialect.FieldsEnclosedBy)
				}
				var encoded string
				var encErr error
				if isBinary[colIdx] {
					encoded, encErr = decodeBinaryCell(cell, binaryEncoding)
				} else {
					encoded, encErr = encodePrimitiveCell(cell)
				}
				if encErr != nil {
					return nil, failContribution(deps.Store, contrib,
						fmt.Sprintf("row %d column %d: %v", rowIdx, colIdx, encErr))
				}
				row = append(row, encoded...)
				if quoted {
					row = append(row, contrib.Dialect.FieldsEnclosedBy)
				}
			}
			row = append(row, contrib.Dialect.LinesTerminatedBy)

			if _, err := file.Write(row); err != nil {
				return nil, failContribution(deps.Store, contrib, fmt.Sprintf("failed to write row %d into the temporary file: %v", rowIdx, err))
			}
			contrib.NumRows++
			contrib.NumBytes += uint64(overheadPerRow + len(row))
		}

		contrib.State = ContribRead
		if err := deps.Store.Persist(contrib); err != nil {
			os.Remove(contrib.TmpFile)
			return nil, err
		}

		contrib.RetryAllowed = false
		if err := deps.Loader.LoadDataIntoTable(c.Request.Context(), contrib); err != nil {
			contrib.Failed = true
			contrib.Error = fmt.Sprintf("MySQL load failed, ex: %v", err)
			deps.Store.Persist(contrib)
			os.Remove(contrib.TmpFile)
			return nil, errors.New(contrib.Error)
		}
		contrib.State = ContribLoaded
		deps.Store.Persist(contrib)
		os.Remove(contrib.TmpFile)

		return map[string]any{"contrib": contrib.ToJSON()}, nil
	})
}

func failContribution(store *Store, c *Contrib, message string) error {
	c.Failed = true
	c.Error = message
	store.Persist(c)
	if c.TmpFile != "" {
		os.Remove(c.TmpFile)
	}
	return errors.New(message)
}

// decodeBinaryCell decodes one JSON cell value per binaryEncoding
// (hex, b64, or array-of-byte-integers), matching
// IngestDataHttpSvcMod::_translate{Hex,Base64,ByteArray}.
func decodeBinaryCell(cell interface{}, binaryEncoding string) (string, error) {
	switch strings.ToLower(binaryEncoding) {
	case "hex":
		s, ok := cell.(string)
		if !ok {
			return "", fmt.Errorf("expected a string for a hex-encoded binary column")
		}
		decoded, err := hex.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("invalid hex encoding: %w", err)
		}
		return string(decoded), nil
	case "b64":
		s, ok := cell.(string)
		if !ok {
			return "", fmt.Errorf("expected a string for a base64-encoded binary column")
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("invalid base64 encoding: %w", err)
		}
		return string(decoded), nil
	case "array":
		arr, ok := cell.([]interface{})
		if !ok {
			return "", fmt.Errorf("expected a JSON array of byte values for an array-encoded binary column")
		}
		out := make([]byte, len(arr))
		for i, v := range arr {
			n, ok := v.(float64)
			if !ok || n < 0 || n > 255 {
				return "", fmt.Errorf("array element %d is not a byte value 0..255", i)
			}
			out[i] = byte(n)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unsupported binary encoding mode %q", binaryEncoding)
	}
}

// encodePrimitiveCell renders a non-binary JSON cell as its CSV text
// form, matching IngestDataHttpSvcMod::_translatePrimitiveType.
func encodePrimitiveCell(cell interface{}) (string, error) {
	switch v := cell.(type) {
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported JSON type %T where a boolean, numeric or string value was expected", v)
	}
}
