// This file wires the Orchestrator onto the Czar-facing HTTP routes
// named in spec.md §6: POST /ingest/data, POST /ingest/csv, DELETE
// /ingest/database/:database, DELETE /ingest/table/:database/:table.
// Grounded on HttpCzarIngestModule.cc/HttpCzarIngestCsvModule.cc's
// submodule dispatch (_syncProcessData / file-upload processing),
// generalized onto this project's modreq/multipart transport instead
// of the original's qhttp::Request.
package ingest

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/modreq"
)

// JSONDataHandler implements POST /ingest/data: a JSON-rows ingest
// request is decoded, handed to the Orchestrator, and fanned out to
// every eligible worker's C10 endpoint.
func JSONDataHandler(cfg modreq.Config, orch *Orchestrator) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		payload, rows, binaryEncoding, err := parseRowPayload(body)
		if err != nil {
			return nil, err
		}

		result, err := orch.Ingest(payload, func(workerID string, transactionID uint32) error {
			return orch.submitJSONRowsToWorker(workerID, jsonRowsWorkerParams{
				TransactionID:  transactionID,
				Table:          payload.Table,
				Chunk:          payload.Chunk,
				Overlap:        payload.Overlap,
				Rows:           rows,
				BinaryEncoding: binaryEncoding,
			})
		})
		return ingestResultToResponse(result, err, warnings)
	})
}

// CSVHandler implements POST /ingest/csv: the client's multipart CSV
// upload is buffered once, then resent unmodified to every eligible
// worker's C9 endpoint.
func CSVHandler(cfg modreq.Config, orch *Orchestrator) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.UploadHandler(cfg, spec, func(body map[string]interface{}, isAdmin bool) modreq.UploadHooks {
		var csvBuf []byte
		var sawFile bool

		return modreq.UploadHooks{
			OnStartOfFile: func(fieldName, fileName, contentType string) error {
				if fieldName != "rows" {
					return fmt.Errorf("invalid argument: unexpected file field %q, expected \"rows\"", fieldName)
				}
				sawFile = true
				return nil
			},
			OnFileData: func(fieldName string, data []byte) error {
				csvBuf = append(csvBuf, data...)
				return nil
			},
			OnEndOfBody: func(c *gin.Context, uploadErr error) {
				if uploadErr != nil {
					modreq.WriteFailFromError(c, uploadErr)
					return
				}
				if !sawFile {
					modreq.WriteFail(c, "invalid argument: the request is missing the 'rows' file part", nil)
					return
				}

				payload, err := parseCSVPayload(body)
				if err != nil {
					modreq.WriteFail(c, err.Error(), nil)
					return
				}

				warnings := &modreq.WarningAccumulator{}
				result, err := orch.Ingest(payload, func(workerID string, transactionID uint32) error {
					return orch.submitCSVToWorker(workerID, csvWorkerParams{
						TransactionID: transactionID,
						Table:         payload.Table,
						Chunk:         payload.Chunk,
						Overlap:       payload.Overlap,
						CSVBody:       csvBuf,
					})
				})
				data, ierr := ingestResultToResponse(result, err, warnings)
				if ierr != nil {
					modreq.WriteFailFromError(c, ierr)
					return
				}
				modreq.WriteOk(c, data, warnings.String())
			},
		}
	})
}

// DropDatabaseHandler implements DELETE /ingest/database/:database.
func DropDatabaseHandler(cfg modreq.Config, orch *Orchestrator) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		if err := orch.DropDatabase(c.Param("database")); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
}

// DropTableHandler implements DELETE /ingest/table/:database/:table.
func DropTableHandler(cfg modreq.Config, orch *Orchestrator) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		if err := orch.DropTable(c.Param("database"), c.Param("table")); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
}

// ingestResultToResponse renders an Orchestrator.Ingest outcome into
// the {transaction_id, ...warnings} payload modreq.Handler expects, or
// propagates the error (including a *WorkerFanOutError's error_ext).
func ingestResultToResponse(result *Result, err error, warnings *modreq.WarningAccumulator) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		warnings.Add(w)
	}
	return map[string]any{"transaction_id": result.TransactionID}, nil
}

// parseRowPayload decodes the common {database, table, chunk, overlap,
// schema, indexes} fields plus the JSON-rows-specific {rows,
// binary_encoding} from a parsed JSON body.
func parseRowPayload(body map[string]interface{}) (RowPayload, []interface{}, string, error) {
	payload, err := parseCommonPayload(body)
	if err != nil {
		return RowPayload{}, nil, "", err
	}
	rows, ok := body["rows"].([]interface{})
	if !ok || len(rows) == 0 {
		return RowPayload{}, nil, "", fmt.Errorf("invalid argument: a non-empty 'rows' JSON array is required")
	}
	binaryEncoding, _ := body["binary_encoding"].(string)
	if binaryEncoding == "" {
		binaryEncoding = "hex"
	}
	return payload, rows, binaryEncoding, nil
}

// parseCSVPayload decodes the common fields from a multipart body,
// whose non-file parts arrive as plain strings.
func parseCSVPayload(body map[string]interface{}) (RowPayload, error) {
	return parseCommonPayload(body)
}

func parseCommonPayload(body map[string]interface{}) (RowPayload, error) {
	database, _ := body["database"].(string)
	table, _ := body["table"].(string)
	if database == "" || table == "" {
		return RowPayload{}, fmt.Errorf("invalid argument: 'database' and 'table' are required")
	}

	chunk, err := asUint32(body["chunk"])
	if err != nil {
		return RowPayload{}, fmt.Errorf("invalid argument: 'chunk': %w", err)
	}
	overlap := asBool(body["overlap"])

	schema, err := parseSchema(body["schema"])
	if err != nil {
		return RowPayload{}, err
	}
	indexes, err := parseIndexes(body["indexes"])
	if err != nil {
		return RowPayload{}, err
	}

	return RowPayload{
		Database: database,
		Table:    table,
		Chunk:    chunk,
		Overlap:  overlap,
		Schema:   schema,
		Indexes:  indexes,
	}, nil
}

func asUint32(v interface{}) (uint32, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return uint32(t), nil
	case string:
		if t == "" {
			return 0, nil
		}
		var n uint32
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0, fmt.Errorf("not a valid unsigned integer: %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}

func parseSchema(v interface{}) ([]Column, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]Column, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid argument: 'schema' entries must be JSON objects")
		}
		name, _ := m["name"].(string)
		colType, _ := m["type"].(string)
		if name == "" || colType == "" {
			return nil, fmt.Errorf("invalid argument: each 'schema' entry requires 'name' and 'type'")
		}
		out = append(out, Column{Name: name, Type: colType})
	}
	return out, nil
}

func parseIndexes(v interface{}) ([]IndexDef, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]IndexDef, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid argument: 'indexes' entries must be JSON objects")
		}
		idx, _ := m["index"].(string)
		spec, _ := m["spec"].(string)
		comment, _ := m["comment"].(string)
		cols, err := parseSchema(m["columns"])
		if err != nil {
			return nil, err
		}
		out = append(out, IndexDef{Index: idx, Spec: spec, Comment: comment, Columns: cols})
	}
	return out, nil
}
