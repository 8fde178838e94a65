package ingest

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/qserv-ingest/czarctl/internal/asyncreq"
	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// controllerCall performs one synchronous round trip to the Controller
// and returns the parsed JSON response. The orchestration steps are
// strictly sequential (spec.md §4.8 numbers them 1..8), so blocking on
// asyncreq.Client.Wait here is the correct idiom rather than fanning
// these out — only step 5 (worker fan-out) is actually concurrent.
func (o *Orchestrator) controllerCall(method httpx.Method, service string, body map[string]interface{}) (map[string]interface{}, error) {
	payload := o.cfg.Protocol.apply(body)
	return o.syncJSONCall(method, o.cfg.ControllerBaseURL+service, payload)
}

// syncJSONCall performs one blocking JSON round trip via C2 and parses
// the response body as JSON, used by both the Controller path above and
// the Registry path in registry.go — the two differ only in base URL
// and in whether the outgoing body carries the protocol envelope.
func (o *Orchestrator) syncJSONCall(method httpx.Method, url string, payload map[string]interface{}) (map[string]interface{}, error) {
	var encoded []byte
	var headers map[string]string
	if payload != nil {
		var err error
		encoded, err = wireJSON.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		headers = map[string]string{"Content-Type": "application/json"}
	}
	return o.syncCall(method, url, encoded, headers)
}

// syncCall performs one blocking round trip via C2 with an
// already-encoded body (JSON or multipart/form-data) and parses the
// response as JSON, the shape every module in this codebase answers
// with regardless of what it was asked for. Used directly by the
// worker CSV fan-out path (workerclient.go), which needs a
// multipart/form-data Content-Type that syncJSONCall can't produce.
func (o *Orchestrator) syncCall(method httpx.Method, url string, body []byte, headers map[string]string) (map[string]interface{}, error) {
	client, err := asyncreq.New(o.logger, nil, method, url, body, headers, 0, o.cfg.RequestTimeoutSec)
	if err != nil {
		return nil, err
	}
	if err := client.Start(); err != nil {
		return nil, err
	}
	client.Wait()

	switch client.State() {
	case asyncreq.StateFinished:
	case asyncreq.StateBodyLimitError:
		return nil, fmt.Errorf("response body exceeded the configured cap")
	default:
		return nil, fmt.Errorf("transport error contacting %s: %s", url, client.ErrorMessage())
	}

	code, err := client.ResponseCode()
	if err != nil {
		return nil, err
	}
	raw, err := client.ResponseBody()
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if len(raw) > 0 {
		if jerr := wireJSON.Unmarshal(raw, &parsed); jerr != nil {
			return nil, fmt.Errorf("malformed response from %s: %w", url, jerr)
		}
	}
	if code < 200 || code >= 300 {
		return parsed, fmt.Errorf("%s returned HTTP status %d: %s", url, code, extractError(parsed))
	}
	if success, ok := parsed["success"]; ok {
		if n, ok := success.(float64); ok && n == 0 {
			return parsed, fmt.Errorf("%s reported failure: %s", url, extractError(parsed))
		}
	}
	return parsed, nil
}

func extractError(parsed map[string]interface{}) string {
	if parsed == nil {
		return "no further detail"
	}
	if e, ok := parsed["error"].(string); ok && e != "" {
		return e
	}
	return "no further detail"
}

// prepareDatabase implements spec.md §4.8 step 2.
func (o *Orchestrator) prepareDatabase(databaseName string) error {
	cfg, err := o.controllerCall(httpx.GET, "/replication/config", nil)
	if err != nil {
		return fmt.Errorf("fetching replication config: %w", err)
	}

	if !databaseExists(cfg, databaseName) {
		if _, err := o.controllerCall(httpx.POST, "/ingest/database", map[string]interface{}{
			"database":       databaseName,
			"num_stripes":    DefaultNumStripes,
			"num_sub_stripes": DefaultNumSubStripes,
			"overlap":        DefaultOverlap,
		}); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
		if err := o.createDirectorTable(databaseName); err != nil {
			return err
		}
		if _, err := o.controllerCall(httpx.POST, "/ingest/chunk", map[string]interface{}{
			"database": databaseName,
			"chunk":    0,
		}); err != nil {
			return fmt.Errorf("allocating chunk 0: %w", err)
		}
		return nil
	}

	if databasePublished(cfg, databaseName) {
		if err := o.unpublishDatabase(databaseName); err != nil {
			return err
		}
	}
	if !databaseHasDirector(cfg, databaseName) {
		if err := o.createDirectorTable(databaseName); err != nil {
			return err
		}
	}
	return nil
}

func databaseExists(cfg map[string]interface{}, databaseName string) bool {
	_, ok := findDatabase(cfg, databaseName)
	return ok
}

func databasePublished(cfg map[string]interface{}, databaseName string) bool {
	db, ok := findDatabase(cfg, databaseName)
	if !ok {
		return false
	}
	published, _ := db["isPublished"].(bool)
	return published
}

func databaseHasDirector(cfg map[string]interface{}, databaseName string) bool {
	db, ok := findDatabase(cfg, databaseName)
	if !ok {
		return false
	}
	tables, _ := db["tables"].([]interface{})
	for _, t := range tables {
		table, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		if isDirector, _ := table["isDirector"].(bool); isDirector {
			return true
		}
	}
	return false
}

func findDatabase(cfg map[string]interface{}, databaseName string) (map[string]interface{}, bool) {
	databases, _ := cfg["databases"].([]interface{})
	for _, d := range databases {
		db, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := db["database"].(string); name == databaseName {
			return db, true
		}
	}
	return nil, false
}

func (o *Orchestrator) createDirectorTable(databaseName string) error {
	columns := make([]map[string]string, len(DirectorTableSchema))
	copy(columns, DirectorTableSchema)
	_, err := o.controllerCall(httpx.POST, "/ingest/table/", map[string]interface{}{
		"database":      databaseName,
		"table":         "qserv_director",
		"is_partitioned": 1,
		"director_table": true,
		"schema":        columns,
	})
	if err != nil {
		return fmt.Errorf("creating director table: %w", err)
	}
	return nil
}

func (o *Orchestrator) unpublishDatabase(databaseName string) error {
	_, err := o.controllerCall(httpx.PUT, "/replication/config/database/"+databaseName, map[string]interface{}{
		"publish": 0,
	})
	return err
}

func (o *Orchestrator) publishDatabase(databaseName string) error {
	_, err := o.controllerCall(httpx.PUT, "/ingest/database/"+databaseName, nil)
	return err
}

func (o *Orchestrator) createTable(databaseName, tableName string, schema []Column) error {
	_, err := o.controllerCall(httpx.POST, "/ingest/table/", map[string]interface{}{
		"database":       databaseName,
		"table":          tableName,
		"is_partitioned": 0,
		"schema":         schema,
	})
	return err
}

func (o *Orchestrator) deleteTable(databaseName, tableName string) {
	if _, err := o.controllerCall(httpx.DELETE, "/ingest/table/"+databaseName+"/"+tableName, nil); err != nil {
		o.logger.Warn("failed to delete table after ingest failure",
			zap.String("database", databaseName), zap.String("table", tableName), zap.Error(err))
	}
}

// DropTable implements DELETE /ingest/table/:database/:table (spec.md
// §6): a direct, unconditional drop requested by the client, as
// opposed to deleteTable's best-effort cleanup after a failed ingest.
func (o *Orchestrator) DropTable(databaseName, tableName string) error {
	if err := VerifyUserDatabaseName(databaseName); err != nil {
		return err
	}
	if err := VerifyUserTableName(tableName); err != nil {
		return err
	}
	_, err := o.controllerCall(httpx.DELETE, "/ingest/table/"+databaseName+"/"+tableName, nil)
	return err
}

// DropDatabase implements DELETE /ingest/database/:database (spec.md §6).
func (o *Orchestrator) DropDatabase(databaseName string) error {
	if err := VerifyUserDatabaseName(databaseName); err != nil {
		return err
	}
	_, err := o.controllerCall(httpx.DELETE, "/ingest/database/"+databaseName, nil)
	return err
}

func (o *Orchestrator) beginTransaction(databaseName string) (uint32, error) {
	resp, err := o.controllerCall(httpx.POST, "/ingest/trans", map[string]interface{}{
		"database": databaseName,
	})
	if err != nil {
		return 0, err
	}
	id, err := extractTransactionID(resp, databaseName)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func extractTransactionID(resp map[string]interface{}, databaseName string) (uint32, error) {
	databases, ok := resp["databases"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("response is missing the 'databases' object")
	}
	db, ok := databases[databaseName].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("response is missing database %q", databaseName)
	}
	transactions, ok := db["transactions"].([]interface{})
	if !ok || len(transactions) == 0 {
		return 0, fmt.Errorf("response has no transactions for database %q", databaseName)
	}
	first, ok := transactions[0].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("malformed transaction entry")
	}
	idFloat, ok := first["id"].(float64)
	if !ok {
		return 0, fmt.Errorf("transaction entry is missing a numeric id")
	}
	return uint32(idFloat), nil
}

func (o *Orchestrator) abortOrCommitTransaction(id uint32, abort bool) error {
	abortFlag := 0
	if abort {
		abortFlag = 1
	}
	_, err := o.controllerCall(httpx.PUT, fmt.Sprintf("/ingest/trans/%d?abort=%d", id, abortFlag), nil)
	return err
}

func (o *Orchestrator) commitTransaction(id uint32) error {
	return o.abortOrCommitTransaction(id, false)
}

func (o *Orchestrator) eligibleWorkers() ([]string, error) {
	resp, err := o.controllerCall(httpx.GET, "/replication/config?is-enabled=1&is-read-only=0", nil)
	if err != nil {
		return nil, err
	}
	workersRaw, ok := resp["workers"].([]interface{})
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, w := range workersRaw {
		worker, ok := w.(map[string]interface{})
		if !ok {
			continue
		}
		enabled, _ := worker["isEnabled"].(bool)
		readOnly, _ := worker["isReadOnly"].(bool)
		if !enabled || readOnly {
			continue
		}
		if name, ok := worker["name"].(string); ok {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

func (o *Orchestrator) createIndexes(databaseName, tableName string, indexes []IndexDef) []string {
	var warnings []string
	for _, idx := range indexes {
		body := map[string]interface{}{
			"database": databaseName,
			"table":    tableName,
			"index":    idx.Index,
			"spec":     idx.Spec,
			"columns":  idx.Columns,
		}
		if idx.Comment != "" {
			body["comment"] = idx.Comment
		}
		if _, err := o.controllerCall(httpx.POST, "/replication/sql/index", body); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to create index %s on %s.%s: %v", idx.Index, databaseName, tableName, err))
		}
	}
	return warnings
}

func (o *Orchestrator) updateTableStats(databaseName, tableName string) []string {
	_, err := o.controllerCall(httpx.POST, "/ingest/table-stats", map[string]interface{}{
		"database": databaseName,
		"table":    tableName,
		"row_counters_state_update_policy": "ENABLED",
		"row_counters_deploy_at_qserv":     1,
	})
	if err != nil {
		return []string{fmt.Sprintf("failed to update table statistics for %s.%s: %v", databaseName, tableName, err)}
	}
	return nil
}
