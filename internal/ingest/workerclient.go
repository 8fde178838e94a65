package ingest

import (
	"bytes"
	"fmt"
	"mime/multipart"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// csvWorkerParams are the per-worker multipart fields step 5 of spec.md
// §4.8 sends to each worker's C9 endpoint, matching
// workeringest.populateContribFromBody's expected keys.
type csvWorkerParams struct {
	TransactionID uint32
	Table         string
	Chunk         uint32
	Overlap       bool
	CSVBody       []byte
}

// submitCSVToWorker POSTs one multipart/form-data request carrying the
// buffered CSV body to workerID's C9 endpoint (IngestFileHttpSvcMod's
// Go counterpart, internal/workeringest.CSVIngestHandler). The same
// CSV bytes are resent, unmodified, to every eligible worker.
func (o *Orchestrator) submitCSVToWorker(workerID string, p csvWorkerParams) error {
	url, err := o.resolveWorkerURL(workerID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := o.cfg.Protocol.apply(map[string]interface{}{
		"transaction_id": fmt.Sprintf("%d", p.TransactionID),
		"table":          p.Table,
		"chunk":          fmt.Sprintf("%d", p.Chunk),
		"overlap":        boolToFlag(p.Overlap),
	})
	for key, value := range fields {
		if err := w.WriteField(key, fmt.Sprintf("%v", value)); err != nil {
			return fmt.Errorf("encoding multipart field %q: %w", key, err)
		}
	}
	fw, err := w.CreateFormFile("rows", "rows.csv")
	if err != nil {
		return fmt.Errorf("opening multipart file part: %w", err)
	}
	if _, err := fw.Write(p.CSVBody); err != nil {
		return fmt.Errorf("writing multipart file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	_, err = o.syncCall(httpx.POST, url+"/ingest/csv", buf.Bytes(), map[string]string{"Content-Type": w.FormDataContentType()})
	return err
}

// jsonRowsWorkerParams are the JSON-body fields sent to each worker's
// C10 endpoint.
type jsonRowsWorkerParams struct {
	TransactionID  uint32
	Table          string
	Chunk          uint32
	Overlap        bool
	Rows           []interface{}
	BinaryEncoding string
}

// submitJSONRowsToWorker POSTs the JSON-rows payload to workerID's C10
// endpoint (internal/workeringest.JSONRowsIngestHandler).
func (o *Orchestrator) submitJSONRowsToWorker(workerID string, p jsonRowsWorkerParams) error {
	url, err := o.resolveWorkerURL(workerID)
	if err != nil {
		return err
	}
	payload := o.cfg.Protocol.apply(map[string]interface{}{
		"transaction_id":  p.TransactionID,
		"table":           p.Table,
		"chunk":           p.Chunk,
		"overlap":         boolToFlag(p.Overlap),
		"rows":            p.Rows,
		"binary_encoding": p.BinaryEncoding,
	})
	_, err = o.syncJSONCall(httpx.POST, url+"/ingest/data", payload)
	return err
}

func boolToFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
