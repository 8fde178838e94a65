// Package modreq implements the per-request module framework described
// in spec.md §4.5 (C5): the canonical JSON response envelope,
// authorization enforcement, API-version checking, warning
// accumulation, and the file-upload module that wires C3's multipart
// events into subclass hooks. It generalizes the teacher's
// middleware.Response/ResponseAPI/send pattern (middleware/response.go,
// middleware/type.response.go) from a generic "data envelope" into the
// spec's {success, error, error_ext, warning, ...data} wire shape.
package modreq

import (
	jsoniter "github.com/json-iterator/go"
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the canonical response shape every module writes
// (spec.md §6, "Wire envelope").
type Envelope struct {
	Success  int            `json:"success"`
	Error    string         `json:"error"`
	ErrorExt any            `json:"error_ext,omitempty"`
	Warning  string         `json:"warning,omitempty"`
	Data     map[string]any `json:"-"`
}

// MarshalJSON flattens Data alongside the envelope's own fields, so a
// client sees one flat JSON object rather than a nested "data" key —
// matching the reference wire format, where payload fields sit beside
// success/error/warning at the top level.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["success"] = e.Success
	out["error"] = e.Error
	if e.ErrorExt != nil {
		out["error_ext"] = e.ErrorExt
	}
	if e.Warning != "" {
		out["warning"] = e.Warning
	}
	return wireJSON.Marshal(out)
}

// Ok builds a success envelope carrying data and any accumulated
// warnings.
func Ok(data map[string]any, warning string) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{Success: 1, Data: data, Warning: warning}
}

// Fail builds a failure envelope. errorExt carries the free-form
// machine-readable diagnostics object spec.md §6 describes
// (http_error, system_error, retry_allowed, worker_errors).
func Fail(message string, errorExt any) Envelope {
	return Envelope{Success: 0, Error: message, ErrorExt: errorExt}
}

// extEnricher is implemented by error types that carry a machine-readable
// error_ext payload (*VersionError, ingest.WorkerFanOutError, ...).
// FailFromError checks for it so every module gets this for free instead
// of each handler re-extracting it by hand.
type extEnricher interface {
	ErrorExt() any
}

// FailFromError builds a failure envelope from a plain error, pulling its
// error_ext payload out automatically when the error implements extEnricher.
func FailFromError(err error) Envelope {
	var ext any
	if e, ok := err.(extEnricher); ok {
		ext = e.ErrorExt()
	}
	return Fail(err.Error(), ext)
}

// WarningAccumulator collects warnings raised over the course of one
// request and joins them with "; " per spec.md §4.5.
type WarningAccumulator struct {
	items []string
}

// Add records a warning. A no-op on an empty message.
func (w *WarningAccumulator) Add(message string) {
	if message == "" {
		return
	}
	w.items = append(w.items, message)
}

// String joins accumulated warnings with "; ".
func (w *WarningAccumulator) String() string {
	if len(w.items) == 0 {
		return ""
	}
	out := w.items[0]
	for _, m := range w.items[1:] {
		out += "; " + m
	}
	return out
}
