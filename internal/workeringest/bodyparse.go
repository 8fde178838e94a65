package workeringest

import (
	"fmt"
	"strconv"

	"github.com/qserv-ingest/czarctl/internal/csvdialect"
)

// populateContribFromBody fills in the request-independent fields of a
// Contrib from the {transaction_id, table, chunk, overlap, charset_name,
// max_num_warnings, ...dialect overrides} parameters common to both C9
// (string-valued multipart params) and C10 (JSON-typed body values).
// get must return a field's string form regardless of its original JSON
// type, and report whether it was present.
func populateContribFromBody(c *Contrib, get func(key string) (string, bool), defaultCharsetName string, defaultMaxNumWarnings uint) error {
	transactionID, err := requiredUint(get, "transaction_id")
	if err != nil {
		return err
	}
	c.TransactionID = uint32(transactionID)

	table, ok := get("table")
	if !ok || table == "" {
		return fmt.Errorf("invalid argument: missing required parameter 'table'")
	}
	c.Table = table

	chunk, err := requiredUint(get, "chunk")
	if err != nil {
		return err
	}
	c.Chunk = uint32(chunk)

	overlap, err := requiredUint(get, "overlap")
	if err != nil {
		return err
	}
	c.IsOverlap = overlap != 0

	if charsetName, ok := get("charset_name"); ok && charsetName != "" {
		c.CharsetName = charsetName
	} else {
		c.CharsetName = defaultCharsetName
	}

	if raw, ok := get("max_num_warnings"); ok && raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid argument: max_num_warnings must be numeric: %w", err)
		}
		c.MaxNumWarnings = uint(n)
	} else {
		c.MaxNumWarnings = defaultMaxNumWarnings
	}

	dialectInput := csvdialect.Input{}
	if v, ok := get("fields_terminated_by"); ok {
		dialectInput.FieldsTerminatedBy = &v
	}
	if v, ok := get("fields_enclosed_by"); ok {
		dialectInput.FieldsEnclosedBy = &v
	}
	if v, ok := get("fields_escaped_by"); ok {
		dialectInput.FieldsEscapedBy = &v
	}
	if v, ok := get("lines_terminated_by"); ok {
		dialectInput.LinesTerminatedBy = &v
	}
	dialect, err := csvdialect.FromInput(dialectInput)
	if err != nil {
		return err
	}
	c.Dialect = dialect

	return nil
}

func requiredUint(get func(key string) (string, bool), key string) (uint64, error) {
	raw, ok := get(key)
	if !ok || raw == "" {
		return 0, fmt.Errorf("invalid argument: missing required parameter %q", key)
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid argument: %q must be a non-negative integer: %w", key, err)
	}
	return n, nil
}

// stringFieldGetter adapts a map[string]interface{} body (JSON-typed
// values, as C10 sees) into the string-valued get closure
// populateContribFromBody expects.
func stringFieldGetter(body map[string]interface{}) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := body[key]
		if !ok || v == nil {
			return "", false
		}
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			if t {
				return "1", true
			}
			return "0", true
		default:
			return fmt.Sprintf("%v", t), true
		}
	}
}
