// Package resultfile parses the per-query result file name format named in
// spec.md §6: <czarId>-<queryId>-<jobId>-<chunkId>-<attemptCount>[.proto].
// Grounded on original_source/src/util/ResultFileNameParser.{cc,h}.
package resultfile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FileExt is the canonical extension for a staged result file.
const FileExt = ".proto"

// Name holds the attributes encoded in a result file's base name.
type Name struct {
	CzarID       uint32
	QueryID      uint64
	JobID        uint32
	ChunkID      uint32
	AttemptCount uint32
}

// Parse extracts a Name from filePath, which may carry a leading directory
// and the .proto extension; both are stripped before the dash-separated
// attributes are parsed. spec.md's format names five attributes (the
// original's header comment agrees, though its own _parse only validates
// the first four — this parser follows spec.md and requires all five).
func Parse(filePath string) (Name, error) {
	base := filepath.Base(filePath)
	base = strings.TrimSuffix(base, FileExt)

	parts := strings.Split(base, "-")
	if len(parts) != 5 {
		return Name{}, fmt.Errorf("not a valid result file name: %q", filePath)
	}

	attrNames := [5]string{"czarId", "queryId", "jobId", "chunkId", "attemptCount"}
	var attrs [5]uint64
	for i, name := range attrNames {
		v, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return Name{}, fmt.Errorf("attribute %s is not a valid unsigned integer in %q: %w", name, filePath, err)
		}
		attrs[i] = v
	}

	const maxUint32 = uint64(^uint32(0))
	for i, name := range attrNames {
		if i == 1 {
			continue // queryId is a 64-bit attribute, no range check needed
		}
		if attrs[i] > maxUint32 {
			return Name{}, fmt.Errorf("attribute %s out of range in %q", name, filePath)
		}
	}

	return Name{
		CzarID:       uint32(attrs[0]),
		QueryID:      attrs[1],
		JobID:        uint32(attrs[2]),
		ChunkID:      uint32(attrs[3]),
		AttemptCount: uint32(attrs[4]),
	}, nil
}

// Build renders the canonical file name (without a directory prefix) for n.
func Build(n Name) string {
	return fmt.Sprintf("%d-%d-%d-%d-%d%s", n.CzarID, n.QueryID, n.JobID, n.ChunkID, n.AttemptCount, FileExt)
}

// ToJSON mirrors ResultFileNameParser::toJson's wire shape.
func (n Name) ToJSON() map[string]any {
	return map[string]any{
		"czar_id":  n.CzarID,
		"query_id": n.QueryID,
		"job_id":   n.JobID,
		"chunk_id": n.ChunkID,
	}
}
