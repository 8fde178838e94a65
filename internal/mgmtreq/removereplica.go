package mgmtreq

import (
	"fmt"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// RemoveReplica is the QSERV_REMOVE_REPLICA request: it asks a worker's
// Qserv instance to stop serving one chunk for a set of databases,
// grounded on RemoveReplicaQservMgtRequest.cc. Force skips Qserv's own
// in-use check on the worker side.
type RemoveReplica struct {
	Chunk     uint32
	Databases []string
	Force     bool
}

// NewRemoveReplica builds an Impl that issues a DELETE against /replica.
func NewRemoveReplica(chunk uint32, databases []string, force bool) *RemoveReplica {
	return &RemoveReplica{Chunk: chunk, Databases: databases, Force: force}
}

func (r *RemoveReplica) Type() string { return "QSERV_REMOVE_REPLICA" }

func (r *RemoveReplica) CreateHTTPRequest(string) (httpx.Method, string, []byte, error) {
	force := 0
	if r.Force {
		force = 1
	}
	body, err := wireJSON.Marshal(map[string]interface{}{
		"chunk":     r.Chunk,
		"databases": r.Databases,
		"force":     force,
	})
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid argument: %w", err)
	}
	return httpx.DELETE, "/replica", body, nil
}

// DataReady has nothing further to extract: a 2xx, success:1 response
// with no body-level payload beyond the envelope is itself the outcome.
func (r *RemoveReplica) DataReady(map[string]interface{}) (ExtendedState, error) {
	return ExtSuccess, nil
}

func (r *RemoveReplica) PersistentState() [][2]string {
	force := "0"
	if r.Force {
		force = "1"
	}
	return [][2]string{
		{"databases", fmt.Sprintf("%v", r.Databases)},
		{"chunk", fmt.Sprintf("%d", r.Chunk)},
		{"force", force},
	}
}
