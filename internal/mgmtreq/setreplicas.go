package mgmtreq

import (
	"fmt"
	"sort"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// Replica names one chunk replica resident on a worker, with its
// reference use count as last reported by Qserv itself.
type Replica struct {
	Chunk    uint32
	Database string
	UseCount uint32
}

// SetReplicas is the QSERV_SET_REPLICAS request: it tells a worker's
// Qserv instance the complete set of chunk replicas it should now be
// serving for a given list of databases, grounded on
// SetReplicasQservMgtRequest.cc. Replicas for databases outside the
// filter list are dropped before the request is built, mirroring the
// original's databaseFilter behavior.
type SetReplicas struct {
	NewReplicas []Replica
	Databases   []string
	Force       bool

	replicas []Replica
}

// NewSetReplicas builds an Impl that POSTs the filtered replica set to
// /replicas.
func NewSetReplicas(newReplicas []Replica, databases []string, force bool) *SetReplicas {
	return &SetReplicas{NewReplicas: newReplicas, Databases: databases, Force: force}
}

func (r *SetReplicas) Type() string { return "QSERV_SET_REPLICAS" }

func (r *SetReplicas) CreateHTTPRequest(string) (httpx.Method, string, []byte, error) {
	filter := make(map[string]bool, len(r.Databases))
	for _, db := range r.Databases {
		filter[db] = true
	}

	replicasByDB := make(map[string][]uint32)
	for _, rep := range r.NewReplicas {
		if filter[rep.Database] {
			replicasByDB[rep.Database] = append(replicasByDB[rep.Database], rep.Chunk)
		}
	}

	force := 0
	if r.Force {
		force = 1
	}
	body, err := wireJSON.Marshal(map[string]interface{}{
		"replicas":  replicasByDB,
		"force":     force,
		"databases": r.Databases,
	})
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid argument: %w", err)
	}
	return httpx.POST, "/replicas", body, nil
}

func (r *SetReplicas) DataReady(data map[string]interface{}) (ExtendedState, error) {
	raw, ok := data["replicas"].(map[string]interface{})
	if !ok {
		return ExtServerBadResponse, fmt.Errorf("response is missing the 'replicas' object")
	}

	var replicas []Replica
	for database, chunksRaw := range raw {
		chunks, ok := chunksRaw.([]interface{})
		if !ok {
			return ExtServerBadResponse, fmt.Errorf("'replicas.%s' is not an array", database)
		}
		for _, entryRaw := range chunks {
			entry, ok := entryRaw.([]interface{})
			if !ok || len(entry) < 2 {
				return ExtServerBadResponse, fmt.Errorf("malformed chunk/use-count pair for database %s", database)
			}
			chunk, ok1 := toFloat(entry[0])
			useCount, ok2 := toFloat(entry[1])
			if !ok1 || !ok2 {
				return ExtServerBadResponse, fmt.Errorf("non-numeric chunk/use-count pair for database %s", database)
			}
			replicas = append(replicas, Replica{
				Chunk:    uint32(chunk),
				Database: database,
				UseCount: uint32(useCount),
			})
		}
	}
	sort.Slice(replicas, func(i, j int) bool {
		if replicas[i].Database != replicas[j].Database {
			return replicas[i].Database < replicas[j].Database
		}
		return replicas[i].Chunk < replicas[j].Chunk
	})
	r.replicas = replicas
	return ExtSuccess, nil
}

// Replicas returns the worker's full post-update replica set. Only valid
// once the request has finished successfully.
func (r *SetReplicas) Replicas() []Replica { return r.replicas }

func (r *SetReplicas) PersistentState() [][2]string {
	force := "0"
	if r.Force {
		force = "1"
	}
	return [][2]string{
		{"num_replicas", fmt.Sprintf("%d", len(r.NewReplicas))},
		{"databases", fmt.Sprintf("%v", r.Databases)},
		{"force", force},
	}
}
