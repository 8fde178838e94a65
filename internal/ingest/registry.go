package ingest

import (
	"fmt"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// resolveWorkerURL returns the HTTP base URL for workerID's loader
// service, consulting the Replication Registry's "/services" endpoint
// on first use and caching the result for the rest of the process
// lifetime (spec.md §5, "Per-worker URL caches ... populated lazily and
// never evicted"), matching HttpCzarIngestModule::_worker.
func (o *Orchestrator) resolveWorkerURL(workerID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if url, ok := o.workerCache[workerID]; ok {
		return url, nil
	}
	if o.cfg.RegistryBaseURL == "" {
		return "", fmt.Errorf("no registry configured; cannot resolve worker %q", workerID)
	}
	if err := o.populateWorkerCacheLocked(); err != nil {
		return "", err
	}
	url, ok := o.workerCache[workerID]
	if !ok {
		return "", fmt.Errorf("no connection parameters for worker: %s", workerID)
	}
	return url, nil
}

// populateWorkerCacheLocked fetches the registry's full service list and
// fills workerCache in one pass; callers hold o.mu.
func (o *Orchestrator) populateWorkerCacheLocked() error {
	// The Registry is a read-only service directory, not an authorized
	// module (original_source's _requestRegistry never attaches
	// ProtocolFields), so this call carries no body.
	resp, err := o.syncJSONCall(httpx.GET, o.cfg.RegistryBaseURL+"/services", nil)
	if err != nil {
		return fmt.Errorf("querying the registry for worker endpoints: %w", err)
	}
	services, ok := resp["services"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("registry response is missing the 'services' object")
	}
	workers, ok := services["workers"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("registry response is missing the 'workers' object")
	}
	for id, raw := range workers {
		worker, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		replication, ok := worker["replication"].(map[string]interface{})
		if !ok {
			continue
		}
		host, _ := replication["host-addr"].(string)
		port, _ := replication["http-loader-port"].(float64)
		if host == "" || port == 0 {
			continue
		}
		o.workerCache[id] = fmt.Sprintf("http://%s:%d", host, int(port))
	}
	return nil
}
