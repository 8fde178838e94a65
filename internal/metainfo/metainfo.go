// Package metainfo implements GET /meta/version (spec.md §6): the
// service-identity/API-version endpoint every module's version check
// is calibrated against. Grounded on
// original_source/src/czar/HttpCzarSvc.cc's _registerHandlers, which
// builds a {kind, id, instance_id} object and hands it to
// http::ChttpMetaModule::process(..., "VERSION") — that module's
// source isn't in the retrieval pack, so the VERSION sub-module's
// {success, version} fields are rendered here directly against
// modreq's own envelope instead of guessing at ChttpMetaModule's
// internals.
package metainfo

import (
	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/modreq"
)

// Info is the static service-identity payload this build reports.
type Info struct {
	Kind       string
	ID         string
	InstanceID string
}

// Handler builds the /meta/version gin handler. No authorization is
// enforced: service discovery must work before any caller has a key.
func Handler(info Info, currentVersion int) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthNone, CurrentVersion: currentVersion}
	cfg := modreq.Config{}
	return modreq.Handler(cfg, spec, func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *modreq.WarningAccumulator) (map[string]any, error) {
		return map[string]any{
			"kind":        info.Kind,
			"id":          info.ID,
			"instance_id": info.InstanceID,
			"version":     currentVersion,
		}, nil
	})
}
