package modreq

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Spec describes one module's static requirements: its auth
// enforcement level and the API version range it accepts. Every
// concrete handler (ingest, query, export, ...) declares one.
type Spec struct {
	AuthType   AuthType
	MinVersion int
	// CurrentVersion is this build's version; requests above it are
	// rejected the same as requests below MinVersion.
	CurrentVersion int
}

// HandlerFunc is a module's body: it receives the already-authorized
// request (isAdmin reflects an elevated admin_auth_key match), the
// parsed JSON body (nil for GET/DELETE requests with no body), and a
// WarningAccumulator to append non-fatal warnings to. It returns the
// success payload or an error; Handler translates either into the
// canonical Envelope.
type HandlerFunc func(c *gin.Context, body map[string]interface{}, isAdmin bool, warnings *WarningAccumulator) (map[string]any, error)

// Config carries the process-wide authorization context every module
// checks against (spec.md §9, "Shared mutable state": initialized once
// at startup, read freely thereafter).
type Config struct {
	Auth Context
}

// Handler builds a gin.HandlerFunc implementing the module contract:
// parse body (if present), enforce authorization, enforce API
// version, invoke fn, and always write the canonical envelope —
// mirroring the teacher's RequestInit/ResponseInit/send pipeline
// (middleware/response.go) but generalized to the spec's
// {success,error,error_ext,warning} shape instead of a generic "data"
// field.
func Handler(cfg Config, spec Spec, fn HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("requestId", requestID)

		var body map[string]interface{}
		if c.Request.ContentLength != 0 && (c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut) {
			if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
				writeEnvelope(c, Fail("invalid argument: malformed JSON body: "+err.Error(), nil))
				return
			}
		}

		warnings := &WarningAccumulator{}

		// File-upload modules (C3-backed) pre-parse the multipart body
		// and stash its non-file fields here before Handler runs; honor
		// that body if present instead of attempting ShouldBindJSON
		// against a multipart content type.
		if preParsed, ok := c.Get("modreq.body"); ok {
			if m, ok := preParsed.(map[string]interface{}); ok {
				body = m
			}
		}

		// GET/DELETE modules carry no JSON body; route auth_key/
		// admin_auth_key through the same body-key check via the query
		// string instead, as CheckVersion (version.go) reads "version"
		// from the query string.
		if body == nil && spec.AuthType == AuthRequired {
			if authKey, adminKey := c.Query("auth_key"), c.Query("admin_auth_key"); authKey != "" || adminKey != "" {
				body = map[string]interface{}{"auth_key": authKey, "admin_auth_key": adminKey}
			}
		}

		isAdmin, err := CheckAuth(spec.AuthType, cfg.Auth, c.Request.Header, body)
		if err != nil {
			writeEnvelope(c, Fail(err.Error(), nil))
			return
		}

		if verr := CheckVersion(c, body, spec.MinVersion, spec.CurrentVersion, warnings); verr != nil {
			writeEnvelope(c, FailFromError(verr))
			return
		}

		data, err := fn(c, body, isAdmin, warnings)
		if err != nil {
			writeEnvelope(c, FailFromError(err))
			return
		}

		writeEnvelope(c, Ok(data, warnings.String()))
	}
}

func writeEnvelope(c *gin.Context, e Envelope) {
	c.Abort()
	c.JSON(http.StatusOK, e)
}
