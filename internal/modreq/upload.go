package modreq

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/multipart"
)

// UploadHooks are the subclass callbacks a file-upload module
// implements (spec.md §4.5, "File upload module"). onStartOfFile is
// invoked only after authorization succeeds, so a rejected upload
// never streams a byte to disk.
type UploadHooks struct {
	OnStartOfFile func(fieldName, fileName, contentType string) error
	OnFileData    func(fieldName string, data []byte) error
	OnEndOfFile   func(fieldName string) error
	// OnEndOfBody runs after the multipart stream is fully consumed,
	// successfully or not (err nil on success), and is responsible for
	// writing the final envelope via WriteOk/WriteFail — the worker
	// ingest contribution outcome (numRows, numRowsLoaded, warnings)
	// lives with the caller, not with this generic transport shim.
	OnEndOfBody func(c *gin.Context, err error)
}

// UploadHandler builds a gin.HandlerFunc that authorizes the request,
// decomposes its multipart body via C3, routes non-file parts into a
// JSON-like body map so downstream code sees parameters uniformly, and
// dispatches file events to hooks. Authorization is deferred to the
// first OnStartOfFile event rather than checked up front, since the
// auth material itself (auth_key) typically arrives as an ordinary
// multipart field earlier in the same body.
func UploadHandler(cfg Config, spec Spec, buildHooks func(body map[string]interface{}, isAdmin bool) UploadHooks) gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType := c.Request.Header.Get("Content-Type")
		body := map[string]interface{}{}
		warnings := &WarningAccumulator{}

		var authorized bool
		var authErr error
		var hooks UploadHooks
		var hooksBuilt bool

		parser, err := multipart.New(contentType, multipart.Handler{
			OnParam: func(name, value string) bool {
				body[name] = value
				return true
			},
			OnStartOfFile: func(name, fileName, partContentType string) bool {
				if !hooksBuilt {
					isAdmin, err := CheckAuth(spec.AuthType, cfg.Auth, c.Request.Header, body)
					authorized = err == nil
					authErr = err
					hooks = buildHooks(body, isAdmin)
					hooksBuilt = true
				}
				if !authorized {
					return false
				}
				if hooks.OnStartOfFile == nil {
					return true
				}
				if err := hooks.OnStartOfFile(name, fileName, partContentType); err != nil {
					authErr = err
					return false
				}
				return true
			},
			OnFileData: func(name string, data []byte) bool {
				if hooks.OnFileData == nil {
					return true
				}
				if err := hooks.OnFileData(name, data); err != nil {
					authErr = err
					return false
				}
				return true
			},
			OnEndOfFile: func(name string) bool {
				if hooks.OnEndOfFile == nil {
					return true
				}
				if err := hooks.OnEndOfFile(name); err != nil {
					authErr = err
					return false
				}
				return true
			},
			OnFinished: func(errorMessage string) {
				if errorMessage != "" && authErr == nil {
					authErr = fmt.Errorf("%s", errorMessage)
				}
			},
		})
		if err != nil {
			writeEnvelope(c, Fail(err.Error(), nil))
			return
		}

		parser.Parse(c.Request.Body)

		if !hooksBuilt {
			// No file part ever arrived; authorize against the body
			// collected so far so a parameter-only request still gets
			// a definitive answer, and still give the caller a chance
			// to react via OnEndOfBody.
			isAdmin, err := CheckAuth(spec.AuthType, cfg.Auth, c.Request.Header, body)
			authorized = err == nil
			authErr = err
			hooks = buildHooks(body, isAdmin)
		}

		if hooks.OnEndOfBody != nil {
			hooks.OnEndOfBody(c, authErr)
			return
		}

		if authErr != nil {
			writeEnvelope(c, Fail(authErr.Error(), nil))
			return
		}
		c.Status(http.StatusOK)
	}
}

// WriteOk writes a success envelope directly, for callers (like
// UploadHooks.OnEndOfBody) operating outside the plain Handler path.
func WriteOk(c *gin.Context, data map[string]any, warning string) {
	writeEnvelope(c, Ok(data, warning))
}

// WriteFail writes a failure envelope directly.
func WriteFail(c *gin.Context, message string, errorExt any) {
	writeEnvelope(c, Fail(message, errorExt))
}

// WriteFailFromError writes a failure envelope built via FailFromError,
// for callers operating outside the plain Handler path (like
// UploadHooks.OnEndOfBody) that still want automatic error_ext extraction.
func WriteFailFromError(c *gin.Context, err error) {
	writeEnvelope(c, FailFromError(err))
}
