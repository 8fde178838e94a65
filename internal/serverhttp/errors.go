package serverhttp

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PermissionError and NotFoundError let a handler signal the two
// distinguished failure classes from spec.md §4.4 ("Failure
// behavior") without reaching for raw os/syscall errno checks at the
// call site; they compose with errors.Is via fs.ErrPermission /
// fs.ErrNotExist.
type PermissionError struct{ Err error }

func (e *PermissionError) Error() string { return e.Err.Error() }
func (e *PermissionError) Unwrap() error { return e.Err }

type NotFoundError struct{ Err error }

func (e *NotFoundError) Error() string { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error { return e.Err }

// classify maps a handler error to the status code spec.md §4.4
// prescribes: EACCES-shaped → 403, ENOENT-shaped → 404, anything
// else → 500.
func classify(err error) int {
	var perm *PermissionError
	var notFound *NotFoundError
	switch {
	case errors.As(err, &perm), errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders the pre-shipped HTML error body mentioning the
// status code, matching the teacher's plain html.
func errorBody(code int) string {
	return fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>",
		code, http.StatusText(code), code, http.StatusText(code))
}

// recoveryToEnvelope converts a handler panic carrying an error value
// (c.Error(err) + panic, or a recovered panic(err)) into the
// classified status and HTML body. After the response headers have
// already been written, subsequent panics are swallowed, per spec.
func recoveryToEnvelope(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if c.Writer.Written() {
					logger.Warn("panic after response started, swallowing", zap.Any("recover", r))
					return
				}
				var err error
				switch v := r.(type) {
				case error:
					err = v
				default:
					err = fmt.Errorf("%v", v)
				}
				code := classify(err)
				logger.Error("handler panic", zap.Int("status", code), zap.Error(err))
				c.Data(code, "text/html; charset=utf-8", []byte(errorBody(code)))
				c.Abort()
			}
		}()
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			code := classify(err)
			c.Data(code, "text/html; charset=utf-8", []byte(errorBody(code)))
		}
	}
}

// ValidateRequest rejects a malformed Content-Length (net/http already
// guards this before handlers run) and embedded NULs in the decoded
// path, both mapped to 400 per spec.md §4.4.
func ValidateRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		for i := 0; i < len(c.Request.URL.Path); i++ {
			if c.Request.URL.Path[i] == 0 {
				c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(errorBody(http.StatusBadRequest)))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
