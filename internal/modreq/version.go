package modreq

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// VersionError carries the {min_version, max_version} error_ext payload
// spec.md §4.5 requires when a request's declared version falls
// outside the module's supported range.
type VersionError struct {
	MinVersion int
	MaxVersion int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported API version (supported range [%d, %d])", e.MinVersion, e.MaxVersion)
}

// ErrorExt renders the machine-readable diagnostic object for this error.
func (e *VersionError) ErrorExt() any {
	return map[string]any{"min_version": e.MinVersion, "max_version": e.MaxVersion}
}

// CheckVersion enforces [minVersion, currentVersion] against the
// request's declared version (query param "version", falling back to
// a JSON body field of the same name). Absence emits a warning but
// does not reject (spec.md §4.5).
func CheckVersion(c *gin.Context, body map[string]interface{}, minVersion, currentVersion int, warnings *WarningAccumulator) error {
	raw := c.Query("version")
	if raw == "" {
		if v, ok := stringField(body, "version"); ok {
			raw = v
		}
	}
	if raw == "" {
		warnings.Add("request did not declare an API version")
		return nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid argument: version %q is not numeric", raw)
	}
	if version < minVersion || version > currentVersion {
		return &VersionError{MinVersion: minVersion, MaxVersion: currentVersion}
	}
	return nil
}
