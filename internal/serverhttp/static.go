package serverhttp

import (
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// mimeByExt covers the fixed extension set spec.md §4.4 names; gin/net/http
// already infer more via mime.TypeByExtension, but the spec calls these
// six out explicitly so they are pinned rather than left to the host's
// mime.types file.
var mimeByExt = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".html": "text/html",
	".htm":  "text/html",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// MountStatic serves the directory tree at root under pattern+"/*filepath",
// enforcing the normalization/escape check and directory/index.html
// handling spec.md §4.4 requires. pattern must not end in a slash.
func MountStatic(r gin.IRoutes, pattern, root string) {
	r.GET(pattern+"/*filepath", func(c *gin.Context) {
		serveStatic(c, root, c.Param("filepath"))
	})
}

func serveStatic(c *gin.Context, root, rawPath string) {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(errorBody(http.StatusBadRequest)))
		return
	}

	cleaned := path.Clean("/" + decoded)
	if strings.Contains(decoded, "..") && cleaned == "/" && decoded != "/" {
		// path.Clean already resolved a pure ".." traversal down to
		// the root; treat that as an escape attempt rather than a
		// silent remap to "/".
		c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(errorBody(http.StatusForbidden)))
		return
	}

	fsPath := filepath.Join(root, filepath.FromSlash(cleaned))
	absRoot, err1 := filepath.Abs(root)
	absTarget, err2 := filepath.Abs(fsPath)
	if err1 != nil || err2 != nil {
		c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(errorBody(http.StatusForbidden)))
		return
	}
	// A bare HasPrefix(absTarget, absRoot) would accept a sibling
	// directory whose name happens to extend root's, e.g. root
	// "/var/www" matching a target of "/var/www-other/secret"; require
	// the separator (or an exact match) so the prefix lands on a real
	// path boundary.
	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(errorBody(http.StatusForbidden)))
		return
	}

	info, err := os.Stat(absTarget)
	if err != nil {
		if os.IsNotExist(err) {
			c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(errorBody(http.StatusNotFound)))
		} else {
			c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(errorBody(http.StatusForbidden)))
		}
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(c.Request.URL.Path, "/") {
			c.Redirect(http.StatusMovedPermanently, c.Request.URL.Path+"/")
			return
		}
		absTarget = filepath.Join(absTarget, "index.html")
		if _, err := os.Stat(absTarget); err != nil {
			c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte(errorBody(http.StatusNotFound)))
			return
		}
	}

	contentType := mimeByExt[strings.ToLower(filepath.Ext(absTarget))]
	if contentType != "" {
		c.Header("Content-Type", contentType)
	}
	c.File(absTarget)
}
