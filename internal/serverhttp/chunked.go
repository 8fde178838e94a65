package serverhttp

import (
	"io"
	"net/http"
	"strconv"
)

// ChunkSize is the default partial-read/response-chunk size spec.md
// §4.4/§4.11 names (1 MiB).
const ChunkSize = 1024 * 1024

// StreamFile copies src to w in ChunkSize-bounded writes, flushing
// after each one so a slow consumer sees progress rather than
// buffering the whole body (spec.md §4.11, "content provider").
// contentLength, when >= 0, is announced via Content-Length; the
// export module always knows it up front from a Stat call.
func StreamFile(w http.ResponseWriter, src io.Reader, contentType string, contentLength int64) error {
	w.Header().Set("Content-Type", contentType)
	if contentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, ChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
