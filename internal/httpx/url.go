package httpx

import (
	"fmt"
	"strconv"
	"strings"
)

// Url is a parsed endpoint identity: scheme, host, port, target path, and
// query string. Only the "http" scheme is accepted by the core client
// (spec.md §3, §4.1); TLS is out of scope for the control plane core.
type Url struct {
	Scheme string
	Host   string
	Port   uint16
	Target string
	Query  string
}

// DataCSV is the pseudo-scheme used to label a contribution's source when
// its bytes were streamed directly into a worker's multipart endpoint
// rather than fetched from a remote resource (spec.md §4.9 step 2, and
// original_source's http::Url::DATA_CSV).
const DataCSV = "data-csv"

// ParseUrl parses "scheme://host[:port]/target[?query]". The default port
// is 80 when absent. Any scheme other than "http" is rejected; DataCSV is
// accepted separately via IsDataCSV for contribution bookkeeping.
func ParseUrl(raw string) (Url, error) {
	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return Url{}, fmt.Errorf("invalid argument: '%s' has no scheme separator", raw)
	}
	scheme := raw[:schemeSep]
	rest := raw[schemeSep+3:]

	if scheme != "http" && scheme != DataCSV {
		return Url{}, fmt.Errorf("invalid argument: unsupported scheme '%s'", scheme)
	}

	pathStart := strings.IndexByte(rest, '/')
	var hostPort, pathAndQuery string
	if pathStart < 0 {
		hostPort = rest
	} else {
		hostPort = rest[:pathStart]
		pathAndQuery = rest[pathStart:]
	}
	if hostPort == "" {
		return Url{}, fmt.Errorf("invalid argument: '%s' has no host", raw)
	}

	host := hostPort
	port := uint16(80)
	if idx := strings.LastIndexByte(hostPort, ':'); idx >= 0 {
		host = hostPort[:idx]
		p, err := strconv.ParseUint(hostPort[idx+1:], 10, 16)
		if err != nil {
			return Url{}, fmt.Errorf("invalid argument: bad port in '%s': %w", raw, err)
		}
		port = uint16(p)
	}

	target := pathAndQuery
	query := ""
	if qIdx := strings.IndexByte(pathAndQuery, '?'); qIdx >= 0 {
		target = pathAndQuery[:qIdx]
		query = pathAndQuery[qIdx+1:]
	}
	if target == "" {
		target = "/"
	}

	return Url{Scheme: scheme, Host: host, Port: port, Target: target, Query: query}, nil
}

// IsDataCSV reports whether u was built from a contribution's synthetic
// data-csv:// label rather than a real network endpoint.
func (u Url) IsDataCSV() bool { return u.Scheme == DataCSV }

// String reassembles the canonical "scheme://host:port/target?query" form.
func (u Url) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if u.Port != 0 && u.Port != 80 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(u.Port)))
	}
	b.WriteString(u.Target)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	return b.String()
}
