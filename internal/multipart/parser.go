// Package multipart implements the streaming multipart/form-data
// decomposition described in spec.md §4.3 (C3). It is a thin, typed event
// layer over the standard library's mime/multipart.Reader — no third-party
// package in the retrieval pack brings a dedicated multipart parser, and
// mime/multipart is already the engine gin itself uses internally for
// c.MultipartForm, so reaching past it would just reimplement RFC 2046
// parsing for no behavioral gain (see DESIGN.md).
package multipart

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Handler receives the event stream. Any callback returning false cancels
// further parsing without emitting OnFinished (spec.md §4.3).
type Handler struct {
	// OnParam is called once per non-file part with its name and fully
	// accumulated value. Return false to abort parsing.
	OnParam func(name, value string) bool

	// OnStartOfFile is called when a file part begins.
	OnStartOfFile func(name, fileName, contentType string) bool

	// OnFileData is called with each chunk of file bytes, in order,
	// sized at most maxRecordSize.
	OnFileData func(name string, data []byte) bool

	// OnEndOfFile is called once the current file part is exhausted.
	OnEndOfFile func(name string) bool

	// OnFinished is called exactly once, with an empty error string on
	// success, unless a handler already cancelled the parse.
	OnFinished func(errorMessage string)
}

// DefaultMaxRecordSize bounds a single OnFileData chunk.
const DefaultMaxRecordSize = 64 * 1024

// Parser streams a multipart/form-data body, invoking a Handler's
// callbacks as parts are discovered. It supports both eager use (read the
// whole body up front, e.g. in a test) and streaming use (pass a live
// request body reader).
type Parser struct {
	boundary      string
	maxRecordSize int
	handler       Handler
}

// New builds a Parser for the given Content-Type header value (which must
// carry a boundary parameter) and Handler.
func New(contentType string, handler Handler) (*Parser, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: bad Content-Type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("invalid argument: not a multipart content type: %s", mediaType)
	}
	boundary, ok := caseInsensitiveLookup(params, "boundary")
	if !ok || boundary == "" {
		return nil, fmt.Errorf("invalid argument: Content-Type is missing a boundary parameter")
	}
	return &Parser{boundary: boundary, maxRecordSize: DefaultMaxRecordSize, handler: handler}, nil
}

// WithMaxRecordSize overrides the default per-chunk size passed to
// OnFileData.
func (p *Parser) WithMaxRecordSize(n int) *Parser {
	if n > 0 {
		p.maxRecordSize = n
	}
	return p
}

// caseInsensitiveLookup mirrors the spec's requirement that Content-Type
// and Content-Disposition parameters are matched case-insensitively
// (mime.ParseMediaType already lower-cases parameter keys, but we keep
// this explicit so the contract doesn't silently depend on that detail).
func caseInsensitiveLookup(params map[string]string, key string) (string, bool) {
	key = strings.ToLower(key)
	for k, v := range params {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return "", false
}

// Parse consumes body, a multipart/form-data stream, emitting events to
// the configured Handler. It returns only after OnFinished has fired (or
// a handler cancelled the parse).
func (p *Parser) Parse(body io.Reader) {
	reader := multipart.NewReader(bufio.NewReader(body), p.boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			p.finish("")
			return
		}
		if err != nil {
			p.finish(err.Error())
			return
		}

		cont, err := p.handlePart(part)
		part.Close()
		if err != nil {
			p.finish(err.Error())
			return
		}
		if !cont {
			return
		}
	}
}

func (p *Parser) handlePart(part *multipart.Part) (bool, error) {
	fileName := part.FileName()
	name := part.FormName()

	if fileName == "" {
		var b strings.Builder
		if _, err := io.Copy(&b, part); err != nil {
			return false, fmt.Errorf("reading parameter part %q: %w", name, err)
		}
		if p.handler.OnParam != nil {
			return p.handler.OnParam(name, b.String()), nil
		}
		return true, nil
	}

	contentType := part.Header.Get("Content-Type")
	if p.handler.OnStartOfFile != nil {
		if !p.handler.OnStartOfFile(name, fileName, contentType) {
			return false, nil
		}
	}

	buf := make([]byte, p.maxRecordSize)
	for {
		n, err := part.Read(buf)
		if n > 0 && p.handler.OnFileData != nil {
			if !p.handler.OnFileData(name, buf[:n]) {
				return false, nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, fmt.Errorf("reading file part %q (%q): %w", name, fileName, err)
		}
	}

	if p.handler.OnEndOfFile != nil {
		if !p.handler.OnEndOfFile(name) {
			return false, nil
		}
	}
	return true, nil
}

func (p *Parser) finish(errMessage string) {
	if p.handler.OnFinished != nil {
		p.handler.OnFinished(errMessage)
	}
}

// PartHeaderParam extracts a Content-Disposition or Content-Type
// parameter from a raw MIME header, matching case-insensitively, for
// callers that need lower-level access than the Handler callbacks give.
func PartHeaderParam(header textproto.MIMEHeader, field, param string) (string, bool) {
	raw := header.Get(field)
	if raw == "" {
		return "", false
	}
	_, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", false
	}
	return caseInsensitiveLookup(params, param)
}
