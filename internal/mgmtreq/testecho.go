package mgmtreq

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/qserv-ingest/czarctl/internal/httpx"
)

// wireJSON is used to encode outbound request bodies, mirroring the rest
// of the module's use of json-iterator in place of encoding/json.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TestEcho is the diagnostic QSERV_TEST_ECHO request: it posts an
// arbitrary string to a worker's /echo endpoint and expects it back
// unchanged (grounded on TestEchoQservMgtRequest.cc).
type TestEcho struct {
	Data     string
	dataEcho string
}

// NewTestEcho builds an Impl that POSTs data to /echo.
func NewTestEcho(data string) *TestEcho { return &TestEcho{Data: data} }

func (r *TestEcho) Type() string { return "QSERV_TEST_ECHO" }

func (r *TestEcho) CreateHTTPRequest(string) (httpx.Method, string, []byte, error) {
	body, err := wireJSON.Marshal(map[string]string{"data": r.Data})
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid argument: %w", err)
	}
	return httpx.POST, "/echo", body, nil
}

func (r *TestEcho) DataReady(data map[string]interface{}) (ExtendedState, error) {
	echoed, ok := data["data"].(string)
	if !ok {
		return ExtServerBadResponse, fmt.Errorf("response is missing the 'data' field")
	}
	r.dataEcho = echoed
	return ExtSuccess, nil
}

// DataEcho returns the echoed payload. Only valid once the request has
// finished successfully.
func (r *TestEcho) DataEcho() string { return r.dataEcho }

func (r *TestEcho) PersistentState() [][2]string {
	return [][2]string{{"data_length_bytes", fmt.Sprintf("%d", len(r.Data))}}
}
