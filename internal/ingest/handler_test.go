package ingest

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/modreq"
)

func testModreqCfg() modreq.Config {
	return modreq.Config{Auth: modreq.Context{AuthKey: "secret"}}
}

func newIngestRouter(orch *Orchestrator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := testModreqCfg()
	r := gin.New()
	r.POST("/ingest/data", JSONDataHandler(cfg, orch))
	r.POST("/ingest/csv", CSVHandler(cfg, orch))
	r.DELETE("/ingest/database/:database", DropDatabaseHandler(cfg, orch))
	r.DELETE("/ingest/table/:database/:table", DropTableHandler(cfg, orch))
	return r
}

func TestJSONDataHandlerRejectsMissingRows(t *testing.T) {
	state := &fakeController{}
	srv := newFakeControllerServer(t, state)
	defer srv.Close()
	o := New(Config{ControllerBaseURL: srv.URL, RequestTimeoutSec: 5}, nil)
	defer o.Close()

	r := newIngestRouter(o)
	body := `{"auth_key":"secret","database":"user_demo","table":"t","chunk":0}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":0`) {
		t.Fatalf("expected a failure envelope for a missing 'rows' field, got %s", w.Body.String())
	}
}

func TestJSONDataHandlerHappyPath(t *testing.T) {
	state := &fakeController{}
	srv := newFakeControllerServer(t, state)
	defer srv.Close()
	o := New(Config{ControllerBaseURL: srv.URL, RequestTimeoutSec: 5, FanOutPoolThreads: 2}, nil)
	defer o.Close()
	o.workerCache["worker-a"] = srv.URL
	o.workerCache["worker-b"] = srv.URL

	// Point the workers' /ingest/data route at a stub that always
	// succeeds: the controller's own mux in newFakeControllerServer
	// has no such route, so register one directly on the shared server.
	workerOK := false
	srv.Config.Handler.(*http.ServeMux).HandleFunc("/ingest/data", func(w http.ResponseWriter, req *http.Request) {
		workerOK = true
		writeJSON(w, map[string]interface{}{"success": 1})
	})

	r := newIngestRouter(o)
	body := `{"auth_key":"secret","database":"user_demo","table":"t","chunk":0,"rows":[["a","b"]]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":1`) {
		t.Fatalf("expected a success envelope, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"transaction_id":7`) {
		t.Fatalf("expected transaction_id 7 in response, got %s", w.Body.String())
	}
	if !workerOK {
		t.Error("expected the worker's /ingest/data route to be invoked")
	}
}

func TestJSONDataHandlerRejectsBadAuth(t *testing.T) {
	o := New(Config{RequestTimeoutSec: 5}, nil)
	defer o.Close()

	r := newIngestRouter(o)
	body := `{"auth_key":"wrong","database":"user_demo","table":"t","chunk":0,"rows":[["a"]]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/data", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":0`) {
		t.Fatalf("expected a failure envelope for a bad auth_key, got %s", w.Body.String())
	}
}

func TestCSVHandlerRequiresRowsFieldName(t *testing.T) {
	o := New(Config{RequestTimeoutSec: 5}, nil)
	defer o.Close()

	r := newIngestRouter(o)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("auth_key", "secret")
	mw.WriteField("database", "user_demo")
	mw.WriteField("table", "t")
	fw, _ := mw.CreateFormFile("wrongname", "data.csv")
	fw.Write([]byte("1,2,3\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest/csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":0`) {
		t.Fatalf("expected a failure envelope for a wrongly named file field, got %s", w.Body.String())
	}
}

func TestDropDatabaseHandlerValidatesName(t *testing.T) {
	o := New(Config{RequestTimeoutSec: 5}, nil)
	defer o.Close()

	r := newIngestRouter(o)
	req := httptest.NewRequest(http.MethodDelete, "/ingest/database/demo?auth_key=secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":0`) {
		t.Fatalf("expected a failure envelope for a database name missing the user_ prefix, got %s", w.Body.String())
	}
}

func TestDropTableHandlerHappyPath(t *testing.T) {
	state := &fakeController{}
	srv := newFakeControllerServer(t, state)
	defer srv.Close()
	o := New(Config{ControllerBaseURL: srv.URL, RequestTimeoutSec: 5}, nil)
	defer o.Close()

	r := newIngestRouter(o)
	req := httptest.NewRequest(http.MethodDelete, "/ingest/table/user_demo/t?auth_key=secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"success":1`) {
		t.Fatalf("expected a success envelope, got %s", w.Body.String())
	}
}
