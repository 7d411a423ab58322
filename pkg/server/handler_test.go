package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-reporter/pkg/stream"
)

func newTestRouter(t *testing.T, runner Runner) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, exp := newTestService(t, runner)
	streams := stream.NewManager()
	streams.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(svc, streams, exp)
	h.Logger = svc.Logger

	r := gin.New()
	h.RegisterRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHandlerForegroundReport(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})

	rec, body := doJSON(t, r, http.MethodPost, "/report/", ReportRequest{Task: "Solar storms", ReportType: "research_report"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	id, _ := body["research_id"].(string)
	assert.True(t, strings.HasPrefix(id, "task_"))
	assert.Equal(t, "# Solar storms\n\nlanguage: \n", body["report"])
	assert.Equal(t, []interface{}{"https://a"}, body["visited_urls"])

	rec, body = doJSON(t, r, http.MethodGet, "/report/"+id+"/bundle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, _ = doJSON(t, r, http.MethodGet, "/report/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Solar storms</h1>")

	rec, _ = doJSON(t, r, http.MethodGet, "/outputs/"+id+".md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Solar storms\n\nlanguage: \n", rec.Body.String())

	rec, body = doJSON(t, r, http.MethodGet, "/report/"+id+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "[]", strings.TrimSpace(rec.Body.String()))
	assert.Nil(t, body) // an array, not an object
}

func TestHandlerBackgroundReport(t *testing.T) {
	r, svc := newTestRouter(t, &fakeRunner{})

	rec, body := doJSON(t, r, http.MethodPost, "/report/", ReportRequest{Task: "Solar storms", GenerateInBackground: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backgroundMessage, body["message"])
	assert.NotEmpty(t, body["research_id"])

	require.NoError(t, svc.Wait(t.Context()))
}

func TestHandlerInvalidReport(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})

	rec, body := doJSON(t, r, http.MethodPost, "/report/", ReportRequest{Task: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "invalid request")

	req := httptest.NewRequest(http.MethodPost, "/report/", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReportNotFound(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})

	for _, path := range []string{"/report/missing", "/report/missing/bundle", "/report/missing/logs", "/outputs/missing.pdf", "/outputs/noext"} {
		rec, body := doJSON(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "Report not found.", body["message"], path)
	}
}

func TestHandlerGenerateSummary(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})

	rec, body := doJSON(t, r, http.MethodPost, "/generate-summary", SummaryRequest{Name: "Dune", Author: "Frank Herbert", PublicationDate: "1965"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, key := range []string{"summary_chinese", "research_id_chinese", "pdf_url_chinese", "summary_english", "research_id_english", "pdf_url_english"} {
		assert.NotEmpty(t, body[key], key)
	}
	assert.Equal(t, "https://reports.example.org/outputs/"+body["research_id_english"].(string)+".pdf", body["pdf_url_english"])
}

func TestHandlerSummaryPDFURLResolves(t *testing.T) {
	r, svc := newTestRouter(t, &fakeRunner{})

	res, err := svc.GenerateSummary(t.Context(), SummaryRequest{Name: "Book", Author: "A", PublicationDate: "2000"})
	require.NoError(t, err)

	for _, url := range []string{res.PDFURLChinese, res.PDFURLEnglish} {
		path := strings.TrimPrefix(url, svc.BaseURL)
		require.True(t, strings.HasPrefix(path, "/outputs/"), url)

		rec, _ := doJSON(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Book")
	}
}

func TestHandlerGenerateSummaryFailure(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{failOn: "Frank Herbert"})

	rec, body := doJSON(t, r, http.MethodPost, "/generate-summary", SummaryRequest{Name: "Dune", Author: "Frank Herbert", PublicationDate: "1965"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "model unavailable")
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The pong proves the connection is registered.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong["type"])
	return conn
}

func TestHandlerBroadcastsHTTPRunProgress(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	listeners := []*websocket.Conn{dialStream(t, srv), dialStream(t, srv)}

	data, err := json.Marshal(ReportRequest{Task: "Solar storms"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/report/", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, conn := range listeners {
		var keys []string
		for len(keys) < 2 {
			var msg map[string]interface{}
			require.NoError(t, conn.ReadJSON(&msg))
			assert.Equal(t, "logs", msg["type"])
			keys = append(keys, msg["key"].(string))
		}
		assert.Equal(t, []string{"stage_started", "stage_completed"}, keys)
	}
}

func TestHandlerWebsocket(t *testing.T) {
	r, _ := newTestRouter(t, &fakeRunner{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "start", "task": "Solar storms", "language": "english"}))

	var keys []string
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "logs" {
			keys = append(keys, msg["key"].(string))
			continue
		}
		require.Equal(t, "report", msg["type"], msg)
		output := msg["output"].(map[string]interface{})
		assert.Equal(t, "# Solar storms\n\nlanguage: english\n", output["report"])
		break
	}
	assert.Equal(t, []string{"stage_started", "stage_completed"}, keys)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}
