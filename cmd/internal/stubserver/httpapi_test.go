package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	srv, err := New(Config{AnalysisDelay: 20 * time.Millisecond, ChunkInterval: time.Millisecond}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func signIn(t *testing.T, baseURL string) string {
	t.Helper()

	var reqOut v1.OTPRequestResponse
	postJSON(t, baseURL+"/auth/otp/request", v1.OTPRequest{Phone: "+998900000001"}, http.StatusOK, &reqOut)
	if reqOut.DebugCode == "" {
		t.Fatal("stub did not return a debug code")
	}

	var verOut v1.OTPVerifyResponse
	postJSON(t, baseURL+"/auth/otp/verify", v1.OTPVerifyRequest{Phone: "+998900000001", Code: reqOut.DebugCode}, http.StatusOK, &verOut)
	if verOut.Token == "" {
		t.Fatal("verify returned no token")
	}
	return verOut.Token
}

func postJSON(t *testing.T, url string, in any, wantStatus int, out any) {
	t.Helper()

	b, _ := json.Marshal(in)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %s: status %d, want %d (%s)", url, resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func authedReq(t *testing.T, method, url, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestAuthRequiredOnRooms(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestOTPAndRoomFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signIn(t, ts.URL)

	// Wrong code is rejected.
	var reqOut v1.OTPRequestResponse
	postJSON(t, ts.URL+"/auth/otp/request", v1.OTPRequest{Phone: "+998900000002"}, http.StatusOK, &reqOut)
	postJSON(t, ts.URL+"/auth/otp/verify", v1.OTPVerifyRequest{Phone: "+998900000002", Code: "999999"}, http.StatusUnauthorized, nil)

	// Create a room.
	body, _ := json.Marshal(v1.CreateRoomRequest{Title: "qarz shartnomasi haqida savol"})
	resp := authedReq(t, http.MethodPost, ts.URL+"/rooms", token, bytes.NewReader(body), "application/json")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d", resp.StatusCode)
	}
	var room v1.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room.ID == "" || room.Title != "qarz shartnomasi haqida savol" {
		t.Fatalf("room = %+v", room)
	}

	// It shows up in the listing.
	resp2 := authedReq(t, http.MethodGet, ts.URL+"/rooms", token, nil, "")
	defer func() { _ = resp2.Body.Close() }()
	var list []v1.Room
	if err := json.NewDecoder(resp2.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != room.ID {
		t.Fatalf("list = %+v", list)
	}

	// Empty history for a fresh room; 404 for an unknown one.
	resp3 := authedReq(t, http.MethodGet, ts.URL+"/rooms/"+room.ID+"/history", token, nil, "")
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp3.StatusCode)
	}
	resp4 := authedReq(t, http.MethodGet, ts.URL+"/rooms/does-not-exist/history", token, nil, "")
	defer func() { _ = resp4.Body.Close() }()
	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room history: status %d", resp4.StatusCode)
	}
}

func TestCreateRoomRejectsEmptyTitle(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signIn(t, ts.URL)

	body, _ := json.Marshal(v1.CreateRoomRequest{Title: "   "})
	resp := authedReq(t, http.MethodPost, ts.URL+"/rooms", token, bytes.NewReader(body), "application/json")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestAnalysisJobLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signIn(t, ts.URL)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "contract.pdf")
	_, _ = fw.Write([]byte("pdf-bytes"))
	_ = mw.WriteField("question", "nima deydi?")
	_ = mw.Close()

	resp := authedReq(t, http.MethodPost, ts.URL+"/analysis", token, &buf, mw.FormDataContentType())
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	var sub v1.AnalysisSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		t.Fatalf("decode submit: %v", err)
	}

	// Immediately pending.
	resp2 := authedReq(t, http.MethodGet, ts.URL+"/analysis/"+sub.JobID, token, nil, "")
	var st v1.AnalysisStatus
	_ = json.NewDecoder(resp2.Body).Decode(&st)
	_ = resp2.Body.Close()
	if st.Status != v1.AnalysisPending || st.Result != "" {
		t.Fatalf("status right after submit = %+v", st)
	}

	// Done after the configured delay.
	time.Sleep(40 * time.Millisecond)
	resp3 := authedReq(t, http.MethodGet, ts.URL+"/analysis/"+sub.JobID, token, nil, "")
	_ = json.NewDecoder(resp3.Body).Decode(&st)
	_ = resp3.Body.Close()
	if st.Status != v1.AnalysisDone || st.Result == "" {
		t.Fatalf("status after delay = %+v", st)
	}

	// Unknown job.
	resp4 := authedReq(t, http.MethodGet, ts.URL+"/analysis/unknown", token, nil, "")
	defer func() { _ = resp4.Body.Close() }()
	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job: status %d", resp4.StatusCode)
	}
}
