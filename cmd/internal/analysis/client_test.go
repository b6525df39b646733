package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastClient(baseURL string) *Client {
	c := NewClient(testLogger(), baseURL, nil)
	c.PollInterval = 2 * time.Millisecond
	return c
}

func TestSubmitMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("question"); got != "what does clause 3 mean?" {
			t.Errorf("question = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = f.Close() }()
		if hdr.Filename != "contract.pdf" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		b, _ := io.ReadAll(f)
		if string(b) != "pdf-bytes" {
			t.Errorf("file content = %q", b)
		}
		_ = json.NewEncoder(w).Encode(v1.AnalysisSubmitResponse{JobID: "job-1"})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	jobID, err := c.Submit(context.Background(), "contract.pdf", strings.NewReader("pdf-bytes"), "what does clause 3 mean?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("jobID = %q", jobID)
	}
}

func TestAwaitReturnsResult(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := polls.Add(1)
		st := v1.AnalysisStatus{JobID: "job-1", Status: v1.AnalysisPending}
		if n >= 3 {
			st.Status = v1.AnalysisDone
			st.Result = "the clause limits liability"
		}
		_ = json.NewEncoder(w).Encode(st)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	res, err := c.Await(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res != "the clause limits liability" {
		t.Fatalf("result = %q", res)
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestAwaitBudgetIsExact(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		_ = json.NewEncoder(w).Encode(v1.AnalysisStatus{JobID: "job-1", Status: v1.AnalysisPending})
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Await(context.Background(), "job-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	if got := polls.Load(); got != defaultPollBudget {
		t.Fatalf("polls = %d, want exactly %d", got, defaultPollBudget)
	}
	time.Sleep(20 * time.Millisecond)
	if got := polls.Load(); got != defaultPollBudget {
		t.Fatalf("polls after timeout = %d, want %d", got, defaultPollBudget)
	}
}

func TestAwaitAbortsOnAuthFailure(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Await(context.Background(), "job-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := polls.Load(); got != 1 {
		t.Fatalf("polls = %d, want 1 (abort on first auth failure)", got)
	}
}

func TestAwaitCtxCancelStopsLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(v1.AnalysisStatus{JobID: "job-1", Status: v1.AnalysisPending})
	}))
	defer srv.Close()

	c := NewClient(testLogger(), srv.URL, nil)
	c.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Await(ctx, "job-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestSubmitRejectsBlankFilename(t *testing.T) {
	c := fastClient("http://unused")
	if _, err := c.Submit(context.Background(), "  ", strings.NewReader(""), "q"); err == nil {
		t.Fatal("expected error for blank filename")
	}
}
