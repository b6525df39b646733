package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"imzo/cmd/internal/ids"
	"imzo/cmd/internal/rooms"
	v1 "imzo/shared/contracts/chat/v1"
)

const maxAnalysisUploadBytes = 16 << 20

// API serves the stub's REST surface: OTP auth, the room directory, and
// analysis jobs.
type API struct {
	log   *slog.Logger
	store Store
	otp   *OTPService

	// AnalysisDelay is how long a submitted job stays pending.
	AnalysisDelay time.Duration

	mu   sync.Mutex
	jobs map[string]analysisJob
}

type analysisJob struct {
	question string
	filename string
	readyAt  time.Time
	result   string
}

func NewAPI(log *slog.Logger, store Store, otp *OTPService) *API {
	return &API{
		log:           log,
		store:         store,
		otp:           otp,
		AnalysisDelay: 2 * time.Second,
		jobs:          make(map[string]analysisJob),
	}
}

// Register mounts all routes on mux, wiring the WS gateway alongside.
func (a *API) Register(mux *http.ServeMux, gw *Gateway) {
	mux.HandleFunc("POST /auth/otp/request", a.handleOTPRequest)
	mux.HandleFunc("POST /auth/otp/verify", a.handleOTPVerify)

	mux.HandleFunc("GET /rooms", a.withAuth(a.handleListRooms))
	mux.HandleFunc("POST /rooms", a.withAuth(a.handleCreateRoom))
	mux.HandleFunc("GET /rooms/{room}/history", a.withAuth(a.handleHistory))

	mux.HandleFunc("POST /analysis", a.withAuth(a.handleAnalysisSubmit))
	mux.HandleFunc("GET /analysis/{job}", a.withAuth(a.handleAnalysisStatus))

	mux.HandleFunc("GET /ws/{room}", gw.HandleWS)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// ---- auth ----

func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.otp != nil && !a.otp.ValidToken(bearerToken(r)) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	}
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	var in v1.OTPRequest
	if !readJSON(w, r, &in) {
		return
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		writeError(w, http.StatusBadRequest, "missing phone")
		return
	}

	code, err := a.otp.IssueCode(phone, time.Now().UTC())
	if err != nil {
		a.log.Error("otp.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "could not issue code")
		return
	}

	// No SMS in the stub: hand the code back for dev and test flows.
	writeJSON(w, http.StatusOK, v1.OTPRequestResponse{DebugCode: code})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var in v1.OTPVerifyRequest
	if !readJSON(w, r, &in) {
		return
	}

	token, err := a.otp.Verify(strings.TrimSpace(in.Phone), strings.TrimSpace(in.Code), time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrCodeMismatch) || errors.Is(err, ErrCodeExpired) || errors.Is(err, ErrNoCode) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		a.log.Error("otp.verify.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}

	writeJSON(w, http.StatusOK, v1.OTPVerifyResponse{Token: token})
}

// ---- rooms ----

func (a *API) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListRooms(r.Context())
	if err != nil {
		a.log.Error("rooms.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]v1.Room, 0, len(list))
	for _, rm := range list {
		out = append(out, v1.Room{ID: rm.ID, Title: rm.Title, CreatedAt: rm.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in v1.CreateRoomRequest
	if !readJSON(w, r, &in) {
		return
	}
	title := rooms.TitleFromSeed(in.Title)
	if title == "" {
		writeError(w, http.StatusUnprocessableEntity, "empty title")
		return
	}

	now := time.Now().UTC()
	rm, err := a.store.CreateRoom(r.Context(), ids.MustULID(now), title, now)
	if err != nil {
		a.log.Error("rooms.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	a.log.Info("rooms.created", "room_id", rm.ID, "title", rm.Title)
	writeJSON(w, http.StatusCreated, v1.Room{ID: rm.ID, Title: rm.Title, CreatedAt: rm.CreatedAt})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")

	turns, err := a.store.History(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		a.log.Error("rooms.history.fail", "room_id", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, "history failed")
		return
	}

	out := make([]v1.HistoryTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, v1.HistoryTurn{Request: t.Request, Response: t.Response})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- analysis ----

func (a *API) handleAnalysisSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAnalysisUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad multipart form")
		return
	}

	question := strings.TrimSpace(r.FormValue("question"))
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	size, _ := io.Copy(io.Discard, f)
	_ = f.Close()

	now := time.Now().UTC()
	jobID := ids.MustULID(now)

	job := analysisJob{
		question: question,
		filename: hdr.Filename,
		readyAt:  now.Add(a.AnalysisDelay),
		result: fmt.Sprintf(
			"Analysis of %q (%d bytes) for the question %q: the stub backend found nothing remarkable, as always.",
			hdr.Filename, size, question,
		),
	}

	a.mu.Lock()
	a.jobs[jobID] = job
	a.mu.Unlock()

	a.log.Info("analysis.accepted", "job_id", jobID, "file", hdr.Filename, "bytes", size)
	writeJSON(w, http.StatusAccepted, v1.AnalysisSubmitResponse{JobID: jobID})
}

func (a *API) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")

	a.mu.Lock()
	job, ok := a.jobs[jobID]
	a.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	out := v1.AnalysisStatus{JobID: jobID, Status: v1.AnalysisPending}
	if !time.Now().UTC().Before(job.readyAt) {
		out.Status = v1.AnalysisDone
		out.Result = job.result
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- JSON helpers ----

func readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
