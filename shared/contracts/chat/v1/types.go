package v1

import "time"

// Room is the directory listing shape.
type Room struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryTurn is one completed request/response pair from room history,
// ordered oldest first.
type HistoryTurn struct {
	Request  string `json:"request"`
	Response string `json:"response"`
}

type CreateRoomRequest struct {
	Title string `json:"title"`
}

type OTPRequest struct {
	Phone string `json:"phone"`
}

// OTPRequestResponse acknowledges a code request. DebugCode is only set by
// dev backends that have no SMS delivery.
type OTPRequestResponse struct {
	DebugCode string `json:"debug_code,omitempty"`
}

type OTPVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type OTPVerifyResponse struct {
	Token string `json:"token"`
}

// AnalysisSubmitResponse carries the id of an accepted analysis job.
type AnalysisSubmitResponse struct {
	JobID string `json:"job_id"`
}

// AnalysisStatus is the long-poll shape: Result stays empty until the job
// finishes.
type AnalysisStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Result string `json:"result"`
}

const (
	AnalysisPending = "pending"
	AnalysisDone    = "done"
)
