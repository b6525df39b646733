// Package v1 defines the Imzo chat wire contract shared by the client and the
// stub backend: the outbound request envelope and the inbound frame union.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// TypeRequest tags a user message sent over the socket.
	TypeRequest = "request"

	// TypeChunk tags an inbound partial-response frame.
	TypeChunk = "chunk"

	// StatusEnd marks the end of the current response stream.
	StatusEnd = "end"
)

// Request is the only outbound envelope the chat socket carries.
type Request struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewRequest builds a Request for the given user text.
func NewRequest(text string) Request {
	return Request{Message: text, Type: TypeRequest}
}

func (r Request) Validate() error {
	if r.Type != TypeRequest {
		return fmt.Errorf("unsupported type: %s", r.Type)
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("empty message")
	}
	return nil
}

// FrameKind discriminates the inbound frame union.
type FrameKind uint8

const (
	FrameUnknown FrameKind = iota
	FrameChunk
	FrameEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameChunk:
		return "chunk"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Frame is a decoded inbound frame. Data is set for FrameChunk only.
type Frame struct {
	Kind FrameKind
	Data string
}

// ChunkFrame is the server-side encode shape for a partial response.
type ChunkFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// EndFrame is the server-side encode shape for the end-of-stream marker.
type EndFrame struct {
	Status string `json:"status"`
}

// NewChunk builds a chunk frame for data.
func NewChunk(data string) ChunkFrame {
	return ChunkFrame{Type: TypeChunk, Data: data}
}

// NewEnd builds the end-of-stream marker.
func NewEnd() EndFrame {
	return EndFrame{Status: StatusEnd}
}

// inboundEnvelope covers both inbound shapes: chunk frames carry type+data,
// the terminal frame carries status only.
type inboundEnvelope struct {
	Type   string `json:"type"`
	Data   string `json:"data"`
	Status string `json:"status"`
}

// DecodeFrame parses an inbound frame. Undecodable JSON is an error; a frame
// that parses but matches neither known shape decodes as FrameUnknown so new
// server-side frame kinds do not break older clients.
func DecodeFrame(b []byte) (Frame, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch {
	case env.Status == StatusEnd:
		return Frame{Kind: FrameEnd}, nil
	case env.Type == TypeChunk:
		return Frame{Kind: FrameChunk, Data: env.Data}, nil
	default:
		return Frame{Kind: FrameUnknown}, nil
	}
}
