package handler

import (
	"time"

	"github.com/yndnr/seqmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/seqmesh-go/internal/storage"
)

// Response is the JSON envelope of every admin response.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

func newResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

func newErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StatusResponse is the body of GET /admin/v1/status.
type StatusResponse struct {
	Build   buildinfo.Info   `json:"build"`
	Driver  string           `json:"driver"`
	Uptime  string           `json:"uptime"`
	Started time.Time        `json:"started"`
	Storage *storage.KVStats `json:"storage,omitempty"`
}

// GCResponse is the body of POST /admin/v1/gc.
type GCResponse struct {
	FilesRewritten uint64 `json:"files_rewritten"`
	Duration       string `json:"duration"`
}
