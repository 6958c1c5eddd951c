package httpapi

import (
	"time"

	"errwatch/internal/model"
)

// stackFrameRequest mirrors the wire shape of one stack frame entry.
type stackFrameRequest struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Function string `json:"function"`
	InApp    bool   `json:"inApp"`
}

// ingestRequest is the body of POST /api/errors/:projectId.
type ingestRequest struct {
	Message     string              `json:"message"`
	StackTrace  []stackFrameRequest `json:"stackTrace"`
	Environment string              `json:"environment"`
	Metadata    map[string]any      `json:"metadata"`
	UserContext map[string]any      `json:"userContext"`
	Timestamp   *time.Time          `json:"timestamp"`
}

func (r ingestRequest) toRawEvent() model.RawEvent {
	frames := make([]model.StackFrame, len(r.StackTrace))
	for i, f := range r.StackTrace {
		frames[i] = model.StackFrame{File: f.File, Line: f.Line, Column: f.Column, Function: f.Function, InApp: f.InApp}
	}
	return model.RawEvent{
		Message:        r.Message,
		StackTrace:     frames,
		Environment:    r.Environment,
		Metadata:       r.Metadata,
		HasMetadata:    r.Metadata != nil,
		UserContext:    r.UserContext,
		HasUserContext: r.UserContext != nil,
		Timestamp:      r.Timestamp,
	}
}
