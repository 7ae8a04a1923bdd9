// Package tools implements the builtin tool set and its dispatcher.
package tools

import "context"

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// ImagePayload is raw image output from a tool, normalized before it is
// placed into the session transcript.
type ImagePayload struct {
	Data     []byte
	MimeType string
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the model
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user-facing output
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error, not serialized

	Images []ImagePayload `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

func (r *Result) WithImage(data []byte, mimeType string) *Result {
	r.Images = append(r.Images, ImagePayload{Data: data, MimeType: mimeType})
	return r
}
