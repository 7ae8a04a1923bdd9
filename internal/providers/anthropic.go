package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/valet/internal/session"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	anthropicVersion  = "2023-06-01"
	defaultHTTPTimout = 120 * time.Second
)

// AnthropicConfig configures the messages-API client.
type AnthropicConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64 // 0 = unlimited
	HTTPClient        *http.Client
}

// Anthropic talks to an Anthropic-compatible messages endpoint.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAnthropic creates the client.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Anthropic{apiKey: cfg.APIKey, baseURL: baseURL, client: client, limiter: limiter}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Wire types for the messages API.

type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *wireImageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string      `json:"tool_use_id,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
	Content   []wireBlock `json:"content,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []wireMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature,omitempty"`
}

type wireResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      Usage       `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat performs one non-streaming messages call.
func (a *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	wr := wireRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    toWireMessages(req.Messages),
		Tools:       req.Tools,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Include status and body text so the overflow resolver can
		// classify the failure (429, overloaded, prompt too long, ...).
		return nil, fmt.Errorf("model endpoint status %d: %s", resp.StatusCode, truncateErr(string(data)))
	}

	var wresp wireResponse
	if err := json.Unmarshal(data, &wresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wresp.Error != nil {
		return nil, fmt.Errorf("model error %s: %s", wresp.Error.Type, wresp.Error.Message)
	}

	msg := session.Message{
		Role:       session.RoleAssistant,
		Content:    fromWireBlocks(wresp.Content),
		StopReason: wresp.StopReason,
		Timestamp:  time.Now().UnixMilli(),
	}
	return &ChatResponse{Message: msg, StopReason: wresp.StopReason, Usage: wresp.Usage}, nil
}

// toWireMessages maps session roles to the API's two-role scheme: tool
// messages become user messages carrying tool_result blocks, system records
// become plain user text.
func toWireMessages(msgs []session.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == session.RoleAssistant {
			role = "assistant"
		}
		out = append(out, wireMessage{Role: role, Content: toWireBlocks(m.Content)})
	}
	return out
}

func toWireBlocks(blocks []session.Block) []wireBlock {
	out := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		wb := wireBlock{Type: b.Type}
		switch b.Type {
		case session.BlockText:
			wb.Text = b.Text
		case session.BlockImage:
			wb.Source = &wireImageSource{Type: "base64", MediaType: b.MimeType, Data: b.Data}
		case session.BlockToolUse:
			wb.ID = b.ID
			wb.Name = b.Name
			wb.Input = b.Input
			if len(wb.Input) == 0 {
				wb.Input = json.RawMessage("{}")
			}
		case session.BlockToolResult:
			wb.ToolUseID = b.ToolUseID
			wb.IsError = b.IsError
			wb.Content = toWireBlocks(b.Content)
		default:
			continue
		}
		out = append(out, wb)
	}
	return out
}

func fromWireBlocks(blocks []wireBlock) []session.Block {
	out := make([]session.Block, 0, len(blocks))
	for _, wb := range blocks {
		switch wb.Type {
		case "text":
			out = append(out, session.TextBlock(wb.Text))
		case "tool_use":
			out = append(out, session.Block{
				Type:  session.BlockToolUse,
				ID:    wb.ID,
				Name:  wb.Name,
				Input: wb.Input,
			})
		case "image":
			if wb.Source != nil {
				out = append(out, session.ImageBlock(wb.Source.Data, wb.Source.MediaType))
			}
		}
	}
	return out
}

func truncateErr(s string) string {
	const max = 2000
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
