package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const browserActionTimeout = 30 * time.Second

// BrowserTool drives a headless browser. The browser process starts lazily
// on the first action and is reused across calls until "close".
type BrowserTool struct {
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

func NewBrowserTool() *BrowserTool { return &BrowserTool{} }

func (t *BrowserTool) Name() string { return "browser" }
func (t *BrowserTool) Description() string {
	return "Control a headless browser: navigate, read text, screenshot, click, type"
}
func (t *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "Action to perform",
				"enum":        []string{"navigate", "text", "screenshot", "click", "type", "back", "close"},
			},
			"url": map[string]any{
				"type":        "string",
				"description": "URL for the navigate action",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector for click and type actions",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text for the type action",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()

	if action == "close" {
		t.closeLocked()
		return NewResult("browser closed")
	}

	page, err := t.pageLocked()
	if err != nil {
		return ErrorResult(fmt.Sprintf("start browser: %v", err)).WithError(err)
	}
	page = page.Context(ctx).Timeout(browserActionTimeout)

	switch action {
	case "navigate":
		rawURL, _ := args["url"].(string)
		if rawURL == "" {
			return ErrorResult("url is required for navigate")
		}
		if err := page.Navigate(rawURL); err != nil {
			return ErrorResult(fmt.Sprintf("navigate: %v", err))
		}
		if err := page.WaitLoad(); err != nil {
			return ErrorResult(fmt.Sprintf("wait for load: %v", err))
		}
		info, _ := page.Info()
		title := ""
		if info != nil {
			title = info.Title
		}
		return NewResult(fmt.Sprintf("loaded %s (%s)", rawURL, title))

	case "text":
		body, err := page.Element("body")
		if err != nil {
			return ErrorResult(fmt.Sprintf("no page body: %v", err))
		}
		text, err := body.Text()
		if err != nil {
			return ErrorResult(fmt.Sprintf("read text: %v", err))
		}
		return NewResult(strings.TrimSpace(text))

	case "screenshot":
		data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return ErrorResult(fmt.Sprintf("screenshot: %v", err))
		}
		return NewResult("screenshot attached").WithImage(data, "image/png")

	case "click":
		selector, _ := args["selector"].(string)
		if selector == "" {
			return ErrorResult("selector is required for click")
		}
		el, err := page.Element(selector)
		if err != nil {
			return ErrorResult(fmt.Sprintf("element %s: %v", selector, err))
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return ErrorResult(fmt.Sprintf("click %s: %v", selector, err))
		}
		return NewResult(fmt.Sprintf("clicked %s", selector))

	case "type":
		selector, _ := args["selector"].(string)
		text, _ := args["text"].(string)
		if selector == "" {
			return ErrorResult("selector is required for type")
		}
		el, err := page.Element(selector)
		if err != nil {
			return ErrorResult(fmt.Sprintf("element %s: %v", selector, err))
		}
		if err := el.Input(text); err != nil {
			return ErrorResult(fmt.Sprintf("type into %s: %v", selector, err))
		}
		return NewResult(fmt.Sprintf("typed %d chars into %s", len(text), selector))

	case "back":
		if err := page.NavigateBack(); err != nil {
			return ErrorResult(fmt.Sprintf("back: %v", err))
		}
		return NewResult("navigated back")

	default:
		return ErrorResult(fmt.Sprintf("unknown browser action: %s", action))
	}
}

// pageLocked starts the browser on first use. Caller holds t.mu.
func (t *BrowserTool) pageLocked() (*rod.Page, error) {
	if t.page != nil {
		return t.page, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	t.browser = browser
	t.page = page
	return page, nil
}

// closeLocked shuts the browser down. Caller holds t.mu.
func (t *BrowserTool) closeLocked() {
	if t.browser != nil {
		_ = t.browser.Close()
	}
	t.browser = nil
	t.page = nil
}

// Close releases the browser process; called on gateway shutdown.
func (t *BrowserTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}
