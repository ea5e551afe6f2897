// Package tools ships the built-in tool set registered at startup.
// External tool servers add their catalogs on top of these.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relayagent/relay/internal/executor"
	"github.com/relayagent/relay/pkg/models"
)

// maxFetchBytes caps web_fetch responses so one page cannot flood the
// model context before the large-result store sees it.
const maxFetchBytes = 256 << 10

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor models.ToolDescriptor
	Handler    executor.Handler
}

// Builtin returns the built-in tool set.
func Builtin(client *http.Client) []Tool {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return []Tool{
		{Descriptor: datetimeDescriptor(), Handler: executor.HandlerFunc(datetimeHandler)},
		{Descriptor: fetchDescriptor(), Handler: fetchHandler(client)},
	}
}

// RegisterBuiltin adds the built-in tools to a registry.
func RegisterBuiltin(reg *executor.Registry, client *http.Client) error {
	for _, tool := range Builtin(client) {
		if err := reg.Register(tool.Descriptor, tool.Handler); err != nil {
			return err
		}
	}
	return nil
}

func datetimeDescriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "util.datetime",
		ServerID:    "util",
		Description: "Get the current date and time, optionally in a named IANA timezone",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Oslo"}
			}
		}`),
	}
}

func datetimeHandler(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &req); err != nil {
			return "", err
		}
	}

	now := time.Now()
	if req.Timezone != "" {
		loc, err := time.LoadLocation(req.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", req.Timezone)
		}
		now = now.In(loc)
	}
	return now.Format(time.RFC1123), nil
}

func fetchDescriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        "web.fetch",
		ServerID:    "web",
		Description: "Fetch the contents of a public web page by URL",
		Capabilities: []string{
			"web_fetch",
		},
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Absolute http(s) URL to fetch"}
			},
			"required": ["url"]
		}`),
	}
}

func fetchHandler(client *http.Client) executor.Handler {
	return executor.HandlerFunc(func(ctx context.Context, args json.RawMessage) (string, error) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return "", err
		}
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			return "", fmt.Errorf("url must be absolute http(s), got %q", req.URL)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("User-Agent", "relay/1.0")

		resp, err := client.Do(httpReq)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("fetch failed with status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return "", err
		}
		return string(body), nil
	})
}
