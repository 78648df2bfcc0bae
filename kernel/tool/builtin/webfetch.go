package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Terryzhang-jp/curise-agent/kernel/llm"
	"github.com/Terryzhang-jp/curise-agent/kernel/tool"
	"github.com/Terryzhang-jp/curise-agent/kernel/toolctx"
)

const (
	webFetchTimeout   = 15 * time.Second
	webFetchBodyLimit = 100 << 10
)

// WebFetch retrieves a URL and returns up to 100 KiB of its body.
// Transport failures come back as transient faults so the registry
// retries them.
func WebFetch() tool.Def {
	client := &http.Client{Timeout: webFetchTimeout}
	return tool.Def{
		Name:        "web_fetch",
		Description: "Fetch the content of a web page by URL.",
		Parameters: map[string]llm.Param{
			"url": {Type: llm.TypeString, Description: "Absolute http(s) URL to fetch"},
		},
		Group: "web",
		Handler: func(ctx context.Context, tc *toolctx.Context, args map[string]any) (string, error) {
			rawURL, _ := args["url"].(string)
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return "", tool.Faultf("ValueError", "url must start with http:// or https://")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return "", tool.Faultf("ValueError", "invalid url: %v", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				// url.Error implements net.Error; classification in the
				// registry maps it to a transient kind.
				return "", err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				return "", tool.Faultf("HTTPError", "unexpected status %d for %s", resp.StatusCode, rawURL)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchBodyLimit))
			if err != nil {
				return "", tool.IO(fmt.Errorf("read body: %w", err))
			}
			text := string(body)
			if len(body) == webFetchBodyLimit {
				text += "\n... (truncated)"
			}
			return text, nil
		},
	}
}
