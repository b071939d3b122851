// Package web provides a tool that fetches URLs and extracts readable
// page text for the agent to quote from.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/nevindra/qanat"
)

// maxContentRunes caps the extracted text handed back to the model.
const maxContentRunes = 8000

const maxBodyBytes = 1 << 20

// Tool fetches web pages and extracts their readable content.
type Tool struct {
	client *http.Client
}

// New creates the web tool with a 15-second request timeout.
func New() *Tool {
	return &Tool{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ qanat.Tool = (*Tool)(nil)

// Definitions implements qanat.Tool.
func (t *Tool) Definitions() []qanat.ToolDefinition {
	return []qanat.ToolDefinition{{
		Name:        "fetchWebPage",
		Description: "抓取网页并提取正文内容。适用于需要阅读网页、在线文章或文档的问题。",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {
					"type": "string",
					"description": "要抓取的网页地址"
				}
			},
			"required": ["url"]
		}`),
	}}
}

// Execute implements qanat.Tool.
func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (qanat.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return qanat.ToolResult{}, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	if strings.TrimSpace(params.URL) == "" {
		return qanat.ToolResult{Error: "请提供要抓取的网页地址"}, nil
	}

	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return qanat.ToolResult{Error: "网页抓取失败: " + err.Error()}, nil
	}

	if runes := []rune(content); len(runes) > maxContentRunes {
		content = string(runes[:maxContentRunes]) + fmt.Sprintf("\n\n...(内容过长，仅显示前%d字符)", maxContentRunes)
	}

	return qanat.ToolResult{Content: content}, nil
}

// Fetch downloads a URL and extracts its readable text.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; QanatBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	return stripHTML(html), nil
}

// stripHTML is the fallback for pages readability cannot parse. It drops
// tags along with script and style bodies, then collapses whitespace.
func stripHTML(src string) string {
	var out strings.Builder
	out.Grow(len(src))

	var tag strings.Builder
	inTag := false
	skip := ""
	for _, r := range src {
		switch {
		case inTag:
			if r != '>' {
				tag.WriteRune(r)
				continue
			}
			inTag = false
			name := tagName(tag.String())
			switch name {
			case "script", "style":
				skip = name
			case "/script", "/style":
				skip = ""
			}
			if isBlockTag(name) {
				out.WriteByte('\n')
			}
		case r == '<':
			inTag = true
			tag.Reset()
		case skip != "":
		default:
			out.WriteRune(r)
		}
	}

	return collapseBlankLines(decodeEntities(out.String()))
}

// tagName extracts the lowercased element name, keeping a leading slash
// for closing tags.
func tagName(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, " \t\r\n"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(strings.TrimSuffix(tag, "/"))
}

func isBlockTag(name string) bool {
	switch strings.TrimPrefix(name, "/") {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func collapseBlankLines(text string) string {
	var b strings.Builder
	blanks := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blanks++
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blanks > 1 {
				b.WriteByte('\n')
			}
		}
		blanks = 0
		b.WriteString(line)
	}
	return b.String()
}
