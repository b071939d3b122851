// Package file implements the filesystem tools: readFile, listDirectory,
// searchFiles and getFileInfo. Every operation resolves its path against
// the allowed directory and refuses anything that escapes it; the guard
// lives here, not in the caller.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	qanat "github.com/nevindra/qanat"
)

// DefaultMaxChars is the readFile preview limit in characters.
const DefaultMaxChars = 5000

// maxSearchableSize bounds content search to small files. Larger files
// only match by name.
const maxSearchableSize = 100_000

var errPathEscape = errors.New("路径超出允许的目录范围")

// Tool provides read-only filesystem access under one allowed directory.
type Tool struct {
	root     string
	maxChars int
	printer  *message.Printer
}

// Option configures a Tool.
type Option func(*Tool)

// WithMaxChars sets the readFile preview limit. Default is 5000.
func WithMaxChars(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxChars = n
		}
	}
}

// New creates the filesystem tools rooted at the allowed directory.
func New(allowedDir string, opts ...Option) *Tool {
	t := &Tool{
		root:     allowedDir,
		maxChars: DefaultMaxChars,
		printer:  message.NewPrinter(language.SimplifiedChinese),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ qanat.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []qanat.ToolDefinition {
	return []qanat.ToolDefinition{
		{
			Name:        "readFile",
			Description: "读取文件内容。参数：文件路径（相对路径）。例如：uploads/document.txt",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"文件路径（相对路径）"}},"required":["path"]}`),
		},
		{
			Name:        "listDirectory",
			Description: "列出目录中的文件和文件夹。参数：目录路径（相对路径），留空表示根目录",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"目录路径（相对路径），留空表示根目录"}}}`),
		},
		{
			Name:        "searchFiles",
			Description: "搜索包含特定内容的文件。参数：搜索关键词、目录路径（可选，留空搜索所有）",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"keyword":{"type":"string","description":"搜索关键词"},"path":{"type":"string","description":"目录路径（可选）"}},"required":["keyword"]}`),
		},
		{
			Name:        "getFileInfo",
			Description: "获取文件的详细信息。参数：文件路径",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"文件路径"}},"required":["path"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (qanat.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Keyword string `json:"keyword"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return qanat.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	resolved, err := t.resolvePath(params.Path)
	if err != nil {
		return qanat.ToolResult{Error: err.Error()}, nil
	}

	switch name {
	case "readFile":
		return t.read(resolved, params.Path)
	case "listDirectory":
		return t.list(resolved, params.Path)
	case "searchFiles":
		return t.search(resolved, params.Keyword, params.Path)
	case "getFileInfo":
		return t.info(resolved, params.Path)
	default:
		return qanat.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

// resolvePath normalises path against the allowed directory and rejects
// any result outside it. Absolute paths are accepted only when they stay
// inside the allowed directory.
func (t *Tool) resolvePath(path string) (string, error) {
	root, err := filepath.Abs(t.root)
	if err != nil {
		return "", fmt.Errorf("无效的文件路径: %s", path)
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errPathEscape
	}
	return resolved, nil
}

func (t *Tool) read(resolved, display string) (qanat.ToolResult, error) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return qanat.ToolResult{Error: "文件不存在: " + display}, nil
		}
		return qanat.ToolResult{Error: "读取文件失败: " + err.Error()}, nil
	}

	content := string(data)
	runes := []rune(content)
	preview := content
	if len(runes) > t.maxChars {
		preview = string(runes[:t.maxChars]) + fmt.Sprintf("\n\n...(文件过长，仅显示前%d字符)", t.maxChars)
	}

	return qanat.ToolResult{
		Content: fmt.Sprintf("✓ 文件: %s\n大小: %d 字符\n\n内容:\n%s", display, len(runes), preview),
	}, nil
}

func (t *Tool) list(resolved, display string) (qanat.ToolResult, error) {
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return qanat.ToolResult{Error: "目录不存在: " + display}, nil
		}
		return qanat.ToolResult{Error: "列出目录失败: " + err.Error()}, nil
	}
	if !info.IsDir() {
		return qanat.ToolResult{Error: "不是目录: " + display}, nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return qanat.ToolResult{Error: "列出目录失败: " + err.Error()}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📁 目录: %s\n\n", displayName(display))

	if len(entries) == 0 {
		b.WriteString("(目录为空)")
		return qanat.ToolResult{Content: b.String()}, nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "📁 %s\n", entry.Name())
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			fmt.Fprintf(&b, "❓ %s (无法访问)\n", entry.Name())
			continue
		}
		fmt.Fprintf(&b, "📄 %s (%d 字节)\n", entry.Name(), fi.Size())
	}

	return qanat.ToolResult{Content: b.String()}, nil
}

func (t *Tool) search(resolved, keyword, display string) (qanat.ToolResult, error) {
	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return qanat.ToolResult{Error: "目录不存在: " + display}, nil
		}
		return qanat.ToolResult{Error: "文件搜索失败: " + err.Error()}, nil
	}

	lower := strings.ToLower(keyword)
	var matched []string
	// Unreadable entries are skipped, never fatal.
	_ = filepath.WalkDir(resolved, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.Contains(strings.ToLower(name), lower) {
			matched = append(matched, "📄 "+name)
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() >= maxSearchableSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if strings.Contains(strings.ToLower(string(data)), lower) {
			matched = append(matched, "📄 "+name+" (内容匹配)")
		}
		return nil
	})

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 搜索结果: 关键词='%s', 目录=%s\n\n", keyword, displayName(display))
	if len(matched) == 0 {
		b.WriteString("未找到匹配的文件")
		return qanat.ToolResult{Content: b.String()}, nil
	}
	for _, m := range matched {
		b.WriteString(m)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n共找到 %d 个匹配文件", len(matched))

	return qanat.ToolResult{Content: b.String()}, nil
}

func (t *Tool) info(resolved, display string) (qanat.ToolResult, error) {
	fi, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return qanat.ToolResult{Error: "文件不存在: " + display}, nil
		}
		return qanat.ToolResult{Error: "获取文件信息失败: " + err.Error()}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📄 文件信息: %s\n\n", display)
	fmt.Fprintf(&b, "- 文件名: %s\n", fi.Name())
	fmt.Fprintf(&b, "- 绝对路径: %s\n", resolved)
	fmt.Fprintf(&b, "- 大小: %s 字节\n", t.printer.Sprintf("%d", fi.Size()))
	if fi.IsDir() {
		fmt.Fprintf(&b, "- 类型: 目录\n")
	} else {
		fmt.Fprintf(&b, "- 类型: 文件\n")
		ext := strings.TrimPrefix(filepath.Ext(fi.Name()), ".")
		if ext == "" {
			ext = "无"
		}
		fmt.Fprintf(&b, "- 扩展名: .%s\n", ext)
	}

	return qanat.ToolResult{Content: b.String()}, nil
}

func displayName(path string) string {
	if path == "" || path == "." {
		return "根目录"
	}
	return path
}
