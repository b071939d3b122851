// Package knowledge implements the searchKnowledge tool: the agent-facing
// entry into the vector knowledge base. The model decides when to call it;
// the tool embeds the query, searches the index, and reports citations to
// the turn recorder so the assistant row can carry them.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	qanat "github.com/nevindra/qanat"
)

// Tool searches the knowledge base through a Retriever.
type Tool struct {
	retriever qanat.Retriever
	topK      int
}

// Option configures a Tool.
type Option func(*Tool)

// WithTopK sets the result count used when the model omits maxResults.
// Default is 5.
func WithTopK(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.topK = n
		}
	}
}

// New creates the searchKnowledge tool over the given retriever.
func New(retriever qanat.Retriever, opts ...Option) *Tool {
	t := &Tool{retriever: retriever, topK: 5}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ qanat.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []qanat.ToolDefinition {
	return []qanat.ToolDefinition{{
		Name:        "searchKnowledge",
		Description: "在知识库中搜索相关文档。使用场景：用户询问文档、知识库中的信息时；需要查找特定主题的文档时；需要引用文档内容来回答问题时。",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"搜索关键词或问题"},"maxResults":{"type":"integer","description":"返回的最大结果数（默认5）"}},"required":["query"]}`),
	}}
}

// Execute runs the search. Backend failures come back as a tool error so
// the model can answer from its own knowledge instead of aborting the turn.
func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (qanat.ToolResult, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"maxResults"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return qanat.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	k := t.topK
	if params.MaxResults > 0 {
		k = params.MaxResults
	}

	segments, err := t.retriever.Retrieve(ctx, params.Query, k)
	if err != nil {
		return qanat.ToolResult{Error: "向量检索失败: " + err.Error()}, nil
	}
	if len(segments) == 0 {
		return qanat.ToolResult{Content: "未在知识库中找到相关文档。"}, nil
	}

	refs := make([]qanat.SourceRef, 0, len(segments))
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		filename := seg.Metadata.Filename
		if filename == "" {
			filename = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[source=%s, score=%.2f]\n%s", filename, seg.Score, seg.Text))
		refs = append(refs, qanat.SourceRef{Filename: filename, Excerpt: seg.Text, Score: seg.Score})
	}
	if rec, ok := qanat.RecorderFrom(ctx); ok {
		rec.AddSources(refs...)
	}

	return qanat.ToolResult{Content: strings.Join(parts, "\n\n---\n\n")}, nil
}
