// Package basic implements the general-purpose tools: calculate,
// getCurrentTime and getWeather. The calculator handles pure arithmetic
// only; financial questions are redirected to the specialised finance
// tools so the model picks the right one on its next step.
package basic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	qanat "github.com/nevindra/qanat"
)

// financialKeywords maps domain keywords to the tool that should handle
// them. First match wins.
var financialKeywords = []struct {
	word string
	tool string
}{
	{"贷款", "calculateAmortization"},
	{"本金", "calculateAmortization"},
	{"利率", "calculateAmortization"},
	{"摊销", "calculateAmortization"},
	{"月供", "calculateAmortization"},
	{"还款", "calculateAmortization"},
	{"IRR", "calculateIRR"},
	{"NPV", "calculateNPV"},
	{"久期", "calculateBondDuration"},
	{"期权", "calculateOptionPrice"},
}

var weekdayNames = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// Tool provides the calculator, clock and weather stub.
type Tool struct {
	now func() time.Time
}

// Option configures a Tool.
type Option func(*Tool)

// WithClock overrides the time source for getCurrentTime.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates the basic tools.
func New(opts ...Option) *Tool {
	t := &Tool{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ qanat.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []qanat.ToolDefinition {
	return []qanat.ToolDefinition{
		{
			Name:        "calculate",
			Description: "【数学计算器】计算基础数学表达式，仅支持纯数学运算。支持：加减乘除、幂(^)、取余(%)、三角函数(sin/cos/tan)、根号(sqrt)、对数(log)。不处理贷款、本金、利率、还款、月供、摊销等金融计算，金融问题请使用专门的金融工具。",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string","description":"数学表达式，例如：1+1、2*3、sin(30)"}},"required":["expression"]}`),
		},
		{
			Name:        "getCurrentTime",
			Description: "获取当前的日期和时间",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "getWeather",
			Description: "查询指定城市的天气情况，需要提供城市名称",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"城市名称，例如：北京"}},"required":["city"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (qanat.ToolResult, error) {
	var params struct {
		Expression string `json:"expression"`
		City       string `json:"city"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return qanat.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}

	switch name {
	case "calculate":
		return t.calculate(params.Expression)
	case "getCurrentTime":
		return t.currentTime()
	case "getWeather":
		return t.weather(params.City)
	default:
		return qanat.ToolResult{Error: "unknown basic tool: " + name}, nil
	}
}

// calculate evaluates a pure arithmetic expression. Expressions carrying
// financial vocabulary are refused with a pointer at the specialised
// tool, so a model that picked the calculator by mistake can recover.
func (t *Tool) calculate(expr string) (qanat.ToolResult, error) {
	if strings.TrimSpace(expr) == "" {
		return qanat.ToolResult{Error: "表达式不能为空，请提供数学表达式，例如：1+1、2*3、sin(30)"}, nil
	}

	upper := strings.ToUpper(expr)
	for _, kw := range financialKeywords {
		if strings.Contains(upper, kw.word) {
			return qanat.ToolResult{
				Error: fmt.Sprintf("这是金融计算问题，不是基础数学计算。请使用专门的 %s 工具。", kw.tool),
			}, nil
		}
	}

	v, err := evalExpression(expr)
	if err != nil {
		return qanat.ToolResult{Error: "计算失败: " + err.Error()}, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return qanat.ToolResult{Error: "计算结果超出范围"}, nil
	}
	return qanat.ToolResult{Content: formatNumber(v)}, nil
}

func (t *Tool) currentTime() (qanat.ToolResult, error) {
	now := t.now()
	return qanat.ToolResult{
		Content: fmt.Sprintf("当前时间: %s %s", now.Format("2006-01-02 15:04:05"), weekdayNames[now.Weekday()]),
	}, nil
}

// weather is a fixed stub. The contract stays so a real provider can be
// swapped in without touching the tool surface.
func (t *Tool) weather(city string) (qanat.ToolResult, error) {
	if strings.TrimSpace(city) == "" {
		return qanat.ToolResult{Error: "请提供城市名称，例如：北京、上海、广州"}, nil
	}
	return qanat.ToolResult{Content: fmt.Sprintf("%s 的天气: 晴转多云，气温 15-25°C，微风", city)}, nil
}
