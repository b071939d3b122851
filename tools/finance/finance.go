// Package finance provides tools for loan, investment, bond, and option
// calculations. Each tool validates its inputs and returns a formatted
// report in Chinese, with amounts grouped by thousands.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nevindra/qanat"
)

// Bond tools assume semi-annual coupons.
const couponFrequency = 2

// Tool exposes the financial calculators.
type Tool struct {
	printer *message.Printer
}

// New creates the finance tool set.
func New() *Tool {
	return &Tool{printer: message.NewPrinter(language.SimplifiedChinese)}
}

var _ qanat.Tool = (*Tool)(nil)

// Definitions implements qanat.Tool.
func (t *Tool) Definitions() []qanat.ToolDefinition {
	return []qanat.ToolDefinition{
		{
			Name:        "calculateAmortization",
			Description: "【贷款计算器】计算房贷、车贷、个人贷款的每月还款额（等额本息）。适用于贷款、本金、利率、期限、还款、月供、摊销等问题。返回每月还款额、还款总额、总利息。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"principal": {
						"type": "number",
						"description": "贷款本金（元）"
					},
					"annualRate": {
						"type": "number",
						"description": "年利率，小数形式，如 0.05 表示 5%"
					},
					"termYears": {
						"type": "integer",
						"description": "贷款期限（年）"
					}
				},
				"required": ["principal", "annualRate", "termYears"]
			}`),
		},
		{
			Name:        "calculateIRR",
			Description: "计算投资内部收益率IRR。参数是逗号分隔的现金流，第一个为初始投资（负数），后面是各期回报。例如：-10000,2500,2500,2500,2500,2500",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"cashflows": {
						"type": "string",
						"description": "逗号分隔的现金流序列"
					}
				},
				"required": ["cashflows"]
			}`),
		},
		{
			Name:        "calculateNPV",
			Description: "计算投资净现值NPV。参数是逗号分隔的现金流和折现率。例如：cashflows=-10000,3000,4000,5000，rate=0.05",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"cashflows": {
						"type": "string",
						"description": "逗号分隔的现金流序列"
					},
					"rate": {
						"type": "number",
						"description": "折现率，小数形式"
					}
				},
				"required": ["cashflows", "rate"]
			}`),
		},
		{
			Name:        "calculateBondPrice",
			Description: "计算债券价格。参数：面值、票面利率（如0.05表示5%）、到期收益率YTM、期限年数。默认每年付息2次。",
			Parameters:  bondSchema,
		},
		{
			Name:        "calculateBondDuration",
			Description: "计算债券的 Macaulay 久期、修正久期和凸度。参数：面值、票面利率、到期收益率YTM、期限年数。",
			Parameters:  bondSchema,
		},
		{
			Name:        "calculateOptionPrice",
			Description: "计算期权价格(Black-Scholes模型)及希腊字母。参数：标的价格、行权价、期限年数、无风险利率、波动率，可选期权类型（call或put，默认call）。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"spotPrice": {
						"type": "number",
						"description": "标的资产当前价格"
					},
					"strikePrice": {
						"type": "number",
						"description": "行权价"
					},
					"timeToMaturity": {
						"type": "number",
						"description": "到期期限（年）"
					},
					"riskFreeRate": {
						"type": "number",
						"description": "无风险利率，小数形式"
					},
					"volatility": {
						"type": "number",
						"description": "年化波动率，小数形式"
					},
					"optionType": {
						"type": "string",
						"enum": ["call", "put"],
						"description": "期权类型，默认 call"
					}
				},
				"required": ["spotPrice", "strikePrice", "timeToMaturity", "riskFreeRate", "volatility"]
			}`),
		},
	}
}

var bondSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"faceValue": {
			"type": "number",
			"description": "债券面值（元）"
		},
		"couponRate": {
			"type": "number",
			"description": "票面利率，小数形式"
		},
		"yield": {
			"type": "number",
			"description": "到期收益率，小数形式"
		},
		"years": {
			"type": "number",
			"description": "到期期限（年）"
		}
	},
	"required": ["faceValue", "couponRate", "yield", "years"]
}`)

// Execute implements qanat.Tool.
func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (qanat.ToolResult, error) {
	var params struct {
		Principal  float64 `json:"principal"`
		AnnualRate float64 `json:"annualRate"`
		TermYears  float64 `json:"termYears"`

		Cashflows string  `json:"cashflows"`
		Rate      float64 `json:"rate"`

		FaceValue  float64 `json:"faceValue"`
		CouponRate float64 `json:"couponRate"`
		Yield      float64 `json:"yield"`
		Years      float64 `json:"years"`

		SpotPrice      float64 `json:"spotPrice"`
		StrikePrice    float64 `json:"strikePrice"`
		TimeToMaturity float64 `json:"timeToMaturity"`
		RiskFreeRate   float64 `json:"riskFreeRate"`
		Volatility     float64 `json:"volatility"`
		OptionType     string  `json:"optionType"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return qanat.ToolResult{}, fmt.Errorf("unmarshal args: %w", err)
		}
	}

	switch name {
	case "calculateAmortization":
		return t.amortization(params.Principal, params.AnnualRate, int(params.TermYears)), nil
	case "calculateIRR":
		return t.internalRate(params.Cashflows), nil
	case "calculateNPV":
		return t.netPresentValue(params.Cashflows, params.Rate), nil
	case "calculateBondPrice":
		return t.bondPriceReport(params.FaceValue, params.CouponRate, params.Yield, params.Years), nil
	case "calculateBondDuration":
		return t.bondDurationReport(params.FaceValue, params.CouponRate, params.Yield, params.Years), nil
	case "calculateOptionPrice":
		return t.optionReport(params.SpotPrice, params.StrikePrice, params.TimeToMaturity, params.RiskFreeRate, params.Volatility, params.OptionType), nil
	default:
		return qanat.ToolResult{Error: "unknown finance tool: " + name}, nil
	}
}

func (t *Tool) amortization(principal, annualRate float64, termYears int) qanat.ToolResult {
	if principal <= 0 {
		return qanat.ToolResult{Error: "本金必须大于0"}
	}
	if annualRate <= 0 || annualRate > 1 {
		return qanat.ToolResult{Error: "利率必须在 0%-100% 之间"}
	}
	if termYears < 1 || termYears > 50 {
		return qanat.ToolResult{Error: "期限必须在 1-50 年之间"}
	}

	monthlyRate := annualRate / 12
	periods := termYears * 12
	payment := monthlyPayment(principal, monthlyRate, periods)
	total := payment * float64(periods)
	interest := total - principal

	var b strings.Builder
	b.WriteString("等额本息还款计算\n\n")
	fmt.Fprintf(&b, "- 贷款本金: %s 元\n", t.printer.Sprintf("%.2f", principal))
	fmt.Fprintf(&b, "- 年利率: %.2f%%\n", annualRate*100)
	fmt.Fprintf(&b, "- 期限: %d 年（共 %d 期）\n", termYears, periods)
	fmt.Fprintf(&b, "- 每月还款: %s 元\n", t.printer.Sprintf("%.2f", payment))
	fmt.Fprintf(&b, "- 还款总额: %s 元\n", t.printer.Sprintf("%.2f", total))
	fmt.Fprintf(&b, "- 总利息: %s 元\n", t.printer.Sprintf("%.2f", interest))
	return qanat.ToolResult{Content: b.String()}
}

func (t *Tool) internalRate(csv string) qanat.ToolResult {
	flows, err := parseCashflows(csv)
	if err != nil {
		return qanat.ToolResult{Error: err.Error()}
	}
	if len(flows) < 2 {
		return qanat.ToolResult{Error: "现金流至少需要2个数据点"}
	}

	rate := irr(flows)

	var b strings.Builder
	b.WriteString("内部收益率计算\n\n")
	fmt.Fprintf(&b, "- 现金流: %s\n", formatCashflows(flows))
	fmt.Fprintf(&b, "- IRR: %.2f%%\n", rate*100)
	return qanat.ToolResult{Content: b.String()}
}

func (t *Tool) netPresentValue(csv string, rate float64) qanat.ToolResult {
	flows, err := parseCashflows(csv)
	if err != nil {
		return qanat.ToolResult{Error: err.Error()}
	}
	if len(flows) < 2 {
		return qanat.ToolResult{Error: "现金流至少需要2个数据点"}
	}
	if rate <= -1 {
		return qanat.ToolResult{Error: "折现率必须大于 -100%"}
	}

	value := npv(flows, rate)

	var b strings.Builder
	b.WriteString("净现值计算\n\n")
	fmt.Fprintf(&b, "- 现金流: %s\n", formatCashflows(flows))
	fmt.Fprintf(&b, "- 折现率: %.2f%%\n", rate*100)
	fmt.Fprintf(&b, "- NPV: %s 元\n", t.printer.Sprintf("%.2f", value))
	return qanat.ToolResult{Content: b.String()}
}

func (t *Tool) bondPriceReport(faceValue, couponRate, yield, years float64) qanat.ToolResult {
	if res, ok := validateBond(faceValue, couponRate, yield, years); !ok {
		return res
	}

	price := bondPrice(faceValue, couponRate, yield, years, couponFrequency)

	status := "平价交易（价格 = 面值）"
	if price > faceValue {
		status = "溢价交易（价格 > 面值）"
	} else if price < faceValue {
		status = "折价交易（价格 < 面值）"
	}

	var b strings.Builder
	b.WriteString("债券价格计算\n\n")
	fmt.Fprintf(&b, "- 面值: %s 元\n", t.printer.Sprintf("%.2f", faceValue))
	fmt.Fprintf(&b, "- 票面利率: %.2f%%\n", couponRate*100)
	fmt.Fprintf(&b, "- 到期收益率: %.2f%%\n", yield*100)
	fmt.Fprintf(&b, "- 期限: %.1f 年（每年付息 %d 次）\n", years, couponFrequency)
	fmt.Fprintf(&b, "- 债券价格: %s 元（面值的 %.2f%%）\n", t.printer.Sprintf("%.2f", price), price/faceValue*100)
	fmt.Fprintf(&b, "- 状态: %s\n", status)
	return qanat.ToolResult{Content: b.String()}
}

func (t *Tool) bondDurationReport(faceValue, couponRate, yield, years float64) qanat.ToolResult {
	if res, ok := validateBond(faceValue, couponRate, yield, years); !ok {
		return res
	}

	price := bondPrice(faceValue, couponRate, yield, years, couponFrequency)
	macaulay := macaulayDuration(price, faceValue, couponRate, yield, years, couponFrequency)
	modified := modifiedDuration(macaulay, yield, couponFrequency)
	cx := convexity(price, faceValue, couponRate, yield, years, couponFrequency)

	var b strings.Builder
	b.WriteString("债券久期分析\n\n")
	fmt.Fprintf(&b, "- 面值: %s 元\n", t.printer.Sprintf("%.2f", faceValue))
	fmt.Fprintf(&b, "- 票面利率: %.2f%%\n", couponRate*100)
	fmt.Fprintf(&b, "- 到期收益率: %.2f%%\n", yield*100)
	fmt.Fprintf(&b, "- 期限: %.1f 年（每年付息 %d 次）\n", years, couponFrequency)
	fmt.Fprintf(&b, "- 债券价格: %s 元\n", t.printer.Sprintf("%.2f", price))
	fmt.Fprintf(&b, "- Macaulay 久期: %.2f 年\n", macaulay)
	fmt.Fprintf(&b, "- 修正久期: %.4f\n", modified)
	fmt.Fprintf(&b, "- 凸度: %.4f\n", cx)
	return qanat.ToolResult{Content: b.String()}
}

func validateBond(faceValue, couponRate, yield, years float64) (qanat.ToolResult, bool) {
	if faceValue <= 0 {
		return qanat.ToolResult{Error: "面值必须大于0"}, false
	}
	if couponRate < 0 || couponRate > 1 {
		return qanat.ToolResult{Error: "票面利率必须在 0%-100% 之间"}, false
	}
	if yield < 0 || yield > 1 {
		return qanat.ToolResult{Error: "到期收益率必须在 0%-100% 之间"}, false
	}
	if years < 1 || years > 100 {
		return qanat.ToolResult{Error: "期限必须在 1-100 年之间"}, false
	}
	return qanat.ToolResult{}, true
}

func (t *Tool) optionReport(spot, strike, maturity, riskFree, vol float64, optionType string) qanat.ToolResult {
	if spot <= 0 || strike <= 0 {
		return qanat.ToolResult{Error: "标的价格和行权价必须大于0"}
	}
	if maturity <= 0 || maturity > 50 {
		return qanat.ToolResult{Error: "期限必须在 0-50 年之间"}
	}
	if riskFree < 0 || riskFree > 1 {
		return qanat.ToolResult{Error: "无风险利率必须在 0%-100% 之间"}
	}
	if vol <= 0 || vol > 5 {
		return qanat.ToolResult{Error: "波动率必须在 0%-500% 之间"}
	}

	call := optionType != "put"
	typeName := "看涨期权"
	if !call {
		typeName = "看跌期权"
	}

	price := blackScholes(spot, strike, maturity, riskFree, vol, call)

	var b strings.Builder
	fmt.Fprintf(&b, "Black-Scholes 期权定价（%s）\n\n", typeName)
	fmt.Fprintf(&b, "- 标的价格: %s 元\n", t.printer.Sprintf("%.2f", spot))
	fmt.Fprintf(&b, "- 行权价: %s 元\n", t.printer.Sprintf("%.2f", strike))
	fmt.Fprintf(&b, "- 期限: %.2f 年\n", maturity)
	fmt.Fprintf(&b, "- 无风险利率: %.2f%%\n", riskFree*100)
	fmt.Fprintf(&b, "- 波动率: %.2f%%\n", vol*100)
	fmt.Fprintf(&b, "- 期权价格: %.4f 元\n", price)
	fmt.Fprintf(&b, "- Delta: %.4f\n", optionDelta(spot, strike, maturity, riskFree, vol, call))
	fmt.Fprintf(&b, "- Gamma: %.4f\n", optionGamma(spot, strike, maturity, riskFree, vol))
	fmt.Fprintf(&b, "- Vega: %.4f\n", optionVega(spot, strike, maturity, riskFree, vol))
	fmt.Fprintf(&b, "- Theta: %.6f\n", optionTheta(spot, strike, maturity, riskFree, vol, call))
	fmt.Fprintf(&b, "- Rho: %.4f\n", optionRho(spot, strike, maturity, riskFree, vol, call))
	return qanat.ToolResult{Content: b.String()}
}

func parseCashflows(csv string) ([]float64, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, fmt.Errorf("现金流格式错误，请提供逗号分隔的数字，例如：-1000,200,200,200")
	}
	parts := strings.Split(csv, ",")
	flows := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("现金流格式错误，请提供逗号分隔的数字，例如：-1000,200,200,200")
		}
		flows = append(flows, v)
	}
	return flows, nil
}

func formatCashflows(flows []float64) string {
	parts := make([]string, len(flows))
	for i, f := range flows {
		parts[i] = strconv.FormatFloat(f, 'f', 2, 64)
	}
	return strings.Join(parts, ", ")
}
