package basic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expression grammar for the calculate tool:
//
//	expr  = term { ("+"|"-") term }
//	term  = unary { ("*"|"/"|"%") unary }
//	unary = "-" unary | power
//	power = atom [ "^" unary ]
//	atom  = number | "(" expr ")" | func "(" expr ")"
//
// Functions: sin, cos, tan, sqrt, log (natural logarithm). Trigonometric
// arguments are radians. "^" is right associative.

type parser struct {
	input []rune
	pos   int
}

func evalExpression(s string) (float64, error) {
	p := &parser{input: []rune(s)}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("意外的字符 %q", string(p.input[p.pos]))
	}
	return v, nil
}

func (p *parser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return v, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			r, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return v, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errors.New("除数为零")
			}
			v /= r
		case '%':
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errors.New("除数为零")
			}
			v = math.Mod(v, r)
		default:
			return v, nil
		}
	}
}

func (p *parser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePower()
}

func (p *parser) parsePower() (float64, error) {
	v, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(v, exp), nil
	}
	return v, nil
}

func (p *parser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, errors.New("表达式不完整")
	}
	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if err := p.expect(')'); err != nil {
			return 0, err
		}
		return v, nil
	case isDigit(c) || c == '.':
		return p.parseNumber()
	case isAlpha(c):
		return p.parseCall()
	default:
		return 0, fmt.Errorf("意外的字符 %q", string(c))
	}
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	text := string(p.input[start:p.pos])
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("无效的数字 %q", text)
	}
	return v, nil
}

func (p *parser) parseCall() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && isAlpha(p.input[p.pos]) {
		p.pos++
	}
	name := string(p.input[start:p.pos])
	if err := p.expect('('); err != nil {
		return 0, err
	}
	arg, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if err := p.expect(')'); err != nil {
		return 0, err
	}
	switch name {
	case "sin":
		return math.Sin(arg), nil
	case "cos":
		return math.Cos(arg), nil
	case "tan":
		return math.Tan(arg), nil
	case "sqrt":
		if arg < 0 {
			return 0, errors.New("负数不能开平方")
		}
		return math.Sqrt(arg), nil
	case "log":
		if arg <= 0 {
			return 0, errors.New("对数的参数必须为正数")
		}
		return math.Log(arg), nil
	default:
		return 0, fmt.Errorf("未知函数 %q", name)
	}
}

func (p *parser) expect(c rune) error {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return fmt.Errorf("缺少 %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
func isAlpha(c rune) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

// formatNumber renders a result the way the calculator presents it:
// integers bare, very small or very large magnitudes in scientific form,
// everything else as a fixed 4-decimal with trailing zeros trimmed.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	if a := math.Abs(v); a < 1e-4 || a > 1e6 {
		return fmt.Sprintf("%.4e", v)
	}
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
