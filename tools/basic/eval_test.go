package basic

import (
	"math"
	"strings"
	"testing"
)

func TestEvalExpression(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1+1", 2},
		{"7-10", -3},
		{"2*3", 6},
		{"10/4", 2.5},
		{"10%3", 1},
		{"2^10", 1024},
		{"2^3^2", 512}, // right associative
		{"-5+3", -2},
		{"--4", 4},
		{"(2+3)*4", 20},
		{"3 + 4 * 2", 11},
		{"(1+2)*(3+4)", 21},
		{"sqrt(16)", 4},
		{"sin(0)", 0},
		{"cos(0)", 1},
		{"tan(0)", 0},
		{"log(1)", 0},
		{"2^-1", 0.5},
		{"0.1+0.2", 0.30000000000000004},
		{"sqrt(2)^2", 2.0000000000000004},
	}
	for _, tt := range tests {
		got, err := evalExpression(tt.expr)
		if err != nil {
			t.Errorf("evalExpression(%q) error = %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("evalExpression(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalExpressionRadians(t *testing.T) {
	got, err := evalExpression("sin(1.5707963267948966)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-1) > 1e-12 {
		t.Errorf("sin(pi/2) = %v, want 1", got)
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1/0", "除数为零"},
		{"5%0", "除数为零"},
		{"1+", "表达式不完整"},
		{"1++2", "意外的字符"},
		{"(1+2", "缺少 \")\""},
		{"sqrt(-1)", "负数不能开平方"},
		{"log(0)", "对数的参数必须为正数"},
		{"foo(2)", "未知函数"},
		{"1 2", "意外的字符"},
		{"@", "意外的字符"},
		{"", "表达式不完整"},
		{"1.2.3", "无效的数字"},
	}
	for _, tt := range tests {
		_, err := evalExpression(tt.expr)
		if err == nil {
			t.Errorf("evalExpression(%q) expected error", tt.expr)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("evalExpression(%q) error = %q, want containing %q", tt.expr, err, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{2, "2"},
		{-3, "-3"},
		{0, "0"},
		{4000000, "4000000"}, // integers stay bare even above the sci threshold
		{2.5, "2.5"},
		{1.0 / 3.0, "0.3333"},
		{1024.5, "1024.5"},
		{0.00001, "1.0000e-05"},
		{1234567.5, "1.2346e+06"},
		{-0.5, "-0.5"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.v); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
