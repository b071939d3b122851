package qanat

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Strategy selects how the router picks a model for a request.
type Strategy string

const (
	// StrategyPercentage routes a configured share of requests to the
	// remote model, the rest to the local one.
	StrategyPercentage Strategy = "PERCENTAGE"
	// StrategyBusinessType classifies the message and routes through the
	// configured type→model map.
	StrategyBusinessType Strategy = "BUSINESS_TYPE"
)

// BusinessType classifies a request for BUSINESS_TYPE routing.
type BusinessType string

const (
	BusinessComplexQuery  BusinessType = "COMPLEX_QUERY"
	BusinessLongContext   BusinessType = "LONG_CONTEXT"
	BusinessHighPrecision BusinessType = "HIGH_PRECISION"
	BusinessSimpleQA      BusinessType = "SIMPLE_QA"
	BusinessToolCalling   BusinessType = "TOOL_CALLING"
	BusinessGeneralChat   BusinessType = "GENERAL_CHAT"
)

// Default keyword lists for business-type detection. These reproduce the
// stock policy; deployments override them through configuration.
var (
	DefaultToolKeywords = []string{
		"计算", "查询", "天气", "时间", "IRR", "NPV", "债券", "期权", "摊销",
	}
	DefaultComplexKeywords = []string{
		"分析", "比较", "总结", "推理", "判断", "评估", "建议", "方案",
	}
)

// DefaultLongContextRunes is the rune count above which a message
// classifies as LONG_CONTEXT.
const DefaultLongContextRunes = 200

// DefaultPercentageRemote is the stock remote share for PERCENTAGE routing.
const DefaultPercentageRemote = 30

// RouterConfig is the immutable routing policy. Built once at init;
// Route never mutates it.
type RouterConfig struct {
	Strategy         Strategy
	PercentageRemote int                     // remote share in [0,100] for PERCENTAGE
	TypeModels       map[BusinessType]string // business type → registered model id
	ToolKeywords     []string
	ComplexKeywords  []string
	LongContextRunes int
}

// DefaultRouterConfig returns the stock policy: PERCENTAGE at 30% remote,
// and a type map sending COMPLEX_QUERY, LONG_CONTEXT, and HIGH_PRECISION
// to remoteID and everything else to localID.
func DefaultRouterConfig(localID, remoteID string) RouterConfig {
	return RouterConfig{
		Strategy:         StrategyPercentage,
		PercentageRemote: DefaultPercentageRemote,
		TypeModels: map[BusinessType]string{
			BusinessComplexQuery:  remoteID,
			BusinessLongContext:   remoteID,
			BusinessHighPrecision: remoteID,
			BusinessSimpleQA:      localID,
			BusinessToolCalling:   localID,
			BusinessGeneralChat:   localID,
		},
		ToolKeywords:     DefaultToolKeywords,
		ComplexKeywords:  DefaultComplexKeywords,
		LongContextRunes: DefaultLongContextRunes,
	}
}

// ModelHandle pairs a registered provider with its identity and tag.
type ModelHandle struct {
	ID       string
	Provider Provider
	Tag      ProviderTag
}

// RoutingDecision explains one routing outcome. Produced per request,
// never persisted.
type RoutingDecision struct {
	ModelID      string       `json:"modelId"`
	Tag          ProviderTag  `json:"tag"`
	BusinessType BusinessType `json:"businessType"`
	Reason       string       `json:"reason"`
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterRand injects the random source for PERCENTAGE routing.
// intn must return a uniform value in [0,n). Default is math/rand/v2.
func WithRouterRand(intn func(n int) int) RouterOption {
	return func(r *Router) { r.intn = intn }
}

// WithRouterLogger sets a structured logger. Default is no output.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// Router selects one chat model per request from the registered models
// and the configured policy. Registration happens at init; afterwards a
// Router is read-only and safe for concurrent use.
//
// Routing never fails a request: a missing or unregistered model always
// falls back to the local model and the substitution is reported in the
// decision's Reason.
type Router struct {
	cfg    RouterConfig
	models map[string]ModelHandle
	local  ModelHandle // first TagLocal registration; the universal fallback
	remote ModelHandle // first TagRemote registration
	intn   func(n int) int
	logger *slog.Logger
}

// NewRouter creates a Router with the given policy.
func NewRouter(cfg RouterConfig, opts ...RouterOption) *Router {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPercentage
	}
	if cfg.LongContextRunes <= 0 {
		cfg.LongContextRunes = DefaultLongContextRunes
	}
	r := &Router{
		cfg:    cfg,
		models: make(map[string]ModelHandle),
		intn:   rand.IntN,
		logger: nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a model under id. The first TagLocal model becomes the
// fallback for every unresolvable route; the first TagRemote model is
// the remote side of PERCENTAGE routing.
func (r *Router) Register(id string, p Provider, tag ProviderTag) {
	h := ModelHandle{ID: id, Provider: p, Tag: tag}
	r.models[id] = h
	if tag == TagLocal && r.local.Provider == nil {
		r.local = h
	}
	if tag == TagRemote && r.remote.Provider == nil {
		r.remote = h
	}
}

// Local returns the fallback local model handle.
func (r *Router) Local() ModelHandle { return r.local }

// Route picks a model for message. It is a pure function of the
// immutable policy, the registry, and the message (plus the random draw
// under PERCENTAGE).
func (r *Router) Route(message string) (ModelHandle, RoutingDecision) {
	bt := r.DetectBusinessType(message)

	var h ModelHandle
	var reason string
	switch r.cfg.Strategy {
	case StrategyPercentage:
		h, reason = r.routeByPercentage()
	case StrategyBusinessType:
		h, reason = r.routeByBusinessType(bt)
	default:
		h, reason = r.local, fmt.Sprintf("unknown strategy %q, using local model", r.cfg.Strategy)
	}

	d := RoutingDecision{ModelID: h.ID, Tag: h.Tag, BusinessType: bt, Reason: reason}
	r.logger.Debug("routed request",
		"model", d.ModelID, "tag", d.Tag, "business_type", d.BusinessType, "reason", d.Reason)
	return h, d
}

func (r *Router) routeByPercentage() (ModelHandle, string) {
	if r.remote.Provider == nil {
		return r.local, "remote model not registered, using local model"
	}
	draw := r.intn(100)
	if draw < r.cfg.PercentageRemote {
		return r.remote, fmt.Sprintf("percentage draw %d < %d%%", draw, r.cfg.PercentageRemote)
	}
	return r.local, fmt.Sprintf("percentage draw %d >= %d%%", draw, r.cfg.PercentageRemote)
}

func (r *Router) routeByBusinessType(bt BusinessType) (ModelHandle, string) {
	id, ok := r.cfg.TypeModels[bt]
	if !ok {
		return r.local, fmt.Sprintf("business type %s has no mapping, using local model", bt)
	}
	h, ok := r.models[id]
	if !ok {
		return r.local, fmt.Sprintf("model %q not registered, substituting local model", id)
	}
	return h, fmt.Sprintf("business type %s mapped to %s", bt, id)
}

// DetectBusinessType classifies message against the configured keyword
// lists. Deterministic, first match wins: tool keywords, then complexity
// keywords, then the long-context rune threshold, then blank input.
// Text is NFKC-normalised before matching so full-width variants hit the
// same keywords; length is counted in runes.
func (r *Router) DetectBusinessType(message string) BusinessType {
	text := norm.NFKC.String(message)

	for _, kw := range r.cfg.ToolKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return BusinessToolCalling
		}
	}
	for _, kw := range r.cfg.ComplexKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return BusinessComplexQuery
		}
	}
	if len([]rune(text)) > r.cfg.LongContextRunes {
		return BusinessLongContext
	}
	if strings.TrimSpace(text) == "" {
		return BusinessGeneralChat
	}
	return BusinessSimpleQA
}
