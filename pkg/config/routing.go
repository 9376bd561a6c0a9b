package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Handler kinds a route can be served by.
const (
	HandlerKnowledge      = "knowledge"
	HandlerMockData       = "mock_data"
	HandlerConversational = "conversational"
)

// RoutingConfig holds the routing rules configuration.
type RoutingConfig struct {
	Routes                        map[string]RouteSpec `yaml:"routes"`
	DefaultRoute                  string               `yaml:"default_route"`
	Default                       RouteTarget          `yaml:"default"`
	Retry                         RetryConfig          `yaml:"retry,omitempty"`
	Fallback                      FallbackConfig       `yaml:"fallback,omitempty"`
	ClassifierAdapter             string               `yaml:"classifier_adapter,omitempty"`
	ClassifierModel               string               `yaml:"classifier_model,omitempty"`
	ClassifierConfidenceThreshold float64              `yaml:"classifier_confidence_threshold,omitempty"`
	EnableLLMTieBreaker           *bool                `yaml:"enable_llm_tie_breaker,omitempty"`
}

// RouteSpec defines one route: how to recognise it and which handler serves it.
type RouteSpec struct {
	Description string                 `yaml:"description,omitempty"`
	Triggers    []string               `yaml:"triggers"`
	Handler     string                 `yaml:"handler"`
	Category    string                 `yaml:"category,omitempty"`
	Strategy    string                 `yaml:"strategy,omitempty"`
	Adapter     string                 `yaml:"adapter,omitempty"`
	Model       string                 `yaml:"model,omitempty"`
	Variants    map[string]VariantSpec `yaml:"variants,omitempty"`
}

// VariantSpec overrides parts of a route's handler configuration for an
// experiment arm.
type VariantSpec struct {
	Strategy string `yaml:"strategy,omitempty"`
	Adapter  string `yaml:"adapter,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// FallbackConfig defines adapter/model fallbacks.
type FallbackConfig struct {
	AllowFallback bool                     `yaml:"allow_fallback,omitempty"`
	FallbackChain map[string][]RouteTarget `yaml:"fallback_chain,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyRoutingDefaults(&cfg)
	return &cfg, nil
}

// Target returns the adapter/model a route synthesizes with, falling back to
// the routing default.
func (c *RoutingConfig) Target(route string, variant string) RouteTarget {
	target := c.Default
	spec, ok := c.Routes[route]
	if !ok {
		return target
	}
	if spec.Adapter != "" {
		target.Adapter = spec.Adapter
		target.Model = spec.Model
	}
	if v, ok := spec.Variants[variant]; ok && v.Adapter != "" {
		target.Adapter = v.Adapter
		target.Model = v.Model
	}
	return target
}

// RouteNames returns the configured route labels in sorted order.
func (c *RoutingConfig) RouteNames() []string {
	names := make([]string, 0, len(c.Routes))
	for name := range c.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every route names a known handler and that the
// default route exists.
func (c *RoutingConfig) Validate() error {
	var errs []error
	if len(c.Routes) == 0 {
		errs = append(errs, fmt.Errorf("routing: no routes configured"))
	}
	if _, ok := c.Routes[c.DefaultRoute]; !ok {
		errs = append(errs, fmt.Errorf("routing: default route %q is not configured", c.DefaultRoute))
	}
	for _, name := range c.RouteNames() {
		spec := c.Routes[name]
		switch spec.Handler {
		case HandlerKnowledge, HandlerMockData, HandlerConversational:
		default:
			errs = append(errs, fmt.Errorf("route %q: unknown handler %q", name, spec.Handler))
		}
	}
	if c.ClassifierConfidenceThreshold < 0 || c.ClassifierConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("routing: classifier_confidence_threshold must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Routes: map[string]RouteSpec{
			"product_query": {
				Description: "Product details, specifications, stock, prices and promotions",
				Triggers: []string{
					"product", "price", "how much", "in stock", "stock", "spec", "specs", "recommend",
					"compare", "discount", "promotion", "coupon", "warranty",
					"商品", "价格", "多少钱", "库存", "推荐", "参数", "优惠", "促销",
				},
				Handler:  HandlerKnowledge,
				Category: "product",
				Strategy: "rag",
			},
			"order_query": {
				Description: "Order status, shipping and logistics tracking",
				Triggers: []string{
					"order", "my order", "where is my order", "tracking", "track", "shipped", "shipping",
					"delivery", "logistics", "package", "courier",
					"订单", "物流", "快递", "发货", "到哪了", "配送",
				},
				Handler:  HandlerMockData,
				Strategy: "template",
				Variants: map[string]VariantSpec{
					"llm": {Strategy: "llm"},
				},
			},
			"after_sales": {
				Description: "Returns, refunds, exchanges, repairs and complaints",
				Triggers: []string{
					"return", "refund", "exchange", "repair", "broken", "damaged", "complaint",
					"return policy", "money back", "defective",
					"退货", "退款", "换货", "维修", "售后", "投诉", "质量问题",
				},
				Handler:  HandlerKnowledge,
				Category: "after_sales",
				Strategy: "rag",
				Variants: map[string]VariantSpec{
					"concise": {Strategy: "concise"},
				},
			},
			"chitchat": {
				Description: "Greetings, small talk and anything not covered by other routes",
				Triggers:    []string{"hello", "hi", "hey", "thanks", "thank you", "good morning", "你好", "谢谢", "在吗"},
				Handler:     HandlerConversational,
			},
		},
		DefaultRoute: "chitchat",
		Default: RouteTarget{
			Adapter: "openai",
			Model:   "gpt-4o-mini",
		},
		Fallback: FallbackConfig{
			AllowFallback: true,
			FallbackChain: map[string][]RouteTarget{
				"dashscope/qwen-plus": {{Adapter: "openai", Model: "gpt-4o-mini"}},
			},
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = "chitchat"
	}
	for name, spec := range cfg.Routes {
		if spec.Handler == HandlerKnowledge && spec.Category == "" {
			spec.Category = name
			cfg.Routes[name] = spec
		}
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.ClassifierConfidenceThreshold == 0 {
		cfg.ClassifierConfidenceThreshold = 0.65
	}
	if cfg.EnableLLMTieBreaker == nil {
		enabled := true
		cfg.EnableLLMTieBreaker = &enabled
	}
}
