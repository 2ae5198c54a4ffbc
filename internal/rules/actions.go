package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// CustomFunc is a registered callback for custom_function actions.
// A false result or an error counts as a non-execution.
type CustomFunc func(ctx context.Context, data domain.Value, rule *domain.RiskRule, params map[string]any) (bool, error)

// Executor runs triggered rule actions. Each action is isolated from
// the others' failures: a failing action is logged and omitted from the
// executed list, and remaining actions still run. No retries are
// performed; retry policy belongs to the downstream sink.
type Executor struct {
	bus        domain.EventBus
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu    sync.RWMutex
	funcs map[string]CustomFunc
}

// NewExecutor creates an action executor. The bus may be nil, in which
// case notify/email actions fail and are omitted from executed actions.
func NewExecutor(bus domain.EventBus, httpClient *http.Client, logger *slog.Logger, collector *metrics.Collector) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		bus:        bus,
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		funcs:      make(map[string]CustomFunc),
	}
}

// RegisterFunc installs a callback for custom_function actions under
// the given name.
func (x *Executor) RegisterFunc(name string, fn CustomFunc) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.funcs[name] = fn
}

// Execute runs one action, honoring its delay via a context-aware wait.
// Returns an error when the action did not take effect.
func (x *Executor) Execute(ctx context.Context, rule *domain.RiskRule, data domain.Value, action domain.RuleAction) error {
	if delay := action.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch action.Type {
	case domain.ActionAlert:
		x.logger.Warn("rule alert",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"severity", paramString(action.Parameters, "severity", "medium"),
			"message", paramString(action.Parameters, "message", rule.Description),
		)
		return nil

	case domain.ActionLog:
		x.logger.Info("rule log",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"message", paramString(action.Parameters, "message", rule.Description),
		)
		return nil

	case domain.ActionNotify:
		return x.publishMessage(ctx, domain.TopicNotification, rule, action)

	case domain.ActionEmail:
		return x.publishMessage(ctx, domain.TopicEmail, rule, action)

	case domain.ActionAPICall:
		return x.apiCall(ctx, rule, data, action)

	case domain.ActionCustomFunction:
		return x.customFunction(ctx, rule, data, action)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// outboundMessage is the payload handed to the notification/email sink.
type outboundMessage struct {
	RuleID     string   `json:"ruleId"`
	RuleName   string   `json:"ruleName"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients,omitempty"`
	Channel    string   `json:"channel,omitempty"`
}

func (x *Executor) publishMessage(ctx context.Context, topic string, rule *domain.RiskRule, action domain.RuleAction) error {
	if x.bus == nil {
		return fmt.Errorf("no event bus configured for %s action", action.Type)
	}

	msg := outboundMessage{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Message:    paramString(action.Parameters, "message", rule.Description),
		Recipients: paramStrings(action.Parameters, "recipients"),
		Channel:    paramString(action.Parameters, "channel", ""),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return x.bus.Publish(ctx, topic, payload)
}

func (x *Executor) apiCall(ctx context.Context, rule *domain.RiskRule, data domain.Value, action domain.RuleAction) error {
	url := paramString(action.Parameters, "url", "")
	if url == "" {
		return fmt.Errorf("api_call action requires a url parameter")
	}
	method := paramString(action.Parameters, "method", http.MethodPost)

	body, err := json.Marshal(map[string]any{
		"ruleId": rule.ID,
		"data":   data.ToAny(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api_call returned status %d", resp.StatusCode)
	}
	return nil
}

func (x *Executor) customFunction(ctx context.Context, rule *domain.RiskRule, data domain.Value, action domain.RuleAction) error {
	name := paramString(action.Parameters, "function", "")
	if name == "" {
		return fmt.Errorf("custom_function action requires a function parameter")
	}

	x.mu.RLock()
	fn, ok := x.funcs[name]
	x.mu.RUnlock()
	if !ok {
		return fmt.Errorf("custom function %q is not registered", name)
	}

	ok, err := fn(ctx, data, rule, action.Parameters)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("custom function %q returned false", name)
	}
	return nil
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func paramStrings(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
