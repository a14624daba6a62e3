package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/usage"
	"github.com/fairyhunter13/ai-product-analyzer/internal/usecase"
)

// Method names.
const (
	MethodPing           = "ping"
	MethodAnalyzeProduct = "analyze_product"
	MethodDeepAnalysis   = "deep_analysis"
	MethodUsageStats     = "usage_stats"
)

// UsageSnapshotter exposes per-model usage counters.
type UsageSnapshotter interface {
	Snapshot() map[string]usage.ModelUsage
}

// HealthSnapshotter exposes per-model rate-limit state.
type HealthSnapshotter interface {
	Snapshot(ctx context.Context, models []string) map[string]ai.ModelHealth
	Unavailable() (blocked, open []string)
}

// Services are the use cases behind the registered methods.
type Services struct {
	Products usecase.ProductService
	Gate     usecase.EscalationGate
	Usage    UsageSnapshotter
	Health   HealthSnapshotter
	// Models lists the backends reported by usage_stats.
	Models []string
}

type analyzeParams struct {
	PageHTML string `json:"page_html" validate:"required"`
	PageURL  string `json:"page_url" validate:"omitempty,url"`
}

type deepParams struct {
	Description string `json:"description" validate:"max=200000"`
	Composition string `json:"composition" validate:"max=200000"`
}

// ModelStats is one usage_stats entry.
type ModelStats struct {
	Usage  usage.ModelUsage `json:"usage"`
	Health *ai.ModelHealth  `json:"health,omitempty"`
}

// UsageStats is the usage_stats result.
type UsageStats struct {
	Models        map[string]ModelStats `json:"models"`
	BlockedModels []string              `json:"blockedModels"`
	OpenCircuits  []string              `json:"openCircuits"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeParams unmarshals params into v and validates its struct tags.
func decodeParams(params json.RawMessage, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := getValidator().Struct(v); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, strings.ToLower(fe.Field())+"="+fe.Tag())
			}
			return fmt.Errorf("%w: validation failed: %s", domain.ErrInvalidArgument, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// RegisterHandlers binds every analyzer method on srv.
func RegisterHandlers(srv *Server, svc Services) {
	srv.Register(MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})

	srv.Register(MethodAnalyzeProduct, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p analyzeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return svc.Products.Analyze(ctx, p.PageHTML, p.PageURL)
	})

	srv.Register(MethodDeepAnalysis, func(ctx context.Context, params json.RawMessage) (any, error) {
		var p deepParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return svc.Gate.DeepAnalysis(ctx, p.Description, p.Composition)
	})

	srv.Register(MethodUsageStats, func(ctx context.Context, _ json.RawMessage) (any, error) {
		out := UsageStats{Models: map[string]ModelStats{}, BlockedModels: []string{}, OpenCircuits: []string{}}
		var counters map[string]usage.ModelUsage
		if svc.Usage != nil {
			counters = svc.Usage.Snapshot()
		}
		models := append([]string(nil), svc.Models...)
		for model := range counters {
			if !contains(models, model) {
				models = append(models, model)
			}
		}
		sort.Strings(models)

		var health map[string]ai.ModelHealth
		if svc.Health != nil {
			health = svc.Health.Snapshot(ctx, models)
			blocked, open := svc.Health.Unavailable()
			out.BlockedModels = append(out.BlockedModels, blocked...)
			out.OpenCircuits = append(out.OpenCircuits, open...)
		}
		for _, model := range models {
			st := ModelStats{Usage: counters[model]}
			if h, ok := health[model]; ok {
				st.Health = &h
			}
			out.Models[model] = st
		}
		return out, nil
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
