package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/service/router"
)

// ModelCaller routes a prompt to a backend model.
type ModelCaller interface {
	Call(ctx context.Context, model, prompt string) router.Reply
}

// RoleBindings resolves the backend bound to a pipeline role.
type RoleBindings interface {
	ModelFor(role domain.Role) string
}

// ConsistencyAnalyzer scores how well a description matches a composition.
type ConsistencyAnalyzer struct {
	Models   ModelCaller
	Bindings RoleBindings
	// Parallel issues the basic and detailed calls concurrently.
	Parallel bool
	cleaner  *ai.ResponseCleaner
}

// NewConsistencyAnalyzer constructs a ConsistencyAnalyzer.
func NewConsistencyAnalyzer(m ModelCaller, b RoleBindings, parallel bool) *ConsistencyAnalyzer {
	return &ConsistencyAnalyzer{Models: m, Bindings: b, Parallel: parallel, cleaner: ai.NewResponseCleaner()}
}

// Analyze never fails: missing input short-circuits to score 0 and an
// undecodable basic reply falls back to score 5.
func (a *ConsistencyAnalyzer) Analyze(ctx context.Context, description, composition string) domain.AnalysisResult {
	lg := observability.LoggerFromContext(ctx)
	if description == "" || composition == "" {
		lg.Info("consistency analysis skipped", slog.Bool("has_description", description != ""), slog.Bool("has_composition", composition != ""))
		return domain.AnalysisResult{Score: 0, Reasoning: skippedReasoning, Details: []string{}, ModelsUsed: []string{}}
	}

	ctx, span := observability.StartSpan(ctx, "usecase.ConsistencyAnalyzer.Analyze")
	defer span.End()

	var basic, detailed router.Reply
	callBasic := func() error {
		basic = a.Models.Call(ctx, a.Bindings.ModelFor(domain.RoleBasic), BasicPrompt(description, composition))
		return nil
	}
	callDetailed := func() error {
		detailed = a.Models.Call(ctx, a.Bindings.ModelFor(domain.RoleDetailed), DetailedPrompt(description, composition))
		return nil
	}
	if a.Parallel {
		var g errgroup.Group
		g.Go(callBasic)
		g.Go(callDetailed)
		_ = g.Wait()
	} else {
		_ = callBasic()
		_ = callDetailed()
	}

	result := a.decodeBasic(ctx, basic.Text)
	result.DetailedAnalysis = detailed.Text
	result.ModelsUsed = servedModels(basic, detailed)
	result.Summary = Summary(result.Score)

	observability.ObserveConsistencyScore(result.Score)
	lg.Info("consistency analysis done",
		slog.Int("score", result.Score),
		slog.String("basic_model", basic.Model),
		slog.String("detailed_model", detailed.Model))
	return result
}

func (a *ConsistencyAnalyzer) decodeBasic(ctx context.Context, text string) domain.AnalysisResult {
	cleaner := a.cleaner
	if cleaner == nil {
		cleaner = ai.NewResponseCleaner()
	}
	var reply basicReply
	if err := cleaner.DecodeJSON(text, &reply); err != nil {
		observability.LoggerFromContext(ctx).Warn("basic model output not decodable", slog.Any("error", err))
		return domain.AnalysisResult{Score: fallbackScore, Reasoning: fallbackReasoning, Details: []string{}}
	}

	score := fallbackScore
	if reply.Score.set {
		score = ClampScore(reply.Score.value)
	}
	details := reply.Details
	if details == nil {
		details = []string{}
	}
	return domain.AnalysisResult{Score: score, Reasoning: reply.Reasoning, Details: details}
}

// servedModels lists, in call order and without repeats, the backends that
// actually produced a reply.
func servedModels(replies ...router.Reply) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, r := range replies {
		if !r.Served || seen[r.Model] {
			continue
		}
		seen[r.Model] = true
		out = append(out, r.Model)
	}
	return out
}
