package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// EscalationThreshold is the score below which deep analysis is offered.
const EscalationThreshold = 7

// EscalationGate decides whether deep analysis may be offered and runs it on demand.
type EscalationGate struct {
	Models      ModelCaller
	Bindings    RoleBindings
	Credentials domain.CredentialStore
	now         func() time.Time
}

// NewEscalationGate constructs an EscalationGate.
func NewEscalationGate(m ModelCaller, b RoleBindings, c domain.CredentialStore) EscalationGate {
	return EscalationGate{Models: m, Bindings: b, Credentials: c, now: time.Now}
}

// DeepAvailable reports whether the deep backend has a real credential.
func (g EscalationGate) DeepAvailable() bool {
	key, ok := g.Credentials.Credential(g.Bindings.ModelFor(domain.RoleDeep))
	return ok && key != "" && key != domain.PlaceholderCredential
}

// Offer returns an offer for scores below EscalationThreshold when the deep
// backend is available, nil otherwise. It never calls the deep model.
func (g EscalationGate) Offer(ctx context.Context, score int) *domain.DeepAnalysisOffer {
	if score >= EscalationThreshold || !g.DeepAvailable() {
		return nil
	}
	model := g.Bindings.ModelFor(domain.RoleDeep)
	observability.RecordDeepOffer()
	observability.LoggerFromContext(ctx).Info("deep analysis offered", slog.Int("score", score), slog.String("model", model))
	return &domain.DeepAnalysisOffer{
		Available: true,
		Model:     model,
		Message:   fmt.Sprintf("Would you like a deeper analysis with %s?", model),
	}
}

// DeepAnalysis runs the clinical review prompt through the deep role.
func (g EscalationGate) DeepAnalysis(ctx context.Context, description, composition string) (domain.DeepAnalysisResult, error) {
	if strings.TrimSpace(description) == "" && strings.TrimSpace(composition) == "" {
		return domain.DeepAnalysisResult{}, fmt.Errorf("%w: description or composition required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "usecase.EscalationGate.DeepAnalysis")
	defer span.End()

	reply := g.Models.Call(ctx, g.Bindings.ModelFor(domain.RoleDeep), DeepPrompt(description, composition))
	now := g.now
	if now == nil {
		now = time.Now
	}
	return domain.DeepAnalysisResult{
		DeepAnalysis: reply.Text,
		ModelUsed:    reply.Model,
		Timestamp:    now().UTC(),
	}, nil
}
