// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// NotProductPageMessage is returned for pages outside the product URL pattern.
const NotProductPageMessage = "This is not an Ozon product page. Open a product page to run the analysis."

// ProductService runs the analyze_product pipeline.
type ProductService struct {
	Pages    domain.PageExtractor
	Analyzer *ConsistencyAnalyzer
	Search   domain.ProductSearch
	Gate     EscalationGate
}

// NewProductService constructs a ProductService with its dependencies.
func NewProductService(p domain.PageExtractor, a *ConsistencyAnalyzer, s domain.ProductSearch, g EscalationGate) ProductService {
	return ProductService{Pages: p, Analyzer: a, Search: s, Gate: g}
}

// Analyze extracts features from the page, scores them, looks up analogs and
// attaches a deep-analysis offer when escalation applies.
func (s ProductService) Analyze(ctx context.Context, pageHTML, pageURL string) (domain.ProductAnalysis, error) {
	if pageHTML == "" {
		return domain.ProductAnalysis{}, fmt.Errorf("%w: page_html required", domain.ErrInvalidArgument)
	}
	lg := observability.LoggerFromContext(ctx)

	features, err := s.Pages.Extract(pageHTML, pageURL)
	if err != nil {
		if errors.Is(err, domain.ErrNotProductPage) {
			lg.Info("page is not a product page", slog.Any("error", err))
			return domain.ProductAnalysis{Message: NotProductPageMessage}, nil
		}
		return domain.ProductAnalysis{}, fmt.Errorf("op=usecase.Analyze: extract: %w", err)
	}
	lg.Debug("page features extracted",
		slog.Int("categories", len(features.Categories)),
		slog.Int("description_len", len(features.Description)),
		slog.Int("composition_len", len(features.Composition)))

	analysis := s.Analyzer.Analyze(ctx, features.Description, features.Composition)

	analogs := []domain.SimilarProduct{}
	if s.Search != nil {
		found, err := s.Search.FindSimilar(ctx, features.Categories, features.Composition)
		if err != nil {
			lg.Warn("similar product search failed", slog.Any("error", err))
		} else if found != nil {
			analogs = found
		}
	}

	return domain.ProductAnalysis{
		Categories:        features.Categories,
		Description:       features.Description,
		Composition:       features.Composition,
		Analysis:          &analysis,
		Analogs:           analogs,
		Message:           fmt.Sprintf("Analysis complete. Consistency score: %d/10", analysis.Score),
		DeepAnalysisOffer: s.Gate.Offer(ctx, analysis.Score),
	}, nil
}
