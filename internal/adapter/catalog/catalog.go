// Package catalog provides the similar-product search used next to an analysis.
package catalog

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

const (
	maxAnalogs    = 3
	basePrice     = 1000
	priceStep     = 200
	topSimilarity = 80
	similarityGap = 10
)

// SearchURL is the marketplace search endpoint analog links point at.
const SearchURL = "https://www.ozon.ru/search"

// Stub answers FindSimilar with one placeholder analog per leading category.
// Composition is accepted for interface parity and not used.
type Stub struct {
	searchURL string
}

// NewStub returns a Stub linking to SearchURL.
func NewStub() *Stub { return &Stub{searchURL: SearchURL} }

// FindSimilar implements domain.ProductSearch.
func (s *Stub) FindSimilar(ctx context.Context, categories []string, _ string) ([]domain.SimilarProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(categories)
	if n > maxAnalogs {
		n = maxAnalogs
	}
	out := make([]domain.SimilarProduct, 0, n)
	for i, category := range categories[:n] {
		out = append(out, domain.SimilarProduct{
			Name:              fmt.Sprintf("Analog in category %s", category),
			Price:             fmt.Sprintf("%d ₽", basePrice+i*priceStep),
			URL:               s.searchURL + "?text=" + url.QueryEscape(category),
			SimilarityPercent: topSimilarity - i*similarityGap,
		})
	}
	return out, nil
}
