// Package pageparser extracts product features from marketplace page markup.
package pageparser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/pkg/textx"
)

// DefaultProductURLPattern matches Ozon product pages.
const DefaultProductURLPattern = `^https?://(www\.)?ozon\.ru/product/`

var (
	descriptionKeywords   = []string{"описание", "description"}
	compositionKeywords   = []string{"состав", "composition"}
	specificationKeywords = []string{"характеристики", "specifications"}
)

// Parser implements domain.PageExtractor with goquery.
type Parser struct {
	productURL *regexp.Regexp
}

// New compiles pattern; an empty pattern selects DefaultProductURLPattern.
func New(pattern string) (*Parser, error) {
	if pattern == "" {
		pattern = DefaultProductURLPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("op=pageparser.New: %w: %v", domain.ErrInvalidArgument, err)
	}
	return &Parser{productURL: re}, nil
}

// Extract parses pageHTML. When pageURL is empty the canonical link or
// og:url of the page is used instead. A URL that is not a product page
// yields an error wrapping domain.ErrNotProductPage.
func (p *Parser) Extract(pageHTML, pageURL string) (domain.PageFeatures, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return domain.PageFeatures{}, fmt.Errorf("op=pageparser.Extract: %w", err)
	}

	if pageURL = strings.TrimSpace(pageURL); pageURL == "" {
		pageURL = documentURL(doc)
	}
	if !p.productURL.MatchString(pageURL) {
		return domain.PageFeatures{}, fmt.Errorf("%w: %q", domain.ErrNotProductPage, pageURL)
	}

	features := domain.PageFeatures{Categories: categories(doc)}
	features.Description, features.Composition = sections(doc)
	return features, nil
}

func documentURL(doc *goquery.Document) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// categories returns the breadcrumb labels that link to category pages.
func categories(doc *goquery.Document) []string {
	out := []string{}
	doc.Find(`[data-widget="breadCrumbs"] a`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/category/") {
			return
		}
		label := textx.CollapseSpace(s.Find("span").First().Text())
		if label == "" {
			label = textx.CollapseSpace(s.Text())
		}
		if label != "" {
			out = append(out, label)
		}
	})
	return out
}

// sections classifies heading-delimited blocks. The first block of each kind
// wins; later blocks of the same kind are dropped, never merged.
func sections(doc *goquery.Document) (description, composition string) {
	doc.Find(`[id^="section-"]`).Each(func(_ int, s *goquery.Selection) {
		heading := s.Find("h2, h3").First()
		if heading.Length() == 0 {
			return
		}
		title := strings.ToLower(textx.CollapseSpace(heading.Text()))

		switch classify(title) {
		case kindDescription:
			if description == "" {
				description = sectionBody(s)
			}
		case kindComposition:
			if composition == "" {
				composition = sectionBody(s)
			}
		}
	})
	return description, composition
}

type sectionKind int

const (
	kindOther sectionKind = iota
	kindDescription
	kindComposition
)

// classify maps a lowercased heading to one field. Description keywords take
// priority over composition keywords.
func classify(title string) sectionKind {
	switch {
	case containsAny(title, descriptionKeywords):
		return kindDescription
	case containsAny(title, compositionKeywords), containsAny(title, specificationKeywords):
		return kindComposition
	}
	return kindOther
}

func sectionBody(s *goquery.Selection) string {
	body := s.Clone()
	body.Find("h2, h3").First().Remove()
	return textx.CollapseSpace(body.Text())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
