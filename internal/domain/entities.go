// Package domain holds the core types, ports and error taxonomy of the analyzer.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotProductPage    = errors.New("not a product page")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// Role names a slot in the analysis pipeline that is bound to a backend model.
type Role string

const (
	RoleBasic            Role = "basic_analysis"
	RoleDetailed         Role = "detailed_comparison"
	RoleDeep             Role = "deep_analysis"
	RoleScrapingFallback Role = "scraping_fallback"
)

// Roles lists every role the analyzer knows about.
var Roles = []Role{RoleBasic, RoleDetailed, RoleDeep, RoleScrapingFallback}

// PlaceholderCredential is the demo key shipped with the plugin. It is accepted
// by the stub backend but never counts as a real key for escalation.
const PlaceholderCredential = "demo_key"

// PageFeatures are the typed fields pulled out of a product page.
// Empty text fields are a valid outcome.
type PageFeatures struct {
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
	Composition string   `json:"composition"`
}

// AnalysisResult is the merged output of the consistency analysis.
// Invariant: Score is in [1,10] whenever a model was consulted, 0 when the
// analysis was skipped because an input was empty.
type AnalysisResult struct {
	Score            int      `json:"score"`
	Reasoning        string   `json:"reasoning"`
	Details          []string `json:"details"`
	Summary          string   `json:"summary,omitempty"`
	DetailedAnalysis string   `json:"detailedAnalysis"`
	ModelsUsed       []string `json:"modelsUsed"`
}

// RateLimitStatus is the answer of a rate-limit check for one model.
type RateLimitStatus struct {
	Limited   bool       `json:"limited"`
	ResetTime *time.Time `json:"resetTime,omitempty"`
	Remaining int        `json:"remaining"`
}

// SimilarProduct is a stub search hit returned next to an analysis.
type SimilarProduct struct {
	Name              string `json:"name"`
	Price             string `json:"price"`
	URL               string `json:"url"`
	SimilarityPercent int    `json:"similarityPercent"`
}

// DeepAnalysisOffer is attached to a product analysis when escalation is possible.
// It never triggers the deep model by itself.
type DeepAnalysisOffer struct {
	Available bool   `json:"available"`
	Model     string `json:"model"`
	Message   string `json:"message"`
}

// DeepAnalysisResult is the opaque output of the on-demand deep pass.
type DeepAnalysisResult struct {
	DeepAnalysis string    `json:"deepAnalysis"`
	ModelUsed    string    `json:"modelUsed"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProductAnalysis is the full result of analyze_product. For pages that are
// not product pages only Message is set.
type ProductAnalysis struct {
	Categories        []string           `json:"categories,omitempty"`
	Description       string             `json:"description,omitempty"`
	Composition       string             `json:"composition,omitempty"`
	Analysis          *AnalysisResult    `json:"analysis,omitempty"`
	Analogs           []SimilarProduct   `json:"analogs,omitempty"`
	Message           string             `json:"message"`
	DeepAnalysisOffer *DeepAnalysisOffer `json:"deepAnalysisOffer,omitempty"`
}

// CallRequest is one invocation of an AI backend.
type CallRequest struct {
	Model  string
	APIKey string
	Prompt string
}

// Ports

// AIClient is the AIModelCall capability.
type AIClient interface {
	Call(ctx Context, req CallRequest) (string, error)
}

// RateLimitChecker is the RateLimitCheck capability.
type RateLimitChecker interface {
	Check(ctx Context, model string) (RateLimitStatus, error)
}

// CallReporter receives the outcome of capability calls so that rate-limit
// state can learn from them.
type CallReporter interface {
	ReportSuccess(model string)
	ReportFailure(model string, err error)
	ReportRateLimit(model string, retryAfter time.Duration)
}

// CredentialStore is the GetCredential capability.
type CredentialStore interface {
	Credential(model string) (string, bool)
}

// UsageRecorder is the RecordUsage capability.
type UsageRecorder interface {
	RecordUsage(ctx Context, model, prompt, completion string)
}

// ProductSearch is the FindSimilar capability.
type ProductSearch interface {
	FindSimilar(ctx Context, categories []string, composition string) ([]SimilarProduct, error)
}

// PageExtractor turns raw page markup into PageFeatures. It returns an error
// wrapping ErrNotProductPage when the page is not a product page.
type PageExtractor interface {
	Extract(pageHTML, pageURL string) (PageFeatures, error)
}

// Context is an alias so ports read the same across packages.
type Context = context.Context
