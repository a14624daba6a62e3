package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-product-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-product-analyzer/internal/config"
	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
	"github.com/fairyhunter13/ai-product-analyzer/internal/usecase"
)

func TestEscalationGate_Offer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		keys    map[string]string
		score   int
		wantOff bool
	}{
		{"low score real key", map[string]string{"gemini-25": "sk-real"}, 6, true},
		{"skipped analysis real key", map[string]string{"gemini-25": "sk-real"}, 0, true},
		{"threshold score", map[string]string{"gemini-25": "sk-real"}, 7, false},
		{"high score", map[string]string{"gemini-25": "sk-real"}, 9, false},
		{"placeholder key", map[string]string{"gemini-25": "demo_key"}, 3, false},
		{"no key", map[string]string{"gemini-flash": "sk-real"}, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			caller := &mockCaller{}
			gate := usecase.NewEscalationGate(caller, config.DefaultModels(), ai.NewCredentials(tt.keys))

			offer := gate.Offer(context.Background(), tt.score)
			if !tt.wantOff {
				assert.Nil(t, offer)
				return
			}
			require.NotNil(t, offer)
			assert.True(t, offer.Available)
			assert.Equal(t, "gemini-25", offer.Model)
			assert.Contains(t, offer.Message, "gemini-25")
			caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEscalationGate_DeepAnalysis(t *testing.T) {
	t.Parallel()
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, "gemini-25", mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Scientific validity") &&
			strings.Contains(p, "Interactions with other drugs") &&
			strings.Contains(p, "6. Alternative options") &&
			strings.Contains(p, "Composition: cholecalciferol")
	})).Return(served("gemini-flash", "deep review")).Once()

	gate := usecase.NewEscalationGate(caller, config.DefaultModels(), ai.NewCredentials(nil))
	before := time.Now().UTC().Add(-time.Second)
	res, err := gate.DeepAnalysis(context.Background(), "vitamin D3", "cholecalciferol")
	require.NoError(t, err)

	assert.Equal(t, "deep review", res.DeepAnalysis)
	assert.Equal(t, "gemini-flash", res.ModelUsed)
	assert.True(t, res.Timestamp.After(before))
	assert.Equal(t, time.UTC, res.Timestamp.Location())
	caller.AssertExpectations(t)
}

func TestEscalationGate_DeepAnalysisNeedsInput(t *testing.T) {
	t.Parallel()
	caller := &mockCaller{}
	gate := usecase.NewEscalationGate(caller, config.DefaultModels(), ai.NewCredentials(nil))

	_, err := gate.DeepAnalysis(context.Background(), " ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}
