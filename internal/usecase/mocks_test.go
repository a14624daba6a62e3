package usecase_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-product-analyzer/internal/service/router"
)

type mockCaller struct{ mock.Mock }

func (m *mockCaller) Call(ctx context.Context, model, prompt string) router.Reply {
	args := m.Called(ctx, model, prompt)
	return args.Get(0).(router.Reply)
}

func served(model, text string) router.Reply {
	return router.Reply{Text: text, Model: model, Served: true, Attempted: []string{model}}
}
