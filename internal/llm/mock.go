package llm

import (
	"context"

	"github.com/Harshitk-cp/integrity/internal/domain"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	AnswerResponse *domain.GeneratedAnswer
	AnswerError    error

	// Call tracking for assertions
	AnswerCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		AnswerResponse: &domain.GeneratedAnswer{},
	}
}

func (m *MockClient) Answer(ctx context.Context, question string) (*domain.GeneratedAnswer, error) {
	m.AnswerCalls = append(m.AnswerCalls, question)
	if m.AnswerError != nil {
		return nil, m.AnswerError
	}
	ans := *m.AnswerResponse
	ans.Question = question
	return &ans, nil
}
