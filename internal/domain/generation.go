package domain

import "context"

// AnsweredSentence is one sentence of a generated answer with the claims it makes.
type AnsweredSentence struct {
	Text   string      `json:"text"`
	Claims []Assertion `json:"claims"`
}

type GeneratedAnswer struct {
	Question  string             `json:"question"`
	Sentences []AnsweredSentence `json:"sentences"`
}

// LLMClient produces a candidate answer together with the claims in it.
type LLMClient interface {
	Answer(ctx context.Context, question string) (*GeneratedAnswer, error)
}
