package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripted_TranscriptFollowsActions(t *testing.T) {
	ctx := context.Background()
	a := NewScripted(FromText("Python is old")...)
	assert.Equal(t, 3, a.PendingTokens())

	_, err := a.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Apply(ctx, domain.Action{Kind: domain.ActionQualify, Text: "To my understanding,"}))

	_, err = a.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Apply(ctx, domain.Action{Kind: domain.ActionContinue}))

	_, err = a.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Apply(ctx, domain.Action{Kind: domain.ActionHalt, Text: "I cannot verify this claim in my knowledge graph."}))

	step, err := a.Next(ctx)
	require.NoError(t, err)
	assert.True(t, step.Done)
	assert.Equal(t, "To my understanding, Python is I cannot verify this claim in my knowledge graph.", a.Transcript())
	assert.Len(t, a.Actions(), 3)
}

func TestScripted_SubstitutionReplacesClaim(t *testing.T) {
	ctx := context.Background()
	wrong := domain.Assertion{Subject: "Python", Relation: "createdBy", Object: "James Gosling"}
	a := NewScripted(FromText("Python by Gosling", wrong)...)

	step, err := a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, wrong, step.Assertions[0])

	correction := domain.Correction{Subject: "Python", Relation: domain.RelationCreatedBy, Object: "Guido van Rossum"}
	trigger := domain.Assertion{Subject: "Python", Relation: domain.RelationCreatedBy, Object: "James Gosling"}
	require.NoError(t, a.Apply(ctx, domain.Action{
		Kind: domain.ActionSubstitute, Text: "Python created by Guido van Rossum.",
		Trigger: &trigger, Correction: &correction,
	}))

	step, err = a.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Guido van Rossum", step.Assertions[0].Object)
}

func TestScripted_FailAtAndCancel(t *testing.T) {
	boom := errors.New("model crashed")
	a := NewScripted(FromText("a b c")...).FailAt(1, boom)

	_, err := a.Next(context.Background())
	require.NoError(t, err)
	_, err = a.Next(context.Background())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerator_StepsCarryContext(t *testing.T) {
	client := llm.NewMockClient()
	client.AnswerResponse = &domain.GeneratedAnswer{Sentences: []domain.AnsweredSentence{
		{Text: "Python is a language.", Claims: []domain.Assertion{{Subject: "Python", Relation: domain.RelationInstanceOf, Object: "Language"}}},
		{Text: "It created Java.", Claims: []domain.Assertion{{Subject: "Python", Relation: domain.RelationCreates, Object: "Java"}}},
		{Text: "Done."},
	}}
	g := NewGenerator(client, "Tell me about Python")
	ctx := context.Background()

	var counts []int
	for {
		step, err := g.Next(ctx)
		require.NoError(t, err)
		if step.Done {
			break
		}
		counts = append(counts, len(step.Assertions))
		require.NoError(t, g.Apply(ctx, domain.Action{Kind: domain.ActionContinue}))
	}
	assert.Equal(t, []int{1, 2, 2}, counts)
	assert.Equal(t, []string{"Tell me about Python"}, client.AnswerCalls)
	assert.Equal(t, "Python is a language. It created Java. Done.", g.Transcript())
}

func TestGenerator_ClientFailure(t *testing.T) {
	client := llm.NewMockClient()
	client.AnswerError = errors.New("quota")
	g := NewGenerator(client, "q")

	_, err := g.Next(context.Background())
	assert.ErrorContains(t, err, "quota")
	assert.Error(t, g.Apply(context.Background(), domain.Action{Kind: domain.ActionContinue}))
	assert.Zero(t, g.PendingTokens())
}
