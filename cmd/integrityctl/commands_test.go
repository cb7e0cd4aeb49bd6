package main

import (
	"bytes"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportFromEvents(t *testing.T) {
	id := uuid.New()
	events := []domain.InhibitionEvent{
		{SessionID: id, Sample: domain.DissonanceSample{SnapshotVersion: 7}, Before: domain.StateMonitoring, After: domain.StateQualifying},
		{SessionID: id, Sample: domain.DissonanceSample{SnapshotVersion: 7}, Before: domain.StateQualifying, After: domain.StateAborted},
	}

	rep := reportFromEvents(id, events, false)
	assert.Equal(t, domain.OutcomeAborted, rep.Outcome)
	assert.Equal(t, uint64(7), rep.SnapshotVersion)
	assert.Len(t, rep.Events, 2)

	rep = reportFromEvents(id, events[:1], true)
	assert.Equal(t, domain.OutcomeIncomplete, rep.Outcome)
	assert.True(t, rep.Accepted)
}

func TestStatsCommand_MemoryBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", "--json"})
	t.Cleanup(func() { jsonOutput = false })
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), `"nodes"`)
	assert.Contains(t, out.String(), `"semantic"`)
}

func TestCheckCommand_MemoryBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LLM_PROVIDER", "mock")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "Python:creates:Java"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "MONITORING -> QUALIFYING: qualify")
}
