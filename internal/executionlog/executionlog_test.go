package executionlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/platform"
)

func TestAppendThenReadAllRoundTripsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec.jsonl")

	w, err := OpenWriter(path)
	require.NoError(t, err)

	r1 := Record{Timestamp: 1000, OperatorKey: "filter", Platform: "local", DurationMs: 12.5}
	r2 := Record{Timestamp: 2000, OperatorKey: "map", Platform: "spark", DurationMs: 30}
	require.NoError(t, w.Append(r1))
	require.NoError(t, w.Append(r2))
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, r1, got[0])
	assert.Equal(t, r2, got[1])
}

func TestReadAllOnMissingFileReturnsNoRecordsNoError(t *testing.T) {
	got, err := ReadAll(filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadAllSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec.jsonl")
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{OperatorKey: "a"}))
	require.NoError(t, w.file.WriteString("\n"))
	require.NoError(t, w.Append(Record{OperatorKey: "b"}))
	require.NoError(t, w.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].OperatorKey)
	assert.Equal(t, "b", got[1].OperatorKey)
}

func TestOpenWriterAppendsAcrossSeparateOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec.jsonl")

	w1, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w1.Append(Record{OperatorKey: "first"}))
	require.NoError(t, w1.Close())

	w2, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w2.Append(Record{OperatorKey: "second"}))
	require.NoError(t, w2.Close())

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].OperatorKey)
	assert.Equal(t, "second", got[1].OperatorKey)
}

func TestNewRecordCopiesFieldsFromPartialExecution(t *testing.T) {
	pe := platform.PartialExecution{
		DurationMs:        42,
		InvolvedPlatforms: []platform.ID{"local", "spark"},
		OperatorExecutions: []platform.OperatorExecution{
			{OperatorClass: "Filter", InputCards: []uint64{10}, OutputCards: []uint64{5}},
		},
	}

	r := NewRecord("filter", "local", pe, 123456)

	assert.Equal(t, int64(123456), r.Timestamp)
	assert.Equal(t, "filter", r.OperatorKey)
	assert.Equal(t, "local", r.Platform)
	assert.Equal(t, 42.0, r.DurationMs)
	assert.Equal(t, []string{"local", "spark"}, r.InvolvedPlatforms)
	assert.Equal(t, pe.OperatorExecutions, r.Operators)
}

func TestNowUnixMsIsPositive(t *testing.T) {
	assert.Greater(t, NowUnixMs(), int64(0))
}
