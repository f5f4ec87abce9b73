package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_OneOutcomePerPair(t *testing.T) {
	a := NewAggregator([]string{"s1", "s2"})
	require.NoError(t, a.AddFile("/in/a.csv", "local", "abc"))

	require.NoError(t, a.Record("/in/a.csv", Succeeded("s1", "/out/a1", "d1", time.Second)))
	require.NoError(t, a.Record("/in/a.csv", Failed("s2", "ioError", "trace", time.Second)))

	err := a.Record("/in/a.csv", Succeeded("s1", "/out/dup", "d2", time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already recorded")
}

func TestAggregator_UnregisteredFile(t *testing.T) {
	a := NewAggregator([]string{"s1"})
	err := a.Record("/in/ghost.csv", Skipped("s1", ""))
	require.Error(t, err)
}

func TestAggregator_PreservesResolutionOrder(t *testing.T) {
	a := NewAggregator([]string{"s1"})
	inputs := []string{"/in/c.csv", "/in/a.csv", "/in/b.csv"}
	for _, in := range inputs {
		require.NoError(t, a.AddFile(in, "local", ""))
	}

	r, err := a.Finalize(Metadata{ToolVersion: "0.3.0", InvocationID: "x"})
	require.NoError(t, err)

	var got []string
	for _, fe := range r.Files {
		got = append(got, fe.Input)
	}
	assert.Equal(t, inputs, got)
}

func TestAggregator_FinalizeOnce(t *testing.T) {
	a := NewAggregator([]string{"s1"})
	a.now = func() time.Time {
		return time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC)
	}
	require.NoError(t, a.AddFile("/in/a.csv", "local", ""))

	r, err := a.Finalize(Metadata{ToolVersion: "0.3.0", RunID: "42", Tags: []string{"exp1"}})
	require.NoError(t, err)
	require.NotNil(t, r.Metadata)
	assert.Equal(t, "2026-08-27 10:30:00", r.Metadata.CompletedUTC)
	assert.Equal(t, "42", r.Metadata.RunID)

	_, err = a.Finalize(Metadata{})
	assert.ErrorIs(t, err, ErrFinalized)

	assert.ErrorIs(t, a.AddFile("/in/b.csv", "local", ""), ErrFinalized)
	assert.ErrorIs(t, a.Record("/in/a.csv", Skipped("s1", "")), ErrFinalized)
}

func TestAggregator_MarkCritical(t *testing.T) {
	a := NewAggregator([]string{"s1"})
	a.MarkCritical("operator interrupt: run terminated")
	r, err := a.Finalize(Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "operator interrupt: run terminated", r.Critical)
}

func TestSummarize_Classification(t *testing.T) {
	a := NewAggregator([]string{"s1", "s2"})
	files := map[string][]Outcome{
		"/in/all.csv": {
			Succeeded("s1", "o1", "", time.Second),
			Succeeded("s2", "o2", "", time.Second),
		},
		"/in/some.csv": {
			Succeeded("s1", "o1", "", time.Second),
			Invalid("s2", "missing diagnostic cycles", time.Second),
		},
		"/in/none.csv": {
			Failed("s1", "parseError", "trace", time.Second),
			Invalid("s2", "bad header", time.Second),
		},
	}
	for _, in := range []string{"/in/all.csv", "/in/some.csv", "/in/none.csv"} {
		require.NoError(t, a.AddFile(in, "local", ""))
		for _, oc := range files[in] {
			require.NoError(t, a.Record(in, oc))
		}
	}
	r, err := a.Finalize(Metadata{})
	require.NoError(t, err)

	s := Summarize(r)
	assert.Equal(t, 2, s.StepCount)
	assert.Equal(t, []string{"/in/all.csv"}, s.All)
	assert.Equal(t, []string{"/in/some.csv"}, s.Some)
	assert.Equal(t, []string{"/in/none.csv"}, s.None)
	assert.Equal(t, 1, s.Successes["/in/some.csv"])
}

func TestSummarize_ZeroStepsNeverAll(t *testing.T) {
	a := NewAggregator(nil)
	require.NoError(t, a.AddFile("/in/a.csv", "local", ""))
	r, err := a.Finalize(Metadata{})
	require.NoError(t, err)

	s := Summarize(r)
	assert.Empty(t, s.All)
	assert.Equal(t, []string{"/in/a.csv"}, s.None)
}
