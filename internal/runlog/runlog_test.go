package runlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_HumanOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Infof("structuring %d files", 3)
	l.Warnf("both flags set")

	out := buf.String()
	assert.Contains(t, out, "info: structuring 3 files")
	assert.Contains(t, out, "warning: both flags set")
}

func TestLogger_DebugSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Debugf("hashing file")
	assert.Empty(t, buf.String())

	l.SetVerbose(true)
	l.Debugf("hashing file")
	assert.Contains(t, buf.String(), "debug: hashing file")
}

func TestLogger_JSONLSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.jsonl")

	l := New(bytes.NewBuffer(nil))
	require.NoError(t, l.AttachJSONL(path))

	l.Infof("first")
	l.Errorf("second %s", "thing")
	l.Debugf("third") // debug always reaches the file sink
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())

	require.Len(t, records, 3)
	assert.Equal(t, LevelInfo, records[0].Level)
	assert.Equal(t, "first", records[0].Msg)
	assert.Equal(t, LevelError, records[1].Level)
	assert.Equal(t, "second thing", records[1].Msg)
	assert.Equal(t, LevelDebug, records[2].Level)
	assert.True(t, strings.HasSuffix(records[0].TSUTC, "Z"))
}

func TestLogger_JSONLAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.jsonl")

	for i := 0; i < 2; i++ {
		l := New(bytes.NewBuffer(nil))
		require.NoError(t, l.AttachJSONL(path))
		l.Infof("run %d", i)
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}
