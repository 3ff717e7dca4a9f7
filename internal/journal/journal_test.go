package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJournalWritesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "actions.jsonl")
	j, err := Open(path)
	require.NoError(t, err)

	_, err = uuid.Parse(j.Session())
	require.NoError(t, err)

	assert.True(t, j.Record(Entry{Action: "announce", Count: 2, Stable: 2, Status: "Playing audio for 2 people"}))
	assert.True(t, j.Record(Entry{Action: "silence", Stable: 0}))
	require.NoError(t, j.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "announce", entries[0].Action)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.Equal(t, j.Session(), entries[1].Session)
	assert.False(t, entries[0].Time.IsZero())

	st := j.GetStatus()
	assert.False(t, st.Open)
	assert.Equal(t, uint64(2), st.Written)
}

func TestJournalInDirectory(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	j.Record(Entry{Action: "announce", Count: 1})
	require.NoError(t, j.Close())

	assert.True(t, strings.HasPrefix(filepath.Base(j.GetStatus().Filename), "actions_"))
	assert.Len(t, readEntries(t, j.GetStatus().Filename), 1)
}

func TestJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	for i := 0; i < 2; i++ {
		j, err := Open(path)
		require.NoError(t, err)
		j.Record(Entry{Action: "announce", Count: i + 1})
		require.NoError(t, j.Close())
	}

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Session, entries[1].Session)
}

func TestRecordAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.False(t, j.Record(Entry{Action: "announce"}))
}
