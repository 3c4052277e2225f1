package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamancy/toolhost/internal/config"
)

func TestSink_WritesOneJSONLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSinkWithLogger(zerolog.New(&buf), 512)

	sink.Write(Record{
		CallID:         "c-1",
		Caller:         "alice",
		ShadowIdentity: "shadow_agent_alice",
		Tool:           "query_postgres",
		Statement:      "SELECT 1",
		RowCount:       1,
		Elapsed:        12 * time.Millisecond,
		Success:        true,
	})
	sink.Write(Record{
		CallID:  "c-2",
		Tool:    "query_postgres",
		Success: false,
		Error:   "query rejected: not a SELECT",
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "alice", first["caller"])
	assert.Equal(t, "shadow_agent_alice", first["shadow_identity"])
	assert.Equal(t, float64(1), first["row_count"])
	assert.Equal(t, true, first["success"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, false, second["success"])
	assert.Contains(t, second["error"], "query rejected")
	_, hasCaller := second["caller"]
	assert.False(t, hasCaller, "empty caller must be omitted")
}

func TestSink_TruncatesStatements(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSinkWithLogger(zerolog.New(&buf), 32)

	sink.Write(Record{
		CallID:    "c-3",
		Tool:      "query_postgres",
		Statement: strings.Repeat("SELECT col_name, ", 20),
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	stmt := rec["statement"].(string)
	assert.LessOrEqual(t, len(stmt), 32+len("..."))
	assert.True(t, strings.HasSuffix(stmt, "..."))
}

func TestSink_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	sink, err := NewSink(configFor(path))
	require.NoError(t, err)
	sink.Write(Record{CallID: "c-4", Tool: "echo", Success: true})
	require.NoError(t, sink.Close())

	// Reopening must append, not truncate.
	sink, err = NewSink(configFor(path))
	require.NoError(t, err)
	sink.Write(Record{CallID: "c-5", Tool: "echo", Success: true})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 2, count)
}

func TestSink_ConcurrentWritesStayLineSeparated(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSinkWithLogger(zerolog.New(&buf), 512)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Write(Record{CallID: "c", Tool: "query_postgres", Success: true})
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		var rec map[string]any
		assert.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}

func configFor(path string) config.AuditConfig {
	return config.AuditConfig{File: path, StatementLimit: 512}
}
