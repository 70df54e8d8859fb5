package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]string{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerRedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)

	l.Info("sent", "recipient", "john.doe@example.com", "note", "reply from ab@example.com")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "jo***@example.com", lines[0]["recipient"])
	assert.Equal(t, "reply from ***@example.com", lines[0]["note"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)

	l.Info("dropped")
	l.Warn("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestLoggerWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG).With("component", "scheduler")

	l.With("campaign_id", "c-1").Error("promote failed", "error", "boom")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "scheduler", lines[0]["component"])
	assert.Equal(t, "c-1", lines[0]["campaign_id"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "abcdef***", RedactToken("abcdefghijkl"))
	assert.Equal(t, "***", RedactToken("abc"))
}
