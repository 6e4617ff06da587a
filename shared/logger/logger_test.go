// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := NewWithWriter("orchestrator", &buf)
	l.SetLevel(DEBUG)
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		entries = append(entries, e)
	}
	return entries
}

func TestNew_InstanceID(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")
	assert.Equal(t, "instance-123", New("orchestrator").InstanceID)

	t.Setenv("INSTANCE_ID", "")
	assert.Equal(t, "unknown", New("orchestrator").InstanceID)
}

func TestLog_WritesOneJSONObjectPerLine(t *testing.T) {
	l, buf := newTestLogger(t)

	l.Info("user-1", "req-1", "match served", map[string]interface{}{"algorithm": "ml"})
	l.Warn("", "", "shared cache degraded", nil)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "2025-03-01T12:00:00Z", entries[0].Timestamp)
	assert.Equal(t, INFO, entries[0].Level)
	assert.Equal(t, "orchestrator", entries[0].Component)
	assert.Equal(t, "user-1", entries[0].UserID)
	assert.Equal(t, "req-1", entries[0].RequestID)
	assert.Equal(t, "ml", entries[0].Fields["algorithm"])

	assert.Equal(t, WARN, entries[1].Level)
	assert.Empty(t, entries[1].Fields)
	assert.NotContains(t, strings.Split(buf.String(), "\n")[1], "user_id")
}

func TestLog_LevelFiltering(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  int
	}{
		{DEBUG, 4},
		{INFO, 3},
		{WARN, 2},
		{ERROR, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			l, buf := newTestLogger(t)
			l.SetLevel(tt.level)

			l.Debug("", "", "d", nil)
			l.Info("", "", "i", nil)
			l.Warn("", "", "w", nil)
			l.Error("", "", "e", nil)

			assert.Len(t, decodeLines(t, buf), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warn "))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestHelpers_DoNotMutateCallerFields(t *testing.T) {
	l, buf := newTestLogger(t)
	fields := map[string]interface{}{"algorithm": "smart"}

	l.InfoWithDuration("u", "r", "done", 12.5, fields)
	l.ErrorWithCode("u", "r", "failed", 502, errors.New("bad gateway"), fields)

	assert.Equal(t, map[string]interface{}{"algorithm": "smart"}, fields)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, 12.5, entries[0].Fields["duration_ms"])
	assert.Equal(t, float64(502), entries[1].Fields["status_code"])
	assert.Equal(t, "bad gateway", entries[1].Fields["error"])
	assert.Equal(t, "smart", entries[1].Fields["algorithm"])
}
