package cmd

import (
	"io"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		ns   int64
		want string
	}{
		{"zero value", 0, "-"},
		{"seconds ago", now.Add(-30 * time.Second).UnixNano(), "just now"},
		{"minutes ago", now.Add(-5*time.Minute - 10*time.Second).UnixNano(), "5 minutes ago"},
		{"hours ago", now.Add(-3*time.Hour - time.Minute).UnixNano(), "3 hours ago"},
		{"days ago", now.Add(-49 * time.Hour).UnixNano(), "2 days ago"},
		{
			"older than a week",
			time.Date(2023, 5, 1, 9, 30, 0, 0, time.Local).UnixNano(),
			"2023-05-01 09:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTime(tt.ns))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short passthrough", "hello", 10, "hello"},
		{"exact length passthrough", "hello", 5, "hello"},
		{"long string gets ellipsis", "hello world", 8, "hello w…"},
		{"newlines flattened", "a\nb\nc", 10, "a b c"},
		{"multibyte runes", "日本語のテキストです", 5, "日本語の…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), tt.max)
		})
	}
}

func TestContentPreview(t *testing.T) {
	assert.Equal(t, "{}", contentPreview(nil))
	assert.Equal(t, "{}", contentPreview(map[string]any{}))
	assert.Equal(t, `{"role":"user"}`, contentPreview(map[string]any{"role": "user"}))
}

func TestNewSessionsCmd(t *testing.T) {
	cmd := NewSessionsCmd(nil)

	require.NotNil(t, cmd)
	assert.Equal(t, "sessions", cmd.Use)

	names := make(map[string]*cobra.Command)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = sub
	}
	require.Contains(t, names, "list")
	require.Contains(t, names, "show")
	require.Contains(t, names, "search")
	require.Contains(t, names, "delete")

	assert.Equal(t, "50", names["list"].Flags().Lookup("limit").DefValue)
	assert.Equal(t, "10", names["show"].Flags().Lookup("events").DefValue)
	assert.Equal(t, "20", names["search"].Flags().Lookup("limit").DefValue)
}

func TestSessionsListRequiresUserScope(t *testing.T) {
	cmd := newSessionsListCmd(nil)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--agent", "weather"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either --user or --all-users is required")
}

func TestSessionsDeleteRequiresConfirmation(t *testing.T) {
	cmd := newSessionsDeleteCmd(nil)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--agent", "weather", "--user", "u1", "s1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to delete without --yes")
}
