package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaiwa0/kaiwa/internal/codec"
	"github.com/kaiwa0/kaiwa/session"
)

// NewSessionsCmd creates the sessions command (factory pattern)
func NewSessionsCmd(store *session.Store) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean up stored conversations",
	}

	sessionsCmd.AddCommand(
		newSessionsListCmd(store),
		newSessionsShowCmd(store),
		newSessionsSearchCmd(store),
		newSessionsDeleteCmd(store),
	)
	return sessionsCmd
}

func newSessionsListCmd(store *session.Store) *cobra.Command {
	var (
		agentID  string
		userID   string
		allUsers bool
		asc      bool
		limit    int32
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !allUsers && userID == "" {
				return fmt.Errorf("either --user or --all-users is required")
			}
			return runSessionsList(cmd.Context(), store, agentID, userID, allUsers,
				session.ListOptions{Limit: limit, Ascending: asc})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "list across every user of the agent")
	cmd.Flags().BoolVar(&asc, "asc", false, "oldest first")
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum sessions to list")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func runSessionsList(ctx context.Context, store *session.Store, agentID, userID string, allUsers bool, opts session.ListOptions) error {
	var (
		sessions []*session.Session
		err      error
	)
	if allUsers {
		sessions, err = store.ListAllSessions(ctx, agentID, opts)
	} else {
		sessions, err = store.ListSessions(ctx, agentID, userID, opts)
	}
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	printSessionTable(sessions)
	return nil
}

func newSessionsShowCmd(store *session.Store) *cobra.Command {
	var (
		agentID    string
		userID     string
		eventLimit int32
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its latest events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), store, agentID, userID, args[0], eventLimit)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().Int32Var(&eventLimit, "events", 10, "latest events to print (0 for none)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runSessionsShow(ctx context.Context, store *session.Store, agentID, userID, sessionID string, eventLimit int32) error {
	sess, err := store.GetSession(ctx, agentID, userID, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	fmt.Printf("Session: %s\n", sess.SessionID)
	fmt.Printf("Agent:   %s\n", sess.AgentID)
	fmt.Printf("User:    %s\n", sess.UserID)
	fmt.Printf("Created: %s\n", formatTime(sess.CreatedAt))
	fmt.Printf("Updated: %s\n", formatTime(sess.UpdatedAt))
	fmt.Printf("Version: %d\n", sess.Version)
	if sess.IsPinned {
		fmt.Println("Pinned:  yes")
	}
	if sess.Framework != "" {
		fmt.Printf("Framework: %s\n", sess.Framework)
	}
	if len(sess.Labels) > 0 {
		fmt.Printf("Labels:  %s\n", strings.Join(sess.Labels, ", "))
	}
	if sess.Summary != "" {
		fmt.Printf("Summary: %s\n", sess.Summary)
	}

	if eventLimit <= 0 {
		return nil
	}

	events, err := store.GetRecentEvents(ctx, agentID, userID, sessionID, eventLimit)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("\nNo events.")
		return nil
	}

	fmt.Printf("\nLatest %d events:\n", len(events))
	for _, ev := range events {
		fmt.Printf("  #%-4d %-19s %-12s %s\n",
			ev.SeqID,
			formatTime(ev.CreatedAt),
			ev.Type,
			truncate(contentPreview(ev.Content), 64),
		)
	}
	return nil
}

func newSessionsSearchCmd(store *session.Store) *cobra.Command {
	var (
		agentID   string
		userID    string
		query     string
		label     string
		framework string
		pinned    bool
		limit     int32
		offset    int32
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search sessions via the search index",
		Long: `Searches the session search index. The index is eventually consistent,
so recent writes can take a few seconds to show up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := session.SearchFilter{
				UserID:         userID,
				SummaryKeyword: query,
				Label:          label,
				Framework:      framework,
				Limit:          limit,
				Offset:         offset,
			}
			if cmd.Flags().Changed("pinned") {
				filter.IsPinned = &pinned
			}
			return runSessionsSearch(cmd.Context(), store, agentID, filter)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "restrict to one user")
	cmd.Flags().StringVar(&query, "query", "", "full-text match on the summary")
	cmd.Flags().StringVar(&label, "label", "", "exact label match")
	cmd.Flags().StringVar(&framework, "framework", "", "exact framework match")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "filter on the pinned flag")
	cmd.Flags().Int32Var(&limit, "limit", 20, "page size")
	cmd.Flags().Int32Var(&offset, "offset", 0, "hits to skip")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func runSessionsSearch(ctx context.Context, store *session.Store, agentID string, filter session.SearchFilter) error {
	sessions, total, err := store.SearchSessions(ctx, agentID, filter)
	if err != nil {
		return fmt.Errorf("search sessions: %w", err)
	}

	if total == 0 {
		fmt.Println("No matches.")
		return nil
	}
	fmt.Printf("%d of %d matches:\n", len(sessions), total)
	printSessionTable(sessions)
	return nil
}

func newSessionsDeleteCmd(store *session.Store) *cobra.Command {
	var (
		agentID string
		userID  string
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session, its events and its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			return runSessionsDelete(cmd.Context(), store, agentID, userID, args[0])
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the delete")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runSessionsDelete(ctx context.Context, store *session.Store, agentID, userID, sessionID string) error {
	if err := store.DeleteSession(ctx, agentID, userID, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("Session %s deleted.\n", sessionID)
	return nil
}

func printSessionTable(sessions []*session.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUSER\tUPDATED\tFRAMEWORK\tLABELS\tSUMMARY")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SessionID,
			s.UserID,
			formatTime(s.UpdatedAt),
			s.Framework,
			strings.Join(s.Labels, ","),
			truncate(s.Summary, 48),
		)
	}
	w.Flush()
}

// formatTime renders an epoch-nanosecond timestamp relative to now, the
// way humans scan a session list.
func formatTime(ns int64) string {
	if ns == 0 {
		return "-"
	}
	t := time.Unix(0, ns)
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// truncate shortens s to max runes, flattening newlines first.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func contentPreview(content map[string]any) string {
	if len(content) == 0 {
		return "{}"
	}
	enc, err := codec.Encode(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return enc
}
