package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nanobot/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sessionsShowLimit int
	sessionsMaxAge    time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <key>",
	Short: "Drop all messages of a session but keep it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsClear,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a session file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions idle longer than --max-age",
	Args:  cobra.NoArgs,
	RunE:  runSessionsPrune,
}

func init() {
	sessionsShowCmd.Flags().IntVarP(&sessionsShowLimit, "limit", "n", 0, "show only the last n messages")
	sessionsPruneCmd.Flags().DurationVar(&sessionsMaxAge, "max-age", session.DefaultPruneAge, "idle age after which a session is deleted")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionManager() (*session.Manager, error) {
	return session.NewManager(appConfig.SessionsDir())
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	mgr, err := sessionManager()
	if err != nil {
		return err
	}
	infos, err := mgr.ListSessions()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No sessions")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%-40s updated %s\n", info.Key, info.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	mgr, err := sessionManager()
	if err != nil {
		return err
	}
	s, err := mgr.Load(args[0])
	if err != nil {
		return sessionError(args[0], err)
	}

	out := cmd.OutOrStdout()
	msgs := s.Messages
	if sessionsShowLimit > 0 && len(msgs) > sessionsShowLimit {
		msgs = msgs[len(msgs)-sessionsShowLimit:]
	}
	fmt.Fprintf(out, "Session %s (%d messages)\n", s.Key, len(s.Messages))
	for _, m := range msgs {
		fmt.Fprintf(out, "\n[%s] %s\n%s\n", m.Timestamp.Local().Format(time.DateTime), m.Role, strings.TrimSpace(m.Content))
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	mgr, err := sessionManager()
	if err != nil {
		return err
	}
	s, err := mgr.Load(args[0])
	if err != nil {
		return sessionError(args[0], err)
	}
	s.Clear()
	if err := mgr.Save(s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", args[0])
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	mgr, err := sessionManager()
	if err != nil {
		return err
	}
	existed, err := mgr.Delete(args[0])
	if err != nil {
		return err
	}
	if !existed {
		return sessionError(args[0], session.ErrNotFound)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsPrune(cmd *cobra.Command, _ []string) error {
	mgr, err := sessionManager()
	if err != nil {
		return err
	}
	deleted, err := mgr.Prune(sessionsMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d session(s)\n", len(deleted))
	return nil
}

func sessionError(key string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("session %q not found", key)
	}
	return fmt.Errorf("failed to load session %q: %w", key, err)
}
