package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/govrag/govrag/internal/config"
	"github.com/govrag/govrag/internal/session"
)

func newSessionsCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show, or delete chat sessions",
		Long: `List, show, or delete persisted chat sessions (internal/session.Store).

Examples:
  govrag sessions list
  govrag sessions show <session-id>
  govrag sessions delete <session-id>`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd, configDir)
		},
	}
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "project directory to load .govrag.yaml from")

	cmd.AddCommand(newSessionsListCmd(&configDir))
	cmd.AddCommand(newSessionsShowCmd(&configDir))
	cmd.AddCommand(newSessionsDeleteCmd(&configDir))

	return cmd
}

func newSessionsListCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd, *configDir)
		},
	}
}

func newSessionsShowCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show a session's turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore(*configDir)
			if err != nil {
				return err
			}
			sess, err := store.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "TURN\tROLE\tCONTENT\n")
			for _, t := range sess.Turns {
				content := t.Content
				if len(content) > 80 {
					content = content[:80] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.TurnID, t.Role, content)
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Delete a session and its persisted file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSessionStore(*configDir)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", args[0])
			return nil
		},
	}
}

func runSessionsList(cmd *cobra.Command, configDir string) error {
	store, err := openSessionStore(configDir)
	if err != nil {
		return err
	}
	infos, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "SESSION_ID\tTITLE\tTURNS\tUPDATED\n")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.SessionID, info.Title, info.TurnCount, info.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func openSessionStore(configDir string) (*session.Store, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return session.NewStore(session.Config{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
}
