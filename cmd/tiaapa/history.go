package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tiaapa/internal/history"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived chat sessions",
		Long:  "Lists and replays sessions archived in the history database. Enable archiving with 'tiaapa config set history.enabled true'.",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if limit <= 0 {
				limit = cfg.History.ListLimit
			}
			sessions, err := store.ListSessions(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No archived sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of sessions (default: history.listLimit)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.NewSQLiteStore(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.GetMessages(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get messages: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("no messages for session %s", args[0])
			}

			out := cmd.OutOrStdout()
			for _, r := range records {
				content, err := history.DecodeContent(r)
				if err != nil {
					logger.Warn("skipping unreadable message", "id", r.ID, "err", err)
					continue
				}
				fmt.Fprintf(out, "[%s] %s\n%s\n\n", r.CreatedAt.Local().Format("15:04"), strings.ToUpper(r.Role), content.Plain())
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
