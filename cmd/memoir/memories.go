package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-memoir/pkg/live/tools"
	"github.com/vango-go/vai-memoir/pkg/memory"
)

func newMemoriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "memories",
		Aliases: []string{"mem"},
		Short:   "Inspect and edit the memory store for session.user_id",
	}
	cmd.AddCommand(
		newMemoriesListCmd(a),
		newMemoriesSearchCmd(a),
		newMemoriesShowCmd(a),
		newMemoriesAddCmd(a),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(memory.Store, string) error) error {
	userID := a.cfg.Session.UserID
	if userID == "" {
		return errors.New("session.user_id is required")
	}
	store, closeStore, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()
	return fn(store, userID)
}

func newMemoriesListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s memory.Store, userID string) error {
				recs, err := s.Search(cmd.Context(), userID, memory.Query{Limit: limit})
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of memories")
	return cmd
}

func newMemoriesSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search memories by title or content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return a.withStore(cmd.Context(), func(s memory.Store, userID string) error {
				recs, err := s.Search(cmd.Context(), userID, memory.Query{Text: text, Limit: limit})
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultSearchLimit, "maximum number of memories")
	return cmd
}

func newMemoriesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s memory.Store, userID string) error {
				rec, err := s.Get(cmd.Context(), userID, args[0])
				if errors.Is(err, memory.ErrNotFound) {
					return fmt.Errorf("no memory with id %q", args[0])
				}
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func newMemoriesAddCmd(a *app) *cobra.Command {
	var (
		title, content, date, location string
		tags                           []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(title) == "" {
				return errors.New("--title is required")
			}
			if strings.TrimSpace(content) == "" {
				return errors.New("--content is required")
			}
			rec := memory.Record{Title: title, Content: content, Tags: tags}
			if date != "" {
				rec.OccurredOn = tools.NormalizeDate(date)
				if rec.OccurredOn == nil {
					return fmt.Errorf("cannot read a date from %q", date)
				}
			}
			if location != "" {
				rec.Location = &location
			}
			return a.withStore(cmd.Context(), func(s memory.Store, userID string) error {
				rec.UserID = userID
				saved, err := s.Create(cmd.Context(), rec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "memory title")
	cmd.Flags().StringVar(&content, "content", "", "memory content")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	cmd.Flags().StringVar(&date, "date", "", "when it happened (2019-06-14, June 2019, 2019)")
	cmd.Flags().StringVar(&location, "location", "", "where it happened")
	return cmd
}

func printRecords(w io.Writer, recs []memory.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no memories")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTITLE\tTAGS")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, dateOrDash(rec), rec.Title, strings.Join(rec.Tags, ","))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, rec memory.Record) {
	location := "-"
	if rec.Location != nil {
		location = *rec.Location
	}
	fmt.Fprintf(w, "ID:       %s\n", rec.ID)
	fmt.Fprintf(w, "Title:    %s\n", rec.Title)
	fmt.Fprintf(w, "Date:     %s\n", dateOrDash(rec))
	fmt.Fprintf(w, "Location: %s\n", location)
	fmt.Fprintf(w, "Tags:     %s\n", strings.Join(rec.Tags, ", "))
	fmt.Fprintf(w, "Created:  %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(w, "\n%s\n", rec.Content)
}

func dateOrDash(rec memory.Record) string {
	if rec.OccurredOn == nil {
		return "-"
	}
	return rec.OccurredOn.String()
}
