package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sheetmail/internal/app"
	"sheetmail/internal/storage"
)

func newGroupsCommand(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List workbook groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopCommandEnd) }()
			groups, err := a.Launcher().Groups()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), groups)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tNAME\tFROM\tRECIPIENTS\tTEMPLATES")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", g.ID, g.DisplayName, g.FromAddress, g.Recipients, len(g.Templates))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTemplatesCommand(flags *rootFlags) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List templates visible to a group (shared ones when no group is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopCommandEnd) }()
			for _, n := range a.Launcher().Library().List(group) {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "group id")
	return cmd
}

func newHistoryCommand(flags *rootFlags) *cobra.Command {
	var (
		f      storage.Filter
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopCommandEnd) }()
			if a.Store() == nil {
				return storage.ErrDisabled
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			f.WithOutcomes = asJSON
			runs, err := a.Store().ListRuns(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINISHED\tGROUP\tTEMPLATE\tSTATE\tSENT\tREJECTED\tTOTAL\tREASON")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.FinishedAt.Local().Format(time.DateTime), r.GroupID, r.Template, r.State, r.Sent, r.Rejected, r.Total, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&f.GroupID, "group", "g", "", "only this group")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", storage.DefaultListLimit, "max runs")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs finished within this window (e.g. 24h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON including outcomes")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
