package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/erazemk/knjiznica/internal/catalog"
	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/metrics"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// operator is the identity the command line acts as.
var operator = model.Identity{Username: "cli", Role: model.RoleAdmin}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Add books from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			report, err := catalog.Import(cmd.Context(), database, f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %d, skipped %d, rejected %d\n", report.Created, report.Skipped, len(report.Errors))
			for _, e := range report.Errors {
				fmt.Fprintf(out, "  line %d: %s\n", e.Line, e.Message)
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.csv]",
		Short: "Write the catalog as CSV to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := catalog.Export(cmd.Context(), database, w)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d books to %s\n", n, args[0])
			}
			return nil
		},
	}
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale reservations once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			expired, err := a.newManager(database, clock.NewSystem(), metrics.Nop{}).ExpireReservations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d reservations\n", len(expired))
			return nil
		},
	}
}

func (a *app) overdueCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List open loans past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			loans, err := a.newManager(database, clock.NewSystem(), metrics.Nop{}).ListOverdue(cmd.Context(), operator, userID)
			if err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No overdue loans.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BOOK\tBORROWER\tDUE")
			for _, l := range loans {
				fmt.Fprintf(tw, "%s\t%s\t%s (%s)\n", l.BookTitle, l.BorrowerName,
					l.DueAt.Format("2006-01-02"), humanize.Time(l.DueAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "only this borrower")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print circulation statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			s, err := store.GetStats(cmd.Context(), database, clock.NewSystem().Now())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			rows := []struct {
				label string
				value int
			}{
				{"Books", s.TotalBooks},
				{"Copies", s.TotalCopies},
				{"Available copies", s.AvailableCopies},
				{"Active loans", s.ActiveLoans},
				{"Overdue loans", s.OverdueLoans},
				{"Active reservations", s.ActiveReservations},
				{"Checkouts this month", s.CheckoutsThisMonth},
				{"Returns this month", s.ReturnsThisMonth},
				{"Users", s.TotalUsers},
			}
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\n", r.label, humanize.Comma(int64(r.value)))
			}
			if s.MostPopularBook != nil {
				fmt.Fprintf(tw, "Most popular book\t%s (%s loans)\n", s.MostPopularBook.Name, humanize.Comma(int64(s.MostPopularBook.Count)))
			}
			if s.MostActiveUser != nil {
				fmt.Fprintf(tw, "Most active user\t%s (%s loans)\n", s.MostActiveUser.Name, humanize.Comma(int64(s.MostActiveUser.Count)))
			}
			return tw.Flush()
		},
	}
}
