package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/history"
)

func printResult(w io.Writer, result *domain.AnalysisResult) {
	if !result.Performed() {
		fmt.Fprintf(w, "No analysis performed for %s: %s\n", result.Week, result.Reason)
		return
	}

	fmt.Fprintf(w, "Analysis of %s %s (run %s)\n", result.Week, result.Status, result.RunID)
	fmt.Fprintf(w, "  Images:    %d\n", result.Images)
	fmt.Fprintf(w, "  Processed: %d\n", result.Processed)
	fmt.Fprintf(w, "  Skipped:   %d\n", len(result.Skipped))
	fmt.Fprintf(w, "  Failed:    %d\n", len(result.Failures))
	for _, f := range result.Failures {
		fmt.Fprintf(w, "    %s (%s): %v\n", f.File, f.Stage, f.Err)
	}
	printSummary(w, result.Week, result.Summary)
}

func printSummary(w io.Writer, week domain.WeekID, s domain.Summary) {
	fmt.Fprintf(w, "\n=== Summary %s ===\n", week)
	fmt.Fprintf(w, "Receipts:  %d\n", s.TotalReceipts)
	fmt.Fprintf(w, "Food:      %s EUR\n", s.TotalFood.StringFixed(2))
	fmt.Fprintf(w, "Non-Food:  %s EUR\n", s.TotalNonFood.StringFixed(2))
	fmt.Fprintf(w, "Total:     %s EUR\n", s.GrandTotal().StringFixed(2))
	if s.Warnings > 0 {
		fmt.Fprintf(w, "Warnings:  %d unreadable row(s) skipped\n", s.Warnings)
	}
}

func printLedger(w io.Writer, l *domain.Ledger) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATUM\tUHRZEIT\tFOOD\tNON-FOOD\tFOTO")
	for _, r := range l.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Date, r.Time,
			r.FoodTotal.Decimal().StringFixed(2),
			r.NonFoodTotal.Decimal().StringFixed(2),
			r.SourceFile)
	}
	tw.Flush()
}

func printWeeks(w io.Writer, entries []domain.CatalogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No week folders found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WEEK\tFILES\tSTATUS\tLAST ANALYSIS")
	for _, e := range entries {
		last := "-"
		if e.LastAnalysis != nil {
			last = e.LastAnalysis.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Week, e.FileCount, e.Status, last)
	}
	tw.Flush()
}

func printRuns(w io.Writer, week domain.WeekID, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded for %s.\n", week)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tIMAGES\tPROCESSED\tSKIPPED\tFAILED\tTOTAL\tRUN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Status,
			r.Images, r.Processed, r.Skipped, r.Failed,
			r.TotalFood.Add(r.TotalNonFood).StringFixed(2), r.ID)
	}
	tw.Flush()
}
