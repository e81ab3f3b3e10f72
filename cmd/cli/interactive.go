package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/app"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/dvloznov/receipt-ledger/internal/pipeline"
	"github.com/rs/zerolog"
)

var errNoWeeks = errors.New("no week folders found")

func runInteractive(log zerolog.Logger) {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	force := fs.Bool("force", false, "Re-analyze photos already present in the ledger")
	fs.Parse(os.Args[2:])

	a, log := setup(log, app.Options{Inference: true, Events: true, History: true})
	defer a.Close()

	ctx := logger.WithContext(context.Background(), log)

	weeks, err := a.Catalog.ListWeeks(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list weeks")
	}

	week, err := selectWeek(os.Stdin, os.Stdout, weeks)
	if err != nil {
		log.Fatal().Err(err).Msg("No week selected")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	fmt.Printf("\nAnalyzing %s...\n", week)
	result, err := a.Analyzer.Analyze(ctx, week, pipeline.Options{Force: *force})
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	printResult(os.Stdout, result)
}

// selectWeek prompts until the answer is a list number or a listed week id.
func selectWeek(in io.Reader, out io.Writer, weeks []domain.WeekID) (domain.WeekID, error) {
	if len(weeks) == 0 {
		return "", errNoWeeks
	}

	fmt.Fprintln(out, "Available calendar weeks:")
	for i, w := range weeks {
		fmt.Fprintf(out, "  %2d) %s\n", i+1, w)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Select a week (number or id): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}

		answer := strings.TrimSpace(scanner.Text())
		if n, err := strconv.Atoi(answer); err == nil {
			if n >= 1 && n <= len(weeks) {
				return weeks[n-1], nil
			}
			fmt.Fprintf(out, "Please enter a number between 1 and %d.\n", len(weeks))
			continue
		}

		for _, w := range weeks {
			if string(w) == answer {
				return w, nil
			}
		}
		fmt.Fprintf(out, "Unknown week %q.\n", answer)
	}
}
