// Package notionexport mirrors weekly receipt totals into a Notion database.
package notionexport

import (
	"context"
	"fmt"

	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/jomei/notionapi"
)

// queryPageSize is the Notion maximum.
const queryPageSize = 100

// SyncStats counts what a sync did.
type SyncStats struct {
	Created int
	Updated int
	Failed  int
}

// SyncWeek upserts the page for one week.
func SyncWeek(ctx context.Context, notionClient NotionService, notionDBID string, ws WeekSummary, dryRun bool) (SyncStats, error) {
	return SyncWeeks(ctx, notionClient, notionDBID, []WeekSummary{ws}, dryRun)
}

// SyncWeeks upserts one page per week, matching existing pages on the Week title.
// A failing page is counted and logged; the remaining weeks are still synced.
func SyncWeeks(ctx context.Context, notionClient NotionService, notionDBID string, weeks []WeekSummary, dryRun bool) (SyncStats, error) {
	log := logger.FromContext(ctx)
	var stats SyncStats

	log.Info().
		Int("weeks", len(weeks)).
		Bool("dry_run", dryRun).
		Msg("Starting week sync to Notion")

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return stats, fmt.Errorf("failed to query Notion pages: %w", err)
	}

	existing := make(map[string]string, len(pages))
	for _, page := range pages {
		if week := extractWeek(page); week != "" {
			existing[week] = string(page.ID)
		}
	}

	for _, ws := range weeks {
		week := ws.Week.String()
		props := WeekToNotionProperties(ws)
		pageID, found := existing[week]

		if dryRun {
			log.Info().
				Str("calendar_week", week).
				Bool("exists", found).
				Msg("[DRY RUN] Would upsert Notion page")
			if found {
				stats.Updated++
			} else {
				stats.Created++
			}
			continue
		}

		if found {
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("calendar_week", week).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			log.Info().Str("calendar_week", week).Str("page_id", pageID).Msg("Updated Notion page")
			stats.Updated++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("calendar_week", week).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		existing[week] = string(page.ID)
		log.Info().Str("calendar_week", week).Str("page_id", string(page.ID)).Msg("Created Notion page")
		stats.Created++
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Week sync completed")

	return stats, nil
}

func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: queryPageSize,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
