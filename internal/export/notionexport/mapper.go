package notionexport

import (
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names in the weekly summary database.
const (
	PropWeek       = "Week"
	PropFood       = "Food"
	PropNonFood    = "NonFood"
	PropTotal      = "Total"
	PropReceipts   = "Receipts"
	PropAnalyzedAt = "Analyzed At"
)

// WeekSummary is what gets written to one Notion page.
type WeekSummary struct {
	Week       domain.WeekID
	Summary    domain.Summary
	AnalyzedAt time.Time
}

// WeekToNotionProperties converts a week summary to Notion page properties.
func WeekToNotionProperties(ws WeekSummary) notionapi.Properties {
	props := notionapi.Properties{
		PropWeek: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: ws.Week.String(),
					},
				},
			},
		},
		PropFood: notionapi.NumberProperty{
			Number: ws.Summary.TotalFood.Round(2).InexactFloat64(),
		},
		PropNonFood: notionapi.NumberProperty{
			Number: ws.Summary.TotalNonFood.Round(2).InexactFloat64(),
		},
		PropTotal: notionapi.NumberProperty{
			Number: ws.Summary.GrandTotal().Round(2).InexactFloat64(),
		},
		PropReceipts: notionapi.NumberProperty{
			Number: float64(ws.Summary.TotalReceipts),
		},
	}

	if !ws.AnalyzedAt.IsZero() {
		analyzed := ws.AnalyzedAt.UTC()
		props[PropAnalyzedAt] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: (*notionapi.Date)(&analyzed),
			},
		}
	}

	return props
}

// extractWeek reads the title of a page returned by a database query.
func extractWeek(page notionapi.Page) string {
	if prop, ok := page.Properties[PropWeek]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
