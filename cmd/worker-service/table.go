package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(title string, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(header)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw
}

func renderStats(stats *domain.QueueStats, now time.Time) string {
	tw := newTable("Queue", table.Row{"Status", "Items"})
	total := 0
	for _, status := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		n := stats.Counts[status]
		total += n
		tw.AppendRow(table.Row{string(status), n})
	}
	tw.AppendFooter(table.Row{"Total", total})
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"oldest pending/processing", formatAge(stats.OldestNonTerminalAge(now))})
	tw.AppendRow(table.Row{"longest processing", formatAge(stats.LongestProcessingAge(now))})
	return tw.Render()
}

func renderKeyValues(title string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := newTable(title, table.Row{"Metric", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, values[k]})
	}
	return tw.Render()
}

func renderUsage(clientID string, counts map[domain.ValidationType]int64) string {
	tw := newTable(fmt.Sprintf("Usage for %s this month", clientID), table.Row{"Validation", "Count"})
	for _, t := range domain.AllValidationTypes {
		tw.AppendRow(table.Row{string(t), counts[t]})
	}
	return tw.Render()
}

func formatAge(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
