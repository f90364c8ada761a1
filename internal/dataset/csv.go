package dataset

import (
	"fmt"
	"strings"

	"btc-feature-lab/internal/domain"
	"btc-feature-lab/internal/features"
)

// RenderCSV renders feature rows as a CSV training table. Null feature
// cells render empty, which pandas and friends read as NaN. When labels
// are included every row is expected to have one; filterRows guarantees
// that.
func RenderCSV(rows []*domain.EnrichedFeatureRow, labels map[int64]Label, cfg Config) string {
	var sb strings.Builder

	// Header
	sb.WriteString(strings.Join(columnList(cfg), ","))
	sb.WriteString("\n")

	// Rows
	nullable := features.NullableColumns()
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%d,%.6f,%s,%d,%d,%d,%d",
			row.TimestampMs,
			row.Price,
			row.Source,
			row.MinuteOfHour,
			row.HourOfDay,
			row.DayOfWeek,
			row.WeekOfYear,
		))

		values := features.NullableValues(row)
		for _, column := range nullable {
			sb.WriteString(",")
			if v := values[column]; v != nil {
				sb.WriteString(fmt.Sprintf("%.6f", *v))
			}
		}

		if cfg.IncludeLabels {
			label := labels[row.TimestampMs]
			sb.WriteString(fmt.Sprintf(",%.6f,%.8f,%s",
				label.FuturePrice, label.FutureReturn, label.FutureTrend))
		}

		sb.WriteString("\n")
	}

	return sb.String()
}
