package format

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/parseqri/parseqri/internal/pipeline"
)

const (
	maxBarCategories = 12
	maxPieCategories = 6
)

var (
	timeColumnPattern       = regexp.MustCompile(`(^|_)(date|time|timestamp|day|week|month|quarter|year|period|dt|ts)s?($|_)`)
	proportionColumnPattern = regexp.MustCompile(`(percent|pct|share|ratio|proportion|fraction)`)
	timeLayouts             = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006-01", "2006/01/02", "Jan 2006", "January 2006"}
)

// ChooseChart picks a chart shape from the result alone: a time axis with a
// numeric series is a line, a small set of categories with one numeric value
// is a bar, or a pie when the values read as parts of a whole.
func ChooseChart(rs pipeline.ResultSet) pipeline.ChartHint {
	if len(rs.Rows) == 0 || len(rs.Columns) < 2 {
		return pipeline.ChartNone
	}

	var timeCol, catCol, numCol string
	for _, col := range rs.Columns {
		switch {
		case isNumericColumn(rs, col) && !(isTimeColumnName(col) && looksLikeYears(rs, col)):
			if numCol == "" {
				numCol = col
			}
		case isTimeColumn(rs, col):
			if timeCol == "" {
				timeCol = col
			}
		default:
			if catCol == "" {
				catCol = col
			}
		}
	}
	if numCol == "" {
		return pipeline.ChartNone
	}
	if timeCol != "" {
		return pipeline.ChartLine
	}
	if catCol == "" || len(rs.Columns) != 2 {
		return pipeline.ChartNone
	}

	categories := distinct(rs, catCol)
	if categories <= maxPieCategories && isProportion(rs, numCol) {
		return pipeline.ChartPie
	}
	if categories <= maxBarCategories {
		return pipeline.ChartBar
	}
	return pipeline.ChartNone
}

func isNumericColumn(rs pipeline.ResultSet, col string) bool {
	seen := false
	for _, row := range rs.Rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if _, ok := toFloat(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func isTimeColumnName(col string) bool {
	return timeColumnPattern.MatchString(strings.ToLower(col))
}

// looksLikeYears reports integer values in a plausible calendar range, as
// EXTRACT(YEAR ...) produces.
func looksLikeYears(rs pipeline.ResultSet, col string) bool {
	for _, row := range rs.Rows {
		f, ok := toFloat(row[col])
		if !ok || f != math.Trunc(f) || f < 1900 || f > 2200 {
			return false
		}
	}
	return true
}

func isTimeColumn(rs pipeline.ResultSet, col string) bool {
	if isTimeColumnName(col) {
		return true
	}
	seen := false
	for _, row := range rs.Rows {
		v := row[col]
		if v == nil {
			continue
		}
		switch typed := v.(type) {
		case time.Time:
		case string:
			if !parsesAsTime(typed) {
				return false
			}
		default:
			return false
		}
		seen = true
	}
	return seen
}

func parsesAsTime(value string) bool {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func isProportion(rs pipeline.ResultSet, col string) bool {
	var sum float64
	for _, row := range rs.Rows {
		f, ok := toFloat(row[col])
		if !ok || f < 0 {
			return false
		}
		sum += f
	}
	if proportionColumnPattern.MatchString(strings.ToLower(col)) {
		return true
	}
	return math.Abs(sum-1) < 0.01 || math.Abs(sum-100) < 0.5
}

func distinct(rs pipeline.ResultSet, col string) int {
	seen := map[string]struct{}{}
	for _, row := range rs.Rows {
		seen[fmt.Sprint(row[col])] = struct{}{}
	}
	return len(seen)
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
