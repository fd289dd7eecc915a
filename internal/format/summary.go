package format

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/parseqri/parseqri/internal/pipeline"
)

// longest first so "show me all" wins over "show me"
var leadingPhrases = []string{
	"can you show me all", "can you show me", "please show me all", "please show me",
	"show me all the", "show me all", "show me the", "show me", "give me all", "give me",
	"list all the", "list all", "list the", "list", "find all the", "find all", "find the", "find",
	"get all the", "get all", "get the", "get", "what are the", "what are", "which are the", "which",
	"display all", "display",
}

// Summarize describes rs in one sentence without calling a model.
func Summarize(question string, rs pipeline.ResultSet) string {
	if len(rs.Rows) == 1 && len(rs.Columns) == 1 {
		col := rs.Columns[0]
		return fmt.Sprintf("The %s is %s.", humanize(col), formatValue(rs.Rows[0][col]))
	}
	subject := Subject(question)
	if subject == "" {
		return fmt.Sprintf("Found %d rows.", len(rs.Rows))
	}
	return fmt.Sprintf("Found %d %s.", len(rs.Rows), subject)
}

// Subject strips request phrasing from a question: "Show me all customers
// from Japan?" becomes "customers from Japan".
func Subject(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	q = strings.TrimRight(q, "?.! ")
	lower := strings.ToLower(q)
	for _, phrase := range leadingPhrases {
		if lower == phrase {
			return ""
		}
		if strings.HasPrefix(lower, phrase+" ") {
			q = q[len(phrase)+1:]
			break
		}
	}
	q = strings.TrimSpace(q)
	r, size := utf8.DecodeRuneInString(q)
	if size == 0 {
		return ""
	}
	next, _ := utf8.DecodeRuneInString(q[size:])
	if unicode.IsUpper(r) && !unicode.IsUpper(next) {
		q = string(unicode.ToLower(r)) + q[size:]
	}
	return q
}

func humanize(column string) string {
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(column)))
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "empty"
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%.2f", typed)
	case float32:
		return formatValue(float64(typed))
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}
