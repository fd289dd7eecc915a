package sqlcheck

import (
	"strings"
	"unicode"
)

var sanitizeReplacer = strings.NewReplacer(
	"\uff1b", ";",
	"\u00a0", " ",
	"\u3000", " ",
	"`", "",
)

// Sanitize cleans up model output before validation: markdown fences, stray
// backticks, full-width semicolons and invisible characters are removed and
// only the first statement is kept, without its trailing semicolon.
func Sanitize(sql string) string {
	sql = stripFences(sql)
	sql = sanitizeReplacer.Replace(sql)
	sql = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return r
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, sql)
	sql = strings.TrimLeft(sql, "; \t\r\n")
	return strings.TrimSpace(firstStatement(sql))
}

func stripFences(sql string) string {
	trimmed := strings.TrimSpace(sql)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+3:]
	if len(body) >= 3 && strings.EqualFold(body[:3], "sql") {
		body = body[3:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// firstStatement cuts sql at the first semicolon that is not inside a quoted
// string, quoted identifier or comment.
func firstStatement(sql string) string {
	for i := 0; i < len(sql); i++ {
		switch c := sql[i]; {
		case c == '\'' || c == '"':
			_, next, err := readQuoted(sql, i, c)
			if err != nil {
				return sql
			}
			i = next - 1
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return sql
			}
			i += end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return sql
			}
			i += end + 3
		case c == ';':
			return sql[:i]
		}
	}
	return sql
}
