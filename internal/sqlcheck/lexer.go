package sqlcheck

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// name returns the identifier as written for quoted identifiers and folded
// to lower case otherwise.
func (t token) name() string {
	if t.kind == tokQuotedIdent {
		return t.text
	}
	return strings.ToLower(t.text)
}

func (t token) isIdent() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

func (t token) is(symbol string) bool {
	return t.kind == tokSymbol && t.text == symbol
}

// isKeyword reports whether t is the unquoted keyword kw (lower case).
func (t token) isKeyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

var multiCharSymbols = []string{"::", "<=", ">=", "<>", "!=", "||", "->", "=>", "**"}

func tokenize(sql string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 1
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += end + 4
		case c == '\'':
			text, next, err := readQuoted(sql, i, '\'')
			if err != nil {
				return nil, fmt.Errorf("unterminated string literal at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokString, text: text, pos: i})
			i = next
		case c == '"':
			text, next, err := readQuoted(sql, i, '"')
			if err != nil {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", i)
			}
			if text == "" {
				return nil, fmt.Errorf("empty quoted identifier at offset %d", i)
			}
			tokens = append(tokens, token{kind: tokQuotedIdent, text: text, pos: i})
			i = next
		case isDigit(c) || (c == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			start := i
			for i < len(sql) && (isDigit(sql[i]) || sql[i] == '.' || sql[i] == '_' || sql[i] == 'e' || sql[i] == 'E' ||
				((sql[i] == '+' || sql[i] == '-') && (sql[i-1] == 'e' || sql[i-1] == 'E'))) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: sql[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(sql) && isIdentPart(sql[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: sql[start:i], pos: start})
		default:
			text := string(c)
			for _, sym := range multiCharSymbols {
				if strings.HasPrefix(sql[i:], sym) {
					text = sym
					break
				}
			}
			tokens = append(tokens, token{kind: tokSymbol, text: text, pos: i})
			i += len(text)
		}
	}
	return tokens, nil
}

func readQuoted(sql string, start int, quote byte) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			b.WriteByte(sql[i])
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			b.WriteByte(quote)
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
