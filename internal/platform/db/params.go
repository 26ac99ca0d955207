package db

import (
	"fmt"
	"strconv"
	"strings"
)

// Args carries named query parameters referenced as :name in SQL text.
type Args map[string]any

// Style selects the placeholder syntax a driver expects.
type Style int

const (
	// StyleDollar produces PostgreSQL positional placeholders ($1, $2, ...).
	StyleDollar Style = iota
	// StylePyformat produces %(name)s placeholders.
	StylePyformat
)

// Translate rewrites :name placeholders into the given style. Quoted strings,
// quoted identifiers, line comments and :: casts are copied untouched. The
// returned names list each parameter once, in first-appearance order, which is
// also the positional order for StyleDollar.
//
// The rewrite is lexical: a colon inside any other literal form (for example a
// dollar-quoted body) is treated as a placeholder.
func Translate(query string, style Style) (string, []string) {
	var (
		out   strings.Builder
		names []string
		index = make(map[string]int)
	)
	out.Grow(len(query) + 8)

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(query, i, c)
			out.WriteString(query[i:end])
			i = end - 1
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				out.WriteString(query[i:])
				i = len(query)
				continue
			}
			out.WriteString(query[i : i+end])
			i += end - 1
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			out.WriteString("::")
			i++
		case c == ':' && i+1 < len(query) && isIdentStart(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			pos, seen := index[name]
			if !seen {
				names = append(names, name)
				pos = len(names)
				index[name] = pos
			}
			switch style {
			case StylePyformat:
				out.WriteString("%(")
				out.WriteString(name)
				out.WriteString(")s")
			default:
				out.WriteByte('$')
				out.WriteString(strconv.Itoa(pos))
			}
			i = j - 1
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), names
}

// Bind orders args to match names. A missing parameter is an interface error.
func Bind(names []string, args Args) ([]any, error) {
	if len(names) == 0 {
		return nil, nil
	}
	values := make([]any, len(names))
	for i, name := range names {
		v, ok := args[name]
		if !ok {
			return nil, newError(KindInterface, "bind", fmt.Errorf("missing parameter %q", name))
		}
		values[i] = v
	}
	return values, nil
}

// skipQuoted returns the index just past the quoted run starting at start.
// A doubled quote character is an escaped quote.
func skipQuoted(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
