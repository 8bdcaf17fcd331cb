// Package sqlexec validates generated SQL and runs it against an in-memory
// copy of the dataset snapshot.
package sqlexec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotReadOnly is returned for anything other than a single SELECT/WITH
// statement.
var ErrNotReadOnly = errors.New("only read-only SELECT queries are allowed")

var (
	forbiddenRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|REPLACE\s+INTO|TRUNCATE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX|GRANT|REVOKE|MERGE)\b`)
	fenceRe     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
)

// mask blanks comments and the contents of quoted strings and identifiers
// so keyword checks only see SQL structure. Comments become a single space.
func mask(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '-' && i+1 < len(q) && q[i+1] == '-':
			for i < len(q) && q[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
			if i < len(q) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(q) && q[i+1] == '*':
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				i = len(q)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			b.WriteByte(c)
			i++
			for i < len(q) {
				if q[i] == closer {
					// doubled quote is an escaped quote
					if closer != ']' && i+1 < len(q) && q[i+1] == closer {
						b.WriteString("  ")
						i += 2
						continue
					}
					break
				}
				b.WriteByte(' ')
				i++
			}
			if i < len(q) {
				b.WriteByte(closer)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Validate accepts exactly one SELECT or WITH statement. Comments and a
// trailing semicolon are tolerated.
func Validate(query string) error {
	m := strings.TrimSpace(mask(query))
	m = strings.TrimSpace(strings.TrimRight(m, "; \t\r\n"))
	if m == "" {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}
	if strings.Contains(m, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	first := strings.ToUpper(strings.Fields(m)[0])
	first = strings.TrimLeft(first, "(")
	if !strings.HasPrefix(first, "SELECT") && !strings.HasPrefix(first, "WITH") {
		return fmt.Errorf("%w: statement starts with %s", ErrNotReadOnly, first)
	}
	if kw := forbiddenRe.FindString(m); kw != "" {
		return fmt.Errorf("%w: %s is not permitted", ErrNotReadOnly, strings.ToUpper(strings.Fields(kw)[0]))
	}
	return nil
}

// StripFences returns the body of the first markdown code fence in text, or
// the trimmed text when there is none. A trailing semicolon is removed.
func StripFences(text string) string {
	s := text
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		s = m[1]
	} else {
		s = strings.ReplaceAll(s, "```", "")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimRight(s, ";"))
}
