package scenario

import (
	"fmt"
	"strings"
)

// SplitArgs splits a command-line string into arguments. Whitespace
// separates arguments except inside single or double quotes. Outside
// single quotes a backslash escapes a following quote, backslash or
// whitespace character; any other backslash is kept literally, so
// patterns such as `\d+` pass through unchanged.
func SplitArgs(s string) ([]string, error) {
	args := []string{}
	var cur strings.Builder
	inArg := false
	var quote rune
	rs := []rune(s)

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\\' && quote != '\'':
			inArg = true
			if i+1 < len(rs) && escapable(rs[i+1]) {
				i++
				r = rs[i]
			}
			cur.WriteRune(r)
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case isSpace(r):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return args, fmt.Errorf("unterminated %c quote in %q", quote, s)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

func escapable(r rune) bool {
	return r == '"' || r == '\'' || r == '\\' || isSpace(r)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// JoinArgs renders args back into a single line, quoting where needed.
func JoinArgs(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\") {
			a = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a) + `"`
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
