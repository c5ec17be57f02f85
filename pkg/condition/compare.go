package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/octapusprime/octapus/pkg/scenario"
)

// Comparison tests a measured quantity against a threshold. Numeric
// operators compare integers; the others compare decimal text.
type Comparison struct {
	Op  scenario.Operator
	N   int64
	Raw string
	re  *regexp.Regexp
}

var cmpPrefixRe = regexp.MustCompile(`^\s*(>=|<=|==|!=|>|<|=)?\s*(-?\d+)\s*$`)

var prefixOps = map[string]scenario.Operator{
	"":   scenario.OpEquals,
	"=":  scenario.OpEquals,
	"==": scenario.OpEquals,
	"!=": scenario.OpNotEquals,
	">":  scenario.OpGreater,
	">=": scenario.OpGreaterEqual,
	"<":  scenario.OpLess,
	"<=": scenario.OpLessEqual,
}

// ParseComparison reads "N" or "<op>N". An explicit prefix wins over op;
// a bare number uses op (equals when empty). Text operators take the value
// as-is.
func ParseComparison(value string, op scenario.Operator) (Comparison, error) {
	if m := cmpPrefixRe.FindStringSubmatch(value); m != nil {
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Comparison{}, err
		}
		c := Comparison{Op: op, N: n, Raw: m[2]}
		if m[1] != "" || op == "" {
			c.Op = prefixOps[m[1]]
		}
		return c, c.compile()
	}
	if op == "" || op.Numeric() {
		return Comparison{}, fmt.Errorf("expected an integer or <op>N, got %q", value)
	}
	c := Comparison{Op: op, Raw: strings.TrimSpace(value)}
	return c, c.compile()
}

func (c *Comparison) compile() error {
	if c.Op == scenario.OpRegex || c.Op == scenario.OpNotRegex {
		re, err := regexp.Compile(c.Raw)
		if err != nil {
			return err
		}
		c.re = re
	}
	return nil
}

// Test compares actual against the threshold.
func (c Comparison) Test(actual int64) bool {
	switch c.Op {
	case scenario.OpEquals:
		return actual == c.N
	case scenario.OpNotEquals:
		return actual != c.N
	case scenario.OpGreater:
		return actual > c.N
	case scenario.OpGreaterEqual:
		return actual >= c.N
	case scenario.OpLess:
		return actual < c.N
	case scenario.OpLessEqual:
		return actual <= c.N
	}
	return matchText(c.Op, strconv.FormatInt(actual, 10), c.Raw, c.re)
}

func (c Comparison) String() string {
	if c.Op.Numeric() {
		return c.Op.Symbol() + strconv.FormatInt(c.N, 10)
	}
	return c.Op.Symbol() + " " + c.Raw
}

// matchText applies op to two strings. Ordering operators compare
// numerically when both sides are integers and lexically otherwise.
func matchText(op scenario.Operator, actual, expected string, re *regexp.Regexp) bool {
	switch op {
	case scenario.OpEquals, "":
		return actual == expected
	case scenario.OpNotEquals:
		return actual != expected
	case scenario.OpContains:
		return strings.Contains(actual, expected)
	case scenario.OpNotContains:
		return !strings.Contains(actual, expected)
	case scenario.OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case scenario.OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case scenario.OpRegex:
		return re != nil && re.MatchString(actual)
	case scenario.OpNotRegex:
		return re != nil && !re.MatchString(actual)
	}

	a, errA := strconv.ParseInt(strings.TrimSpace(actual), 10, 64)
	b, errB := strconv.ParseInt(strings.TrimSpace(expected), 10, 64)
	cmp := strings.Compare(actual, expected)
	if errA == nil && errB == nil {
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		default:
			cmp = 0
		}
	}
	switch op {
	case scenario.OpGreater:
		return cmp > 0
	case scenario.OpGreaterEqual:
		return cmp >= 0
	case scenario.OpLess:
		return cmp < 0
	case scenario.OpLessEqual:
		return cmp <= 0
	}
	return false
}
