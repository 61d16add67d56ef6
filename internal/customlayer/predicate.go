package customlayer

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type compareOp int

const (
	opEqual compareOp = iota
	opNotEqual
	opLess
	opLessEqual
	opGreater
	opGreaterEqual
)

// predicate is one parsed where clause.
type predicate struct {
	op     compareOp
	number float64 // for ordered comparisons
	want   string  // for equality
}

// Longer operators first so ">=" is not read as ">".
var operators = []struct {
	prefix string
	op     compareOp
}{
	{">=", opGreaterEqual},
	{"<=", opLessEqual},
	{"!=", opNotEqual},
	{">", opGreater},
	{"<", opLess},
}

func parsePredicate(expr string) (predicate, error) {
	expr = strings.TrimSpace(expr)
	for _, o := range operators {
		rest, ok := strings.CutPrefix(expr, o.prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if o.op == opNotEqual {
			return predicate{op: opNotEqual, want: rest}, nil
		}
		n, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return predicate{}, errors.Errorf("%q needs a number after %s", expr, o.prefix)
		}
		return predicate{op: o.op, number: n}, nil
	}
	return predicate{op: opEqual, want: expr}, nil
}

func (p predicate) eval(actual string) bool {
	switch p.op {
	case opEqual:
		return valuesEqual(p.want, actual)
	case opNotEqual:
		return !valuesEqual(p.want, actual)
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return false
	}
	switch p.op {
	case opLess:
		return n < p.number
	case opLessEqual:
		return n <= p.number
	case opGreater:
		return n > p.number
	case opGreaterEqual:
		return n >= p.number
	}
	return false
}

// valuesEqual compares scalars numerically when both parse as numbers, and comma
// separated lists element by element.
func valuesEqual(want, actual string) bool {
	wantParts := strings.Split(want, ",")
	actualParts := strings.Split(actual, ",")
	if len(wantParts) != len(actualParts) {
		return false
	}
	for i := range wantParts {
		if !scalarEqual(strings.TrimSpace(wantParts[i]), strings.TrimSpace(actualParts[i])) {
			return false
		}
	}
	return true
}

func scalarEqual(want, actual string) bool {
	if want == actual {
		return true
	}
	a, errA := strconv.ParseFloat(want, 64)
	b, errB := strconv.ParseFloat(actual, 64)
	return errA == nil && errB == nil && a == b
}
