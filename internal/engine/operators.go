package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dgraph-io/ristretto"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

// OperatorHandler evaluates one clause operator against a single rule value.
type OperatorHandler interface {
	Check(userValue any, ruleValue string) bool
}

var (
	operatorHandlers = map[rules.Operator]OperatorHandler{
		rules.OpEqual:          equalHandler{},
		rules.OpEqualSensitive: equalSensitiveHandler{},
		rules.OpContains:       stringHandler{fn: strings.Contains},
		rules.OpStartsWith:     stringHandler{fn: strings.HasPrefix},
		rules.OpEndsWith:       stringHandler{fn: strings.HasSuffix},
		rules.OpIn:             equalSensitiveHandler{},
		rules.OpMatch:          regexHandler{},
		rules.OpGt:             compareHandler{cmp: func(c int) bool { return c > 0 }},
		rules.OpGte:            compareHandler{cmp: func(c int) bool { return c >= 0 }},
		rules.OpLt:             compareHandler{cmp: func(c int) bool { return c < 0 }},
		rules.OpLte:            compareHandler{cmp: func(c int) bool { return c <= 0 }},
		rules.OpSemVerGt:       semverCompareHandler{cmp: func(a, b *semver.Version) bool { return a.GreaterThan(b) }},
		rules.OpSemVerLt:       semverCompareHandler{cmp: func(a, b *semver.Version) bool { return a.LessThan(b) }},
	}

	// regexCache keeps compiled patterns for the hot evaluation path.
	regexCache = mustRegexCache()
)

func mustRegexCache() *ristretto.Cache {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		panic(fmt.Sprintf("engine: regex cache: %v", err))
	}
	return cache
}

func getOperatorHandler(op rules.Operator) (OperatorHandler, bool) {
	h, ok := operatorHandlers[normalizeOperator(op)]
	return h, ok
}

// normalizeOperator accepts the spellings older rule files used.
func normalizeOperator(op rules.Operator) rules.Operator {
	switch strings.ToLower(string(op)) {
	case "==", "eq", "equals":
		return rules.OpEqual
	case "regex", "matches":
		return rules.OpMatch
	case "in_list":
		return rules.OpIn
	case ">":
		return rules.OpGt
	case ">=":
		return rules.OpGte
	case "<":
		return rules.OpLt
	case "<=":
		return rules.OpLte
	case "version_gt":
		return rules.OpSemVerGt
	case "version_lt":
		return rules.OpSemVerLt
	default:
		return op
	}
}

type equalHandler struct{}

func (equalHandler) Check(userValue any, ruleValue string) bool {
	user, ok := toString(userValue)
	return ok && strings.EqualFold(user, ruleValue)
}

type equalSensitiveHandler struct{}

func (equalSensitiveHandler) Check(userValue any, ruleValue string) bool {
	user, ok := toString(userValue)
	return ok && user == ruleValue
}

type stringHandler struct {
	fn func(s, substr string) bool
}

func (h stringHandler) Check(userValue any, ruleValue string) bool {
	user, ok := toString(userValue)
	return ok && h.fn(user, ruleValue)
}

type regexHandler struct{}

func (regexHandler) Check(userValue any, ruleValue string) bool {
	user, ok := toString(userValue)
	if !ok {
		return false
	}
	rx, ok := getCompiledRegex(ruleValue)
	if !ok {
		return false
	}
	return rx.MatchString(user)
}

// compareHandler compares numerically when both sides are numbers, lexically otherwise.
type compareHandler struct {
	cmp func(c int) bool
}

func (h compareHandler) Check(userValue any, ruleValue string) bool {
	if user, ok := toFloat64(userValue); ok {
		if rule, err := strconv.ParseFloat(ruleValue, 64); err == nil {
			switch {
			case user > rule:
				return h.cmp(1)
			case user < rule:
				return h.cmp(-1)
			default:
				return h.cmp(0)
			}
		}
	}
	user, ok := toString(userValue)
	if !ok {
		return false
	}
	return h.cmp(strings.Compare(user, ruleValue))
}

type semverCompareHandler struct {
	cmp func(a, b *semver.Version) bool
}

func (h semverCompareHandler) Check(userValue any, ruleValue string) bool {
	userStr, ok := toString(userValue)
	if !ok {
		return false
	}
	userVer, err := semver.NewVersion(userStr)
	if err != nil {
		return false
	}
	ruleVer, err := semver.NewVersion(ruleValue)
	if err != nil {
		return false
	}
	return h.cmp(userVer, ruleVer)
}

func getCompiledRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Get(pattern); ok {
		rx, ok := cached.(*regexp.Regexp)
		return rx, ok
	}

	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}
	regexCache.Set(pattern, rx, 1)
	return rx, true
}

// toString renders scalar attribute values; lists and maps are not comparable.
func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case json.Number:
		return s.String(), true
	case int, int32, int64, float32, float64:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
