package detect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"vanguard/core"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PatternCache holds compiled regular expressions keyed by pattern source.
// regexp2 is used for its built-in match timeout, which bounds pathological
// patterns (ReDoS) per evaluation instead of per process.
type PatternCache struct {
	cache   *lru.Cache[string, *regexp2.Regexp]
	timeout time.Duration
}

// NewPatternCache creates a cache holding up to size compiled patterns.
func NewPatternCache(size int, matchTimeout time.Duration) (*PatternCache, error) {
	c, err := lru.New[string, *regexp2.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &PatternCache{cache: c, timeout: matchTimeout}, nil
}

func (pc *PatternCache) get(pattern string) (*regexp2.Regexp, error) {
	if re, ok := pc.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", core.ErrInvalidRule, pattern, err)
	}
	re.MatchTimeout = pc.timeout
	pc.cache.Add(pattern, re)
	return re, nil
}

// evalPredicate interprets the tagged predicate variant against an event.
// Pure aside from the pattern cache; malformed predicates surface as
// ErrInvalidRule-wrapped errors for the engine to isolate.
func (pc *PatternCache) evalPredicate(p *core.Predicate, ev *core.Event) (bool, error) {
	switch p.Kind {
	case core.PredicateEquals:
		if p.Field == "" || p.Value == nil {
			return false, fmt.Errorf("%w: malformed equals", core.ErrInvalidRule)
		}
		v, ok := ev.Field(p.Field)
		if !ok {
			return false, nil
		}
		return looseEqual(v, p.Value), nil

	case core.PredicateRange:
		if p.Field == "" || (p.Min == nil && p.Max == nil) {
			return false, fmt.Errorf("%w: malformed range", core.ErrInvalidRule)
		}
		v, ok := ev.Field(p.Field)
		if !ok {
			return false, nil
		}
		n, ok := toFloat(v)
		if !ok {
			return false, nil
		}
		if p.Min != nil && n < *p.Min {
			return false, nil
		}
		if p.Max != nil && n > *p.Max {
			return false, nil
		}
		return true, nil

	case core.PredicatePattern:
		if p.Field == "" || p.Pattern == "" {
			return false, fmt.Errorf("%w: malformed pattern", core.ErrInvalidRule)
		}
		v, ok := ev.Field(p.Field)
		if !ok {
			return false, nil
		}
		re, err := pc.get(p.Pattern)
		if err != nil {
			return false, err
		}
		matched, err := re.MatchString(toString(v))
		if err != nil {
			// Match timeout hit; no-match, but reported so the engine
			// records it against the rule.
			return false, fmt.Errorf("%w: pattern %q: %v", core.ErrInvalidRule, p.Pattern, err)
		}
		return matched, nil

	case core.PredicateHasTag:
		if p.Tag == "" {
			return false, fmt.Errorf("%w: malformed has_tag", core.ErrInvalidRule)
		}
		return ev.HasTag(p.Tag), nil

	case core.PredicateAllOf:
		if len(p.Children) == 0 {
			return false, fmt.Errorf("%w: empty all_of", core.ErrInvalidRule)
		}
		for i := range p.Children {
			ok, err := pc.evalPredicate(&p.Children[i], ev)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case core.PredicateAnyOf:
		if len(p.Children) == 0 {
			return false, fmt.Errorf("%w: empty any_of", core.ErrInvalidRule)
		}
		for i := range p.Children {
			ok, err := pc.evalPredicate(&p.Children[i], ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case core.PredicateNot:
		if len(p.Children) != 1 {
			return false, fmt.Errorf("%w: not requires one child", core.ErrInvalidRule)
		}
		ok, err := pc.evalPredicate(&p.Children[0], ev)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	return false, fmt.Errorf("%w: unknown kind %q", core.ErrInvalidRule, p.Kind)
}

// looseEqual compares a field value against a predicate literal across the
// numeric and string representations that survive JSON, BSON and YAML
// decoding.
func looseEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			return an == bn
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.EqualFold(as, bs)
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
