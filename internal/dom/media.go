package dom

import (
	"strconv"
	"strings"
	"sync"
)

type mediaQuery struct {
	query string

	mu        sync.Mutex
	matches   bool
	listeners []Func
}

var (
	_ MediaQueryList = (*mediaQuery)(nil)
	_ PropertyGetter = (*mediaQuery)(nil)
)

func (q *mediaQuery) Matches() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.matches
}

func (q *mediaQuery) AddListener(listener Func) error {
	if listener == nil {
		return TypeError("listener is not a function")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, listener)
	return nil
}

func (q *mediaQuery) Property(name string) (any, bool) {
	switch name {
	case "matches":
		return q.Matches(), true
	case "media":
		return q.query, true
	}
	return nil, false
}

func (q *mediaQuery) snapshot() []Func {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Func(nil), q.listeners...)
}

// evalMediaQuery evaluates a comma separated list of conjunctions against vp.
// Understood features: resolution (dppx, x, dpi), min-/max-resolution,
// width, min-/max-width, height, min-/max-height (px) and orientation.
// Unknown features never match.
func evalMediaQuery(query string, vp Viewport) bool {
	for _, alt := range strings.Split(query, ",") {
		if evalConjunction(alt, vp) {
			return true
		}
	}
	return false
}

func evalConjunction(expr string, vp Viewport) bool {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if expr == "" {
		return false
	}
	negate := false
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		negate = true
		expr = rest
	}
	expr = strings.TrimPrefix(expr, "only ")

	result := true
	for _, term := range strings.Split(expr, " and ") {
		term = strings.TrimSpace(term)
		switch term {
		case "all", "screen":
			continue
		case "print":
			result = false
			continue
		}
		if !strings.HasPrefix(term, "(") || !strings.HasSuffix(term, ")") {
			result = false
			continue
		}
		if !evalFeature(term[1:len(term)-1], vp) {
			result = false
		}
	}
	return result != negate
}

func evalFeature(feature string, vp Viewport) bool {
	name, value, ok := strings.Cut(feature, ":")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if !ok {
		return false
	}

	if name == "orientation" {
		portrait := vp.Height >= vp.Width
		return (value == "portrait") == portrait
	}

	prefix := ""
	if p, rest, found := strings.Cut(name, "-"); found && (p == "min" || p == "max") {
		prefix, name = p, rest
	}

	var actual, want float64
	switch name {
	case "resolution":
		actual = vp.PixelRatio
		v, ok := parseResolution(value)
		if !ok {
			return false
		}
		want = v
	case "width", "height":
		actual = vp.Width
		if name == "height" {
			actual = vp.Height
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(value, "px"), 64)
		if err != nil {
			return false
		}
		want = v
	default:
		return false
	}

	switch prefix {
	case "min":
		return actual >= want
	case "max":
		return actual <= want
	}
	return actual == want
}

func parseResolution(v string) (float64, bool) {
	scale := 1.0
	switch {
	case strings.HasSuffix(v, "dppx"):
		v = strings.TrimSuffix(v, "dppx")
	case strings.HasSuffix(v, "dpi"):
		v = strings.TrimSuffix(v, "dpi")
		scale = 1.0 / 96
	case strings.HasSuffix(v, "x"):
		v = strings.TrimSuffix(v, "x")
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f * scale, true
}
