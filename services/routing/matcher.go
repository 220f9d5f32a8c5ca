package routing

import (
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/infergate/infergate/models"
)

// Matcher resolves requests to routes and picks weighted backends. Routes are
// evaluated in configuration order and the first full match wins, so a
// request matches at most one rule. The matcher itself is immutable; config
// reloads build a new one.
type Matcher struct {
	routes []models.Route

	// pick returns a draw in [0, 1); injectable for deterministic tests
	pick func() float64
}

// NewMatcher creates a matcher over the given ordered routes
func NewMatcher(routes []models.Route) *Matcher {
	return &Matcher{
		routes: routes,
		pick:   rand.Float64,
	}
}

// NewMatcherWithPick creates a matcher with a custom weighted-draw source
func NewMatcherWithPick(routes []models.Route, pick func() float64) *Matcher {
	return &Matcher{routes: routes, pick: pick}
}

// Match returns the first route whose predicates all match the request, or
// nil when no rule matches.
func (m *Matcher) Match(r *http.Request) *models.Route {
	var query url.Values
	queryParsed := false

	for i := range m.routes {
		route := &m.routes[i]
		if !matchPath(&route.Match, r.URL.Path) {
			continue
		}
		if !matchHeaders(&route.Match, r.Header) {
			continue
		}
		if len(route.Match.Query) > 0 {
			if !queryParsed {
				query = r.URL.Query()
				queryParsed = true
			}
			if !matchQuery(&route.Match, query) {
				continue
			}
		}
		return route
	}
	return nil
}

// matchPath applies the path predicate. Exact match takes precedence over
// prefix; both comparisons are case-sensitive. A rule with neither set does
// not constrain the path.
func matchPath(match *models.RouteMatch, path string) bool {
	if match.PathExact != "" {
		return path == match.PathExact
	}
	if match.PathPrefix != "" {
		return strings.HasPrefix(path, match.PathPrefix)
	}
	return true
}

// matchHeaders requires exact value equality for every configured header.
// An absent header never matches.
func matchHeaders(match *models.RouteMatch, headers http.Header) bool {
	for name, want := range match.Headers {
		if headers.Get(name) != want {
			return false
		}
	}
	return true
}

// matchQuery requires exact value equality for every configured parameter
func matchQuery(match *models.RouteMatch, query url.Values) bool {
	for name, want := range match.Query {
		if query.Get(name) != want {
			return false
		}
	}
	return true
}

// PickBackend selects one backend from the route by weighted-random draw.
// The draw happens per request, not per connection, so observed traffic
// share converges to the configured weights over volume.
func (m *Matcher) PickBackend(route *models.Route) string {
	if len(route.Backends) == 1 {
		return route.Backends[0].Name
	}

	total := route.TotalWeight()
	x := m.pick() * float64(total)

	acc := 0.0
	last := route.Backends[0].Name
	for _, b := range route.Backends {
		if b.Weight <= 0 {
			continue
		}
		last = b.Name
		acc += float64(b.Weight)
		if x < acc {
			return b.Name
		}
	}
	// x can land on the total when the draw rounds up near 1
	return last
}
