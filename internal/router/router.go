// Package router implements the path router of spec §4.3: a radix-style
// trie over `/`-separated segments supporting static literals, `:name`
// parameters, `{name:regex}` capture segments, and a trailing `*`
// wildcard. It generalizes the segment-by-segment match() routine of
// caddyhttp/proxy/proxy.go (which matches a request path against a
// proxy directive's path prefix) into a full trie keyed by segment
// kind, hashing static segments with xxhash the way caddy's config
// layer hashes strings for comparison (see caddy.go's use of xxhash
// for config identity).
package router

import (
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// segmentKind orders match specificity at a given depth: static beats
// param beats regex beats wildcard (spec §4.3).
type segmentKind int

const (
	kindStatic segmentKind = iota
	kindParam
	kindRegex
	kindWildcard
)

type node struct {
	static map[uint64]*node // hash of literal segment -> child
	param  *node            // ":name" child, at most one per node
	regex  []*regexNode     // "{name:regex}" children, tried in insertion order
	wc     *node            // "*" child; matched only when it is a leaf (a trailing "*")
	target string
	isLeaf bool
}

type regexNode struct {
	re    *regexp.Regexp
	child *node
}

func newNode() *node {
	return &node{static: make(map[uint64]*node)}
}

// Rule is one (pattern, target group) pair as loaded from a forward's
// routing list (spec §3 RoutingRule).
type Rule struct {
	Pattern string
	Target  string
}

// Router is an immutable radix trie built from a forward's routing
// rules plus a mandatory default group. Once built it is never
// mutated; admin updates replace the whole Router (spec §4.3).
type Router struct {
	root         *node
	DefaultGroup string
}

// Build constructs a Router from rules, rejecting duplicate pattern
// strings. It does not validate that Target resolves in the group
// registry; that cross-entity check belongs to internal/config.
func Build(rules []Rule, defaultGroup string) (*Router, error) {
	r := &Router{root: newNode(), DefaultGroup: defaultGroup}
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.Pattern] {
			return nil, &duplicatePatternError{rule.Pattern}
		}
		seen[rule.Pattern] = true
		if err := r.insert(rule.Pattern, rule.Target); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type duplicatePatternError struct{ pattern string }

func (e *duplicatePatternError) Error() string {
	return "duplicate route pattern: " + e.pattern
}

func segments(pattern string) []string {
	trimmed := strings.Trim(pattern, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (r *Router) insert(pattern, target string) error {
	cur := r.root
	for _, seg := range segments(pattern) {
		switch {
		case seg == "*":
			if cur.wc == nil {
				cur.wc = newNode()
			}
			cur = cur.wc

		case strings.HasPrefix(seg, ":"):
			if cur.param == nil {
				cur.param = newNode()
			}
			cur = cur.param

		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && strings.Contains(seg, ":"):
			name, pat, err := parseRegexSegment(seg)
			if err != nil {
				return err
			}
			re, err := regexp.Compile("^" + pat + "$")
			if err != nil {
				return err
			}
			_ = name
			child := newNode()
			cur.regex = append(cur.regex, &regexNode{re: re, child: child})
			cur = child

		default:
			h := xxhash.Sum64String(seg)
			child, ok := cur.static[h]
			if !ok {
				child = newNode()
				cur.static[h] = child
			}
			cur = child
		}
	}
	cur.isLeaf = true
	cur.target = target
	return nil
}

func parseRegexSegment(seg string) (name, pattern string, err error) {
	inner := seg[1 : len(seg)-1]
	idx := strings.Index(inner, ":")
	if idx < 0 {
		return "", "", &duplicatePatternError{pattern: seg} // malformed, reuse error type for a simple message
	}
	return inner[:idx], inner[idx+1:], nil
}

// Resolve looks up path against the trie, returning the matched
// group and whether the match came from the default fallback. Lookup
// walks one node per path segment (O(depth)) and allocates only the
// []string produced by splitting the path, matching spec §4.3's
// no-allocation-per-lookup requirement for the trie walk itself.
func (r *Router) Resolve(path string) (target string, isDefault bool) {
	segs := segments(path)
	if n := r.root.match(segs); n != nil && n.isLeaf {
		return n.target, false
	}
	return r.DefaultGroup, true
}

// match walks segs against the trie depth-first, preferring static >
// param > regex > wildcard at each level, backtracking if a branch
// dead-ends without reaching a leaf.
func (n *node) match(segs []string) *node {
	if len(segs) == 0 {
		if n.isLeaf {
			return n
		}
		return nil
	}
	seg, rest := segs[0], segs[1:]

	if child, ok := n.static[xxhash.Sum64String(seg)]; ok {
		if m := child.match(rest); m != nil {
			return m
		}
	}
	if n.param != nil {
		if m := n.param.match(rest); m != nil {
			return m
		}
	}
	for _, rn := range n.regex {
		if rn.re.MatchString(seg) {
			if m := rn.child.match(rest); m != nil {
				return m
			}
		}
	}
	if n.wc != nil && n.wc.isLeaf {
		return n.wc
	}
	return nil
}
