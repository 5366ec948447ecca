package filter

import (
	"log/slog"
	"regexp"
	"strings"
)

type patternKind int

const (
	kindPlain patternKind = iota
	kindGlob
	kindRegex
)

func (k patternKind) String() string {
	switch k {
	case kindGlob:
		return "glob"
	case kindRegex:
		return "regex"
	default:
		return "plain"
	}
}

// pattern is one user ignore rule, compiled once per pass.
type pattern struct {
	raw  string
	kind patternKind
	re   *regexp.Regexp
	// matchAll is set when a regex rule failed to compile
	matchAll bool
}

// classify decides the pattern kind: /.../ is a regex, anything containing
// * or ? is a glob, the rest is plain text.
func classify(raw string) patternKind {
	switch {
	case len(raw) >= 2 && strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/"):
		return kindRegex
	case strings.ContainsAny(raw, "*?"):
		return kindGlob
	default:
		return kindPlain
	}
}

func compilePattern(raw string) *pattern {
	p := &pattern{raw: raw, kind: classify(raw)}
	var err error
	switch p.kind {
	case kindRegex:
		p.re, err = regexp.Compile(raw[1 : len(raw)-1])
		if err != nil {
			slog.Warn("filter pattern invalid, matching everything", "pattern", raw, "error", err)
			p.matchAll = true
		}
	case kindGlob:
		p.re = regexp.MustCompile(globToRegex(raw))
	case kindPlain:
		// plain rules may still be regex fragments; bad ones degrade to substring
		if p.re, err = regexp.Compile(raw); err != nil {
			p.re = regexp.MustCompile(regexp.QuoteMeta(raw))
		}
	}
	return p
}

// globToRegex anchors the glob and maps * to .* and ? to .
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// match tests the rule against every candidate string.
func (p *pattern) match(candidates ...string) bool {
	if p.matchAll {
		return true
	}
	for _, c := range candidates {
		if c != "" && p.re.MatchString(c) {
			return true
		}
	}
	return false
}

func compileAll(raws []string) []*pattern {
	out := make([]*pattern, 0, len(raws))
	for _, raw := range raws {
		if raw = strings.TrimSpace(raw); raw != "" {
			out = append(out, compilePattern(raw))
		}
	}
	return out
}
