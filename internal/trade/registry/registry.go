// Package registry is the Command Registry: the loaded-at-startup,
// hot-reloadable table of command names, aliases, and natural-language
// phrases the Trade Command Executor matches user text against. Grounded
// on the design note modeling "natural language phrase" matching as an
// ordered pipeline of matchers, each returning an optional (command,
// params) pair, rather than the source's dynamic dispatch-by-string.
package registry

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tradecopilot/internal/types"
)

// Match is the result of a successful command match.
type Match struct {
	Command types.Command
	Params  map[string]string
}

// Registry holds the current command table plus the hard-coded regex
// patterns for structured trading notation.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]types.Command // keyed by canonical name
	aliases  map[string]string        // alias -> canonical name
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		commands: make(map[string]types.Command),
		aliases:  make(map[string]string),
	}
}

// Load replaces the registry contents atomically; this is the hot-reload
// entry point, callable at any time without stopping the executor.
func (r *Registry) Load(commands []types.Command) {
	cmds := make(map[string]types.Command, len(commands))
	aliases := make(map[string]string)
	for _, c := range commands {
		cmds[c.Name] = c
		for _, a := range c.Aliases {
			aliases[strings.ToLower(a)] = c.Name
		}
	}
	r.mu.Lock()
	r.commands, r.aliases = cmds, aliases
	r.mu.Unlock()
}

// structuredPatterns are the hard-coded regexes for structured trading
// notation, tried after exact/alias/phrase matching and before fuzzy
// matching, in priority order.
var structuredPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"entry_at_price", regexp.MustCompile(`^(long|short|buy|sell)\s+(\d+(?:\.\d+)?)\s*@\s*(\d+(?:\.\d+)?)$`)},
	{"entry_at_market", regexp.MustCompile(`^(long|short|buy|sell)\s+(\d+(?:\.\d+)?)\s*@\s*market$`)},
	{"sell_all", regexp.MustCompile(`^sell\s+all$`)},
	// sell_pct/sell_qty capture a percent/quantity only to distinguish the
	// phrasing; every scaleout variant triggers the same full chunked close.
	{"sell_pct", regexp.MustCompile(`^sell\s+(\d+(?:\.\d+)?)\s*%$`)},
	{"sell_half", regexp.MustCompile(`^sell\s+half$`)},
	{"sell_qty", regexp.MustCompile(`^sell\s+(\d+(?:\.\d+)?)$`)},
	{"scaleout_speed", regexp.MustCompile(`^scale\s*out(?:\s+(fast|medium|slow))?$`)},
}

// Match runs the full priority pipeline: exact → alias → highest-confidence
// phrase → structured regex → fuzzy phrase, returning the first hit.
func (r *Registry) Match(text string) (Match, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.commands[norm]; ok {
		return Match{Command: c}, true
	}

	if canon, ok := r.aliases[norm]; ok {
		return Match{Command: r.commands[canon]}, true
	}

	if m, ok := r.bestPhraseMatch(norm); ok {
		return m, true
	}

	if m, ok := matchStructured(norm); ok {
		return m, true
	}

	return r.fuzzyMatch(norm)
}

// bestPhraseMatch returns the highest-confidence phrase match across every
// registered command, if any phrase matches exactly.
func (r *Registry) bestPhraseMatch(norm string) (Match, bool) {
	var best *types.Command
	bestConf := -1.0
	for name, c := range r.commands {
		for _, ph := range c.Phrases {
			if strings.ToLower(ph.Text) == norm && ph.Confidence > bestConf {
				cc := r.commands[name]
				best = &cc
				bestConf = ph.Confidence
			}
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Command: *best}, true
}

func matchStructured(norm string) (Match, bool) {
	for _, p := range structuredPatterns {
		groups := p.re.FindStringSubmatch(norm)
		if groups == nil {
			continue
		}
		params := map[string]string{}
		switch p.name {
		case "entry_at_price":
			params["side"] = groups[1]
			params["qty"] = groups[2]
			params["price"] = groups[3]
		case "entry_at_market":
			params["side"] = groups[1]
			params["qty"] = groups[2]
		case "scaleout_speed":
			if groups[1] != "" {
				params["speed"] = groups[1]
			}
		}
		handlerKey := p.name
		if p.name == "scaleout_speed" {
			handlerKey = "scaleout"
		}
		return Match{
			Command: types.Command{Name: p.name, HandlerKey: handlerKey, Implemented: true},
			Params:  params,
		}, true
	}
	return Match{}, false
}

// fuzzyMatch is the last resort: a crude token-overlap score against every
// phrase, chosen because the source's fuzzy layer is explicitly
// out-of-scope beyond its semantic shape (an ordered, data-driven pipeline
// stage, not a specific algorithm).
func (r *Registry) fuzzyMatch(norm string) (Match, bool) {
	normTokens := tokenize(norm)
	if len(normTokens) == 0 {
		return Match{}, false
	}

	type candidate struct {
		cmd   types.Command
		score float64
	}
	var candidates []candidate

	for _, c := range r.commands {
		for _, ph := range c.Phrases {
			score := tokenOverlap(normTokens, tokenize(strings.ToLower(ph.Text)))
			if score > 0 {
				candidates = append(candidates, candidate{cmd: c, score: score * ph.Confidence})
			}
		}
	}

	if len(candidates) == 0 {
		return Match{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if candidates[0].score < 0.4 {
		return Match{}, false
	}
	return Match{Command: candidates[0].cmd}, true
}

func tokenize(s string) []string { return strings.Fields(s) }

func tokenOverlap(a, b []string) float64 {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	hits := 0
	for _, t := range a {
		if set[t] {
			hits++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom == 0 {
		return 0
	}
	return float64(hits) / float64(denom)
}

// ParseFloat is a small helper handlers use to parse regex-captured
// numeric params without importing strconv themselves.
func ParseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
