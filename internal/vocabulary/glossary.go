// Package vocabulary corrects commonly misheard terms in segment transcripts.
//
// A glossary file holds one entry per line:
//
//	Kubernetes <= cube and eddies, kuber netties
//	pull request => PR
//	s/\bdeep\s*gram\b/Deepgram/g
//
// "<=" lists spoken aliases for a canonical term, "=>" is a literal
// substitution and s/// is a regular expression. Blank lines and lines
// starting with # are ignored.
package vocabulary

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrUnstable is returned when the entries keep rewriting each other.
var ErrUnstable = errors.New("glossary did not converge")

type substitution interface {
	Rewrite(input string) (output string, changed bool)
}

// EntryParser turns one glossary line into a substitution.
type EntryParser interface {
	Matches(line string) bool
	Parse(line string) (substitution, error)
}

// Glossary applies every entry repeatedly until the text stops changing.
type Glossary struct {
	entries        []substitution
	iterationLimit int
}

// Load reads a glossary file. A missing file yields an empty glossary.
func Load(path string, iterationLimit int) (*Glossary, error) {
	return LoadWithParsers(path, iterationLimit, defaultParsers())
}

func LoadWithParsers(path string, iterationLimit int, parsers []EntryParser) (*Glossary, error) {
	if strings.TrimSpace(path) == "" {
		return Parse("", iterationLimit, parsers)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Parse("", iterationLimit, parsers)
		}
		return nil, fmt.Errorf("read glossary %q: %w", path, err)
	}

	g, err := Parse(string(contents), iterationLimit, parsers)
	if err != nil {
		return nil, fmt.Errorf("parse glossary %q: %w", path, err)
	}
	return g, nil
}

// Parse compiles glossary text.
func Parse(contents string, iterationLimit int, parsers []EntryParser) (*Glossary, error) {
	if iterationLimit <= 0 {
		iterationLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}

	var entries []substitution
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		entries = append(entries, entry)
	}
	return &Glossary{entries: entries, iterationLimit: iterationLimit}, nil
}

func parseLine(line string, parsers []EntryParser) (substitution, error) {
	for _, parser := range parsers {
		if parser.Matches(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported entry format")
}

// Len reports the number of compiled entries.
func (g *Glossary) Len() int {
	return len(g.entries)
}

// Apply rewrites text. On ErrUnstable the partially rewritten text is
// returned alongside the error.
func (g *Glossary) Apply(text string) (string, error) {
	if len(g.entries) == 0 {
		return text, nil
	}

	result := text
	for range g.iterationLimit {
		changed := false
		for _, entry := range g.entries {
			if next, ok := entry.Rewrite(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	return result, fmt.Errorf("%w after %d passes", ErrUnstable, g.iterationLimit)
}

func defaultParsers() []EntryParser {
	return []EntryParser{regexParser{}, aliasParser{}, literalParser{}}
}

type aliasParser struct{}

func (aliasParser) Matches(line string) bool { return strings.Contains(line, "<=") }

func (aliasParser) Parse(line string) (substitution, error) {
	canonical, aliases, _ := strings.Cut(line, "<=")
	canonical = strings.TrimSpace(canonical)
	if canonical == "" {
		return nil, errors.New("alias entry needs a canonical term")
	}

	var patterns []string
	for _, alias := range strings.Split(aliases, ",") {
		if alias = strings.TrimSpace(alias); alias != "" {
			patterns = append(patterns, wordPattern(alias))
		}
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("alias entry for %q lists no aliases", canonical)
	}

	re, err := regexp.Compile("(?i)(?:" + strings.Join(patterns, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid alias: %w", err)
	}
	return replaceAll{re: re, replacement: escapeReplacement(canonical)}, nil
}

type literalParser struct{}

func (literalParser) Matches(line string) bool { return strings.Contains(line, "=>") }

func (literalParser) Parse(line string) (substitution, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal entry source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + wordPattern(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return replaceAll{re: re, replacement: escapeReplacement(strings.TrimSpace(to))}, nil
}

// wordPattern quotes term and anchors it on word boundaries where the term
// itself begins or ends with a word character.
func wordPattern(term string) string {
	pattern := regexp.QuoteMeta(term)
	if isWordByte(term[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(term[len(term)-1]) {
		pattern += `\b`
	}
	return pattern
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

type replaceAll struct {
	re          *regexp.Regexp
	replacement string
}

func (r replaceAll) Rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, r.replacement)
	return output, output != input
}

type regexParser struct{}

func (regexParser) Matches(line string) bool {
	if len(line) < 4 || line[0] != 's' || isWordByte(line[1]) || line[1] == ' ' || line[1] == '\t' {
		return false
	}
	return strings.Count(line, line[1:2]) >= 3
}

func (regexParser) Parse(line string) (substitution, error) {
	delim := line[1]
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm', 's':
			prefix += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	if global {
		return replaceAll{re: re, replacement: replacement}, nil
	}
	return replaceFirst{re: re, replacement: replacement}, nil
}

type replaceFirst struct {
	re          *regexp.Regexp
	replacement string
}

func (r replaceFirst) Rewrite(input string) (string, bool) {
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			if c != delim {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}
