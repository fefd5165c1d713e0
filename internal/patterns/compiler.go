package patterns

import (
	"regexp"
	"sort"
	"strings"
)

// Format is a named row layout with {PLACEHOLDER} references and named groups.
type Format struct {
	Name     string
	Pattern  string
	Compiled *regexp.Regexp
	Fields   []string // Documentation only.
}

// Compiler expands and compiles a set of formats.
type Compiler struct {
	basePatterns map[string]string
	formats      []Format
}

// NewCompiler merges localPatterns over BasePatterns and copies the formats.
func NewCompiler(formats []Format, localPatterns map[string]string) *Compiler {
	c := &Compiler{
		basePatterns: make(map[string]string, len(BasePatterns)+len(localPatterns)),
		formats:      append([]Format(nil), formats...),
	}
	for k, v := range BasePatterns {
		c.basePatterns[k] = v
	}
	for k, v := range localPatterns {
		c.basePatterns[k] = v
	}
	return c
}

// Compile expands placeholders and compiles every format.
func (c *Compiler) Compile() error {
	for i := range c.formats {
		re, err := regexp.Compile(c.expand(c.formats[i].Pattern))
		if err != nil {
			return err
		}
		c.formats[i].Compiled = re
	}
	return nil
}

// MustCompile is Compile for package-level compilers; it panics on error.
func (c *Compiler) MustCompile() *Compiler {
	if err := c.Compile(); err != nil {
		panic(err)
	}
	return c
}

func (c *Compiler) expand(pattern string) string {
	result := pattern
	for name, regex := range c.basePatterns {
		result = strings.ReplaceAll(result, "{"+name+"}", regex)
	}
	return result
}

// Match is a successful format match.
type Match struct {
	FormatName string
	Captures   map[string]string
}

// GetCapture returns a named capture or defaultVal when absent or empty.
func (m *Match) GetCapture(name string, defaultVal string) string {
	if m == nil {
		return defaultVal
	}
	if val, ok := m.Captures[name]; ok && val != "" {
		return val
	}
	return defaultVal
}

func captures(re *regexp.Regexp, sub []string) map[string]string {
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = sub[i]
	}
	return out
}

// Parse returns the first format matching the upper-cased text, or nil.
func (c *Compiler) Parse(text string) *Match {
	upper := strings.ToUpper(text)
	for _, f := range c.formats {
		if f.Compiled == nil {
			continue
		}
		if sub := f.Compiled.FindStringSubmatch(upper); sub != nil {
			return &Match{FormatName: f.Name, Captures: captures(f.Compiled, sub)}
		}
	}
	return nil
}

// FindAll returns every non-overlapping match of every format, in text order
// within each format. Each match carries the byte offset of its start.
func (c *Compiler) FindAll(text string) []PositionedMatch {
	upper := strings.ToUpper(text)
	var out []PositionedMatch
	for _, f := range c.formats {
		if f.Compiled == nil {
			continue
		}
		for _, idx := range f.Compiled.FindAllStringSubmatchIndex(upper, -1) {
			sub := make([]string, len(idx)/2)
			for i := range sub {
				if idx[2*i] >= 0 {
					sub[i] = upper[idx[2*i]:idx[2*i+1]]
				}
			}
			out = append(out, PositionedMatch{
				Match: Match{FormatName: f.Name, Captures: captures(f.Compiled, sub)},
				Pos:   idx[0],
				End:   idx[1],
			})
		}
	}
	return out
}

// PositionedMatch is a Match with its byte range [Pos, End) in the searched text.
type PositionedMatch struct {
	Match
	Pos int
	End int
}

// NonOverlapping keeps matches in priority order (the order FindAll returns
// them, so earlier formats win), drops any whose range overlaps one already
// kept and returns the survivors sorted by position.
func NonOverlapping(matches []PositionedMatch) []PositionedMatch {
	var out []PositionedMatch
	for _, m := range matches {
		overlaps := false
		for _, k := range out {
			if m.Pos < k.End && k.Pos < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })
	return out
}

// FormatTrace records one format's match attempt.
type FormatTrace struct {
	Name     string
	Matched  bool
	Pattern  string
	Captures map[string]string
}

// ParseTrace records a full parse attempt across formats.
type ParseTrace struct {
	Formats []FormatTrace
	Match   *Match
}

// ParseWithTrace runs every format and records which ones matched.
func (c *Compiler) ParseWithTrace(text string) *ParseTrace {
	upper := strings.ToUpper(text)
	trace := &ParseTrace{Formats: make([]FormatTrace, 0, len(c.formats))}

	for _, f := range c.formats {
		ft := FormatTrace{Name: f.Name, Pattern: c.expand(f.Pattern)}
		if f.Compiled != nil {
			if sub := f.Compiled.FindStringSubmatch(upper); sub != nil {
				ft.Matched = true
				ft.Captures = captures(f.Compiled, sub)
				if trace.Match == nil {
					trace.Match = &Match{FormatName: f.Name, Captures: ft.Captures}
				}
			}
		}
		trace.Formats = append(trace.Formats, ft)
	}
	return trace
}
