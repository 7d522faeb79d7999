package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/forPelevin/autoshort/internal/types"
)

const (
	DefaultMinDuration = 5.0
	DefaultMaxDuration = 8.0
)

var (
	// A bracket group, or an unterminated one running to end of line.
	reBracket = regexp.MustCompile(`\[[^\[\]]*(?:\]|$)`)
	reRange   = regexp.MustCompile(`^\[\s*(\d+)\s*-\s*(\d+)\s*\]$`)
	// Anything that looks like an attempted time range: digits and a dash.
	reRangeLike = regexp.MustCompile(`^\[\s*[\w.]*\s*-\s*[\w.]*\s*\]?$`)
	reListMark  = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+|#+\s*)`)
	reHeading   = regexp.MustCompile(`^\s*#{1,6}\s`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

// Parse splits a generated script into segments, one per line that still has
// visible text after annotations are removed.
func Parse(raw string) []types.ScriptSegment {
	return ParseWithReport(raw, nil)
}

// ParseWithReport is Parse with a hook called for every line whose time
// annotation was unusable and fell back to the default range.
func ParseWithReport(raw string, warnf func(format string, args ...any)) []types.ScriptSegment {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	var out []types.ScriptSegment
	for n, line := range strings.Split(raw, "\n") {
		seg, ok, problem := parseLine(strings.TrimRight(line, "\r"))
		if !ok {
			continue
		}
		if problem != "" {
			warnf("script line %d: %s; using %g-%g", n+1, problem, DefaultMinDuration, DefaultMaxDuration)
		}
		out = append(out, seg)
	}
	return out
}

func parseLine(line string) (types.ScriptSegment, bool, string) {
	seg := types.ScriptSegment{MinDuration: DefaultMinDuration, MaxDuration: DefaultMaxDuration}

	timed := false
	problem := ""
	for _, g := range reBracket.FindAllString(line, -1) {
		if !timed {
			if lo, hi, err := parseRange(g); err == nil {
				seg.MinDuration, seg.MaxDuration = lo, hi
				timed = true
				continue
			} else if reRangeLike.MatchString(g) {
				problem = err.Error()
			}
		}
		if cue := strings.TrimSpace(strings.Trim(g, "[]")); cue != "" {
			seg.Cues = append(seg.Cues, cue)
		}
	}
	if timed {
		problem = ""
	} else if reHeading.MatchString(line) {
		// "# Script" style titles are not meant to be shown or read.
		return types.ScriptSegment{}, false, ""
	}

	text := reBracket.ReplaceAllString(line, " ")
	text = cleanText(text)
	if text == "" {
		return types.ScriptSegment{}, false, ""
	}
	seg.Text = text
	return seg, true, problem
}

func parseRange(g string) (float64, float64, error) {
	if !strings.HasSuffix(g, "]") {
		return 0, 0, fmt.Errorf("unterminated annotation %q", g)
	}
	m := reRange.FindStringSubmatch(g)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed annotation %q", g)
	}
	lo, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("annotation %q: %w", g, err)
	}
	hi, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("annotation %q: %w", g, err)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("inverted annotation %q", g)
	}
	if hi <= 0 {
		return 0, 0, fmt.Errorf("empty annotation %q", g)
	}
	return float64(lo), float64(hi), nil
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = reListMark.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Text joins the visible text of all segments, one per line. It is what the
// narrator reads.
func Text(segs []types.ScriptSegment) string {
	lines := make([]string, 0, len(segs))
	for _, s := range segs {
		lines = append(lines, s.Text)
	}
	return strings.Join(lines, "\n")
}
