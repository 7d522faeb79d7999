package subtitles

import (
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/autoshort/internal/types"
)

// RenderCaptionsASS renders one caption event per clip, placed at the clip's
// offset on the output timeline and shown for its caption duration.
func RenderCaptionsASS(tl types.Timeline) string {
	var b strings.Builder
	b.WriteString(assHeader())
	b.WriteString("\n\n[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	offsets := tl.Offsets()
	for i, c := range tl.Clips {
		text := sanitizeASS(c.Caption)
		if text == "" || c.CaptionDuration <= 0 {
			continue
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Caption,,0,0,0,,%s\n",
			assTime(offsets[i]), assTime(offsets[i]+c.CaptionDuration), wrap(text, 28))
	}
	return b.String()
}

// wrap inserts ASS hard breaks so long captions stay inside a vertical frame.
func wrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len([]rune(cur))+1+len([]rune(w)) > width {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	lines = append(lines, cur)
	return strings.Join(lines, `\N`)
}

func assHeader() string {
	return strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: 1080
PlayResY: 1920
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Caption, Inter, 60, &H00FFFFFF, &H00FFFFFF, &H00000000, &H64000000, 1,0,0,0,100,100,0,0,1,2,0,8, 60,60,120,1
`)
}

// assTime formats d as H:MM:SS.cc, truncated to centiseconds.
func assTime(d time.Duration) string {
	cs := int64(max(d, 0) / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}

var assEscaper = strings.NewReplacer(`\`, `\\`, "{", "(", "}", ")")

// sanitizeASS neutralizes override blocks and folds the caption onto one line.
func sanitizeASS(s string) string {
	return strings.Join(strings.Fields(assEscaper.Replace(s)), " ")
}
