// Package format converts the semi-structured reply text returned by the answering backend into a
// sequence of safe, renderable blocks.
//
// The reply format is line oriented. Each line is either a bullet (a leading hyphen, asterisk, bullet
// glyph, en dash or "N." followed by whitespace), a blank line, or a plain line. Inline emphasis is
// written as a pair of double asterisks and never spans lines.
package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BlockKind identifies the type of a Block.
type BlockKind int

// Block is a single renderable unit of formatted content.
type Block struct {
	Kind BlockKind
	// Spans would be filled if Kind is BlockLine or BlockListItem.
	Spans []Span
}

// Span is a run of inline text, optionally with strong emphasis.
type Span struct {
	Text   string
	Strong bool
}

const (
	// BlockLine is a standalone non-blank line. Consecutive lines are never merged.
	BlockLine BlockKind = iota
	// BlockBreak is an explicit line break produced by a blank line.
	BlockBreak
	// BlockListOpen opens a bullet list. It is always balanced by a BlockListClose.
	BlockListOpen
	// BlockListItem is a bullet line with its bullet prefix stripped.
	BlockListItem
	// BlockListClose closes the currently open bullet list.
	BlockListClose
)

// Private-use runes mark emphasis boundaries between substitution and line classification. They are
// removed from the input first so they can never be forged.
const (
	strongOpen  = '\uE000'
	strongClose = '\uE001'
	markerSet   = string(strongOpen) + string(strongClose)
)

// space matches the whitespace allowed around a bullet marker: ASCII whitespace including \v, the
// Unicode space separators, the line and paragraph separators and the byte order mark.
const space = `[\s\v\p{Zs}\x{2028}\x{2029}\x{feff}]`

var (
	strongPattern = regexp.MustCompile(`\*\*(.*?)\*\*`)
	bulletPattern = regexp.MustCompile(`^` + space + `*(?:[-*•–]|\d+\.)` + space + `+`)

	markerStripper = strings.NewReplacer(string(strongOpen), "", string(strongClose), "")
)

func (k BlockKind) String() string {
	switch k {
	case BlockLine:
		return "line"
	case BlockBreak:
		return "break"
	case BlockListOpen:
		return "list-open"
	case BlockListItem:
		return "list-item"
	case BlockListClose:
		return "list-close"
	default:
		return "unknown"
	}
}

// Format converts raw reply text into blocks. It never fails: malformed input, such as unbalanced
// emphasis delimiters, is kept as literal text. Empty input yields no blocks.
//
// Emphasis is substituted before lines are classified, so a bullet whose text contains a strong span
// is still a bullet, while a line whose would-be bullet marker sits inside an emphasis pair is not.
func Format(raw string) []Block {
	if raw == "" {
		return nil
	}

	marked := strongPattern.ReplaceAllString(markerStripper.Replace(raw),
		string(strongOpen)+"${1}"+string(strongClose))

	var blocks []Block
	inList := false
	for _, line := range strings.Split(marked, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)

		if loc := bulletPattern.FindStringIndex(line); loc != nil {
			if !inList {
				blocks = append(blocks, Block{Kind: BlockListOpen})
				inList = true
			}
			blocks = append(blocks, Block{Kind: BlockListItem, Spans: markedSpans(line[loc[1]:])})
			continue
		}

		if inList {
			blocks = append(blocks, Block{Kind: BlockListClose})
			inList = false
		}

		if strings.TrimSpace(line) == "" {
			blocks = append(blocks, Block{Kind: BlockBreak})
			continue
		}
		blocks = append(blocks, Block{Kind: BlockLine, Spans: markedSpans(line)})
	}
	if inList {
		blocks = append(blocks, Block{Kind: BlockListClose})
	}

	return blocks
}

// Plain converts literal text into blocks without interpreting emphasis or bullets. It is used for
// text typed by the user, which is displayed exactly as entered.
func Plain(raw string) []Block {
	if raw == "" {
		return nil
	}

	var blocks []Block
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blocks = append(blocks, Block{Kind: BlockBreak})
			continue
		}
		blocks = append(blocks, Block{Kind: BlockLine, Spans: []Span{{Text: line}}})
	}
	return blocks
}

// Source renders blocks back to the semi-structured text format. For input without bullet lines,
// Format(Source(Format(s))) is equal to Format(s).
func Source(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		switch b.Kind {
		case BlockLine:
			lines = append(lines, spansSource(b.Spans))
		case BlockBreak:
			lines = append(lines, "")
		case BlockListItem:
			lines = append(lines, "- "+spansSource(b.Spans))
		case BlockListOpen, BlockListClose:
		}
	}
	return strings.Join(lines, "\n")
}

// Text returns the visible text of spans, without emphasis delimiters.
func Text(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func markedSpans(s string) []Span {
	var spans []Span
	for {
		i := strings.IndexAny(s, markerSet)
		if i < 0 {
			break
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		text := s[:i]
		switch r {
		case strongOpen:
			if text != "" {
				spans = append(spans, Span{Text: text})
			}
		case strongClose:
			spans = append(spans, Span{Text: text, Strong: true})
		}
		s = s[i+size:]
	}
	if s != "" {
		spans = append(spans, Span{Text: s})
	}
	return spans
}

func spansSource(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Strong {
			sb.WriteString("**")
			sb.WriteString(s.Text)
			sb.WriteString("**")
			continue
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}
