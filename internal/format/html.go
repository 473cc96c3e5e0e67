package format

import (
	"html/template"
	"strings"
)

// HTML renders blocks as markup. Every span is escaped, so the only tags in the output are the ones
// produced here: div, br, ul, li and strong.
func HTML(blocks []Block) template.HTML {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Kind {
		case BlockLine:
			sb.WriteString("<div>")
			writeSpans(&sb, b.Spans)
			sb.WriteString("</div>")
		case BlockBreak:
			sb.WriteString("<br>")
		case BlockListOpen:
			sb.WriteString("<ul>")
		case BlockListItem:
			sb.WriteString("<li>")
			writeSpans(&sb, b.Spans)
			sb.WriteString("</li>")
		case BlockListClose:
			sb.WriteString("</ul>")
		}
	}
	// The markup is assembled from escaped text and a fixed tag set.
	return template.HTML(sb.String()) //nolint:gosec
}

func writeSpans(sb *strings.Builder, spans []Span) {
	for _, s := range spans {
		if s.Strong {
			sb.WriteString("<strong>")
			sb.WriteString(template.HTMLEscapeString(s.Text))
			sb.WriteString("</strong>")
			continue
		}
		sb.WriteString(template.HTMLEscapeString(s.Text))
	}
}
