// Package pretty re-indents HTML markup. It is the default transform used
// by the tidy engine.
package pretty

import (
	"errors"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Transformer adapts Format to the tidy engine.
type Transformer struct{}

// Transform formats source with rules.
func (Transformer) Transform(source string, rules Rules) (string, error) {
	return Format(source, rules)
}

// closesParagraph lists the elements whose start tag ends an open <p>.
var closesParagraph = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"details": true, "div": true, "dl": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "main": true, "menu": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"ul": true,
}

// impliedEnds maps a start tag to the open elements it ends when one of
// them is the current element, for end tags HTML lets authors omit.
var impliedEnds = map[string][]string{
	"li":     {"li"},
	"dt":     {"dt", "dd"},
	"dd":     {"dt", "dd"},
	"option": {"option"},
	"td":     {"td", "th"},
	"th":     {"td", "th"},
	"tr":     {"td", "th", "tr"},
	"thead":  {"td", "th", "tr", "thead", "tbody", "tfoot"},
	"tbody":  {"td", "th", "tr", "thead", "tbody", "tfoot"},
	"tfoot":  {"td", "th", "tr", "thead", "tbody", "tfoot"},
}

type printer struct {
	b      strings.Builder
	indent string
	open   []string
}

func (p *printer) line(s string) {
	p.b.WriteString(strings.Repeat(p.indent, len(p.open)))
	p.b.WriteString(s)
	p.b.WriteByte('\n')
}

func (p *printer) top() string {
	if len(p.open) == 0 {
		return ""
	}
	return p.open[len(p.open)-1]
}

// start ends the elements tag implicitly closes.
func (p *printer) start(tag string) {
	if closesParagraph[tag] && p.top() == "p" {
		p.open = p.open[:len(p.open)-1]
	}
	ends := impliedEnds[tag]
	for len(p.open) > 0 && slices.Contains(ends, p.top()) {
		p.open = p.open[:len(p.open)-1]
	}
}

// end closes tag and everything opened inside it. End tags without an
// open element change nothing.
func (p *printer) end(tag string) {
	for i := len(p.open) - 1; i >= 0; i-- {
		if p.open[i] == tag {
			p.open = p.open[:i]
			return
		}
	}
}

// Format writes every tag and text run of source on its own line, indenting
// children one level deeper than their parent. End tags HTML allows to be
// omitted (li, p, td and friends) are inferred, and end tags of void or
// unopened elements leave the depth alone. Elements listed as
// unformatted are copied verbatim, start tag through matching end tag.
func Format(source string, rules Rules) (string, error) {
	z := html.NewTokenizer(strings.NewReader(source))
	p := &printer{indent: strings.Repeat(" ", rules.indentSize())}
	unformatted := rules.unformatted()

	verbatim := ""
	nest := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			break
		}

		// Raw must be copied before TagName lowercases the buffer in place.
		raw := string(z.Raw())

		if verbatim != "" {
			p.b.WriteString(raw)
			if tt == html.StartTagToken || tt == html.EndTagToken {
				name, _ := z.TagName()
				if string(name) == verbatim {
					if tt == html.StartTagToken {
						nest++
					} else {
						nest--
					}
				}
			}
			if nest == 0 {
				p.b.WriteByte('\n')
				verbatim = ""
			}
			continue
		}

		switch tt {
		case html.DoctypeToken, html.CommentToken, html.SelfClosingTagToken:
			p.line(strings.TrimSpace(raw))

		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			p.start(tag)
			switch {
			case voidElements[tag]:
				p.line(raw)
			case unformatted[tag]:
				p.b.WriteString(strings.Repeat(p.indent, len(p.open)))
				p.b.WriteString(raw)
				verbatim = tag
				nest = 1
			default:
				p.line(raw)
				p.open = append(p.open, tag)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			p.end(string(name))
			p.line(raw)

		case html.TextToken:
			for _, l := range strings.Split(raw, "\n") {
				if l = strings.TrimSpace(l); l != "" {
					p.line(l)
				}
			}
		}
	}

	out := p.b.String()
	if rules.OCD {
		out = condense(out)
	}
	return out, nil
}

// condense strips trailing whitespace, collapses blank-line runs and ends
// non-empty output with exactly one newline.
func condense(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		kept = append(kept, l)
	}

	out := strings.TrimRight(strings.Join(kept, "\n"), "\n")
	if out == "" {
		return ""
	}
	return out + "\n"
}
