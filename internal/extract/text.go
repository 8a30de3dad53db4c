// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose content is never shown.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
}

// Elements that start and end a line.  Everything else is inline and
// contributes only its text.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Pre: true, atom.Hr: true,
}

// PlainText renders an HTML body as text: inline markup is dropped,
// block elements become line breaks, entities are decoded, and
// whitespace runs collapse to one space.  Bodies without tags are
// returned unchanged.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return html.UnescapeString(body)
	}
	var w textWriter
	w.walk(doc)
	return strings.TrimSpace(w.sb.String())
}

type textWriter struct {
	sb strings.Builder

	// A space is owed before the next visible rune.
	space bool

	// Newlines written since the last visible rune, capped at two.
	newlines int
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br {
			w.lineBreak()
			return
		}
	}
	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		w.lineBreak()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.lineBreak()
	}
}

func (w *textWriter) text(s string) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			w.space = true
			continue
		}
		if w.space && w.sb.Len() > 0 && w.newlines == 0 {
			w.sb.WriteByte(' ')
		}
		w.space = false
		w.newlines = 0
		w.sb.WriteRune(r)
	}
}

func (w *textWriter) lineBreak() {
	w.space = false
	if w.sb.Len() == 0 || w.newlines >= 2 {
		return
	}
	w.sb.WriteByte('\n')
	w.newlines++
}
