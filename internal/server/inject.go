package server

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// InjectSnippet inserts snippet before the last </body> tag, else before the
// last </html> tag, else at the end of the document.
func InjectSnippet(doc []byte, snippet string) []byte {
	if snippet == "" {
		return doc
	}

	at := insertionPoint(doc)
	out := make([]byte, 0, len(doc)+len(snippet))
	out = append(out, doc[:at]...)
	out = append(out, snippet...)
	out = append(out, doc[at:]...)
	return out
}

func insertionPoint(doc []byte) int {
	body, htmlEnd := -1, -1
	offset := 0

	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return len(doc)
			}
			break
		}

		raw := len(z.Raw())
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			switch strings.ToLower(string(name)) {
			case "body":
				body = offset
			case "html":
				htmlEnd = offset
			}
		}
		offset += raw
	}

	switch {
	case body >= 0:
		return body
	case htmlEnd >= 0:
		return htmlEnd
	default:
		return len(doc)
	}
}
