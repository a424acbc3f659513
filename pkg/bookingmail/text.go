package bookingmail

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
)

// HTMLToText flattens an HTML mail to text with one line per block and table
// row, so line-anchored patterns work on both HTML and plain-text bodies.
// The document is modified.
func HTMLToText(doc *goquery.Document) string {
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").AppendHtml(" ")
	doc.Find("p, div, tr, li, table, h1, h2, h3, h4, h5, h6").AppendHtml("\n")

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = normalizeSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// normalizeSpace collapses whitespace runs, non-breaking spaces included.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DecodeBody undoes a MIME transfer encoding. The mail API hands out body
// parts as unpadded or padded base64url.
func DecodeBody(data, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "7bit", "8bit", "binary":
		return data, nil
	case "base64url":
		out, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", errors.Wrap(err, "decode base64url body")
		}
		return string(out), nil
	case "base64":
		clean := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' {
				return -1
			}
			return r
		}, data)
		out, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return "", errors.Wrap(err, "decode base64 body")
		}
		return string(out), nil
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewBufferString(data)))
		if err != nil {
			return "", errors.Wrap(err, "decode quoted-printable body")
		}
		return string(out), nil
	default:
		return "", errors.Newf("unsupported transfer encoding %q", encoding)
	}
}
