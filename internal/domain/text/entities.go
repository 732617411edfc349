// Package text decodes the character escapes that catalog APIs leave in
// display strings (song names, artist lists, album titles).
package text

import (
	"regexp"
	"strconv"
	"unicode/utf8"
)

var (
	decimalEscape = regexp.MustCompile(`&#(\d+);`)
	hexEscape     = regexp.MustCompile(`&#[xX]([0-9a-fA-F]+);`)
	namedEscape   = regexp.MustCompile(`&[#\w]+;`)
)

var namedEntities = map[string]string{
	"&quot;": `"`,
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&apos;": "'",
	"&nbsp;": " ",
}

// Decode resolves numeric (decimal and hex) escapes and a small set of named
// escapes. Each pass runs once, in that order, so "&amp;#39;" decodes to
// "&#39;" and stops there. Anything it does not recognise, including code
// points outside the Unicode range, is left as is.
func Decode(s string) string {
	if s == "" {
		return ""
	}

	out := decimalEscape.ReplaceAllStringFunc(s, func(m string) string {
		return numeric(m, decimalEscape, 10)
	})
	out = hexEscape.ReplaceAllStringFunc(out, func(m string) string {
		return numeric(m, hexEscape, 16)
	})
	return namedEscape.ReplaceAllStringFunc(out, func(m string) string {
		if v, ok := namedEntities[m]; ok {
			return v
		}
		return m
	})
}

// DecodeValue is Decode for loosely typed input: nil and non-string values
// yield "".
func DecodeValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Decode(s)
}

func numeric(match string, re *regexp.Regexp, base int) string {
	sub := re.FindStringSubmatch(match)
	if len(sub) != 2 {
		return match
	}
	n, err := strconv.ParseInt(sub[1], base, 32)
	if err != nil {
		return match
	}
	r := rune(n)
	if !utf8.ValidRune(r) {
		return match
	}
	return string(r)
}
