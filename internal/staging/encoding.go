package staging

// encoding.go turns staged bytes into text without ever giving up on a file
// that could be read somehow. The ladder is:
//
//  1. UTF-8, with a leading BOM (0xEF 0xBB 0xBF) stripped
//  2. Latin-1 (ISO-8859-1), which is what spreadsheet exports on Windows
//     usually are when they are not UTF-8
//  3. UTF-8 with invalid sequences replaced by U+FFFD
//
// Every byte is a valid ISO-8859-1 code point, so step 2 accepts any input
// that is not UTF-8 and step 3 is only reached if the Latin-1 decoder reports
// an error. Mixed or damaged UTF-8 therefore decodes as Latin-1 mojibake, not
// as replacement characters.

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode converts raw file content to a string using the fallback ladder.
func Decode(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)

	if utf8.Valid(data) {
		return string(data)
	}

	if text, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(text)
	}

	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
