// ingest/encoding.go
package ingest

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding is the text encoding sniffed from a file prefix.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingUTF8BOM     Encoding = "utf-8-bom"
	EncodingUTF16LE     Encoding = "utf-16le"
	EncodingUTF16BE     Encoding = "utf-16be"
	EncodingWindows1252 Encoding = "windows-1252"
)

// sniffSize is how many leading bytes DetectEncoding looks at.
const sniffSize = 10000

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DetectEncoding picks an encoding from a byte order mark, then from UTF-8
// validity. Anything that is not valid UTF-8 is read as Windows-1252, which
// maps every byte and so never fails.
func DetectEncoding(sample []byte) Encoding {
	switch {
	case bytes.HasPrefix(sample, bomUTF8):
		return EncodingUTF8BOM
	case bytes.HasPrefix(sample, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(sample, bomUTF16BE):
		return EncodingUTF16BE
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return EncodingUTF8
	}
	return EncodingWindows1252
}

// trimPartialRune drops a multi-byte sequence cut off by the end of the sample.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}

// NewDecodingReader converts r to UTF-8. Undecodable bytes become U+FFFD
// instead of failing the read.
func NewDecodingReader(r io.Reader, enc Encoding) io.Reader {
	var t transform.Transformer
	switch enc {
	case EncodingUTF8BOM:
		t = unicode.UTF8BOM.NewDecoder()
	case EncodingUTF16LE:
		t = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingUTF16BE:
		t = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingWindows1252:
		t = charmap.Windows1252.NewDecoder()
	default:
		t = unicode.UTF8.NewDecoder()
	}
	return transform.NewReader(r, t)
}
