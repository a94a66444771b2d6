package messages

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// normalizeBody returns the message body text: the preferred plain-text
// column when populated, otherwise text recovered from the secondary
// encoded column. The result is always valid UTF-8.
func normalizeBody(text string, encoded []byte) string {
	if strings.TrimSpace(text) != "" {
		return ensureUTF8(text)
	}
	if len(encoded) == 0 {
		return ""
	}
	return ensureUTF8(extractEncodedText(encoded))
}

// extractEncodedText pulls the readable payload out of the store's
// archived rich-text blob. The blob wraps the string in a keyed archive;
// rather than decode the container format, locate the string marker and
// take the longest printable run after it.
func extractEncodedText(data []byte) string {
	if idx := bytes.Index(data, []byte("NSString")); idx >= 0 {
		data = data[idx+len("NSString"):]
	}

	best := longestPrintableRun(data)
	// Archive field names leak into short runs; require a little substance.
	if utf8.RuneCountInString(best) < 2 {
		return ""
	}
	return strings.TrimSpace(best)
}

// longestPrintableRun returns the longest contiguous run of printable
// runes in data, decoding as UTF-8 where possible.
func longestPrintableRun(data []byte) string {
	var best, current []rune
	flush := func() {
		if len(current) > len(best) {
			best = current
		}
		current = nil
	}

	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			flush()
			i++
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			current = append(current, r)
		} else {
			flush()
		}
		i += size
	}
	flush()
	return string(best)
}

// ensureUTF8 ensures a string is valid UTF-8, attempting charset
// detection and conversion before falling back to replacement characters.
func ensureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	data := []byte(s)

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}

	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err == nil && result.Confidence >= minConfidence {
		if enc := encodingByName(result.Charset); enc != nil {
			decoded, err := enc.NewDecoder().Bytes(data)
			if err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	// Common encodings in order of likelihood: single-byte Western first,
	// then multi-byte Asian encodings.
	encodings := []encoding.Encoding{
		charmap.Windows1252,
		charmap.ISO8859_1,
		japanese.ShiftJIS,
		korean.EUCKR,
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
	}
	for _, enc := range encodings {
		decoded, err := enc.NewDecoder().Bytes(data)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}

	return sanitizeUTF8(s)
}

// sanitizeUTF8 replaces invalid UTF-8 bytes with the replacement character.
func sanitizeUTF8(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
			i++
		} else {
			sb.WriteRune(r)
			i += size
		}
	}
	return sb.String()
}

// encodingByName returns an encoding for the given IANA charset name.
func encodingByName(name string) encoding.Encoding {
	switch name {
	case "windows-1252", "CP1252", "cp1252":
		return charmap.Windows1252
	case "ISO-8859-1", "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1
	case "Shift_JIS", "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "EUC-JP", "euc-jp", "eucjp":
		return japanese.EUCJP
	case "EUC-KR", "euc-kr", "euckr":
		return korean.EUCKR
	case "GB2312", "gb2312", "GBK", "gbk":
		return simplifiedchinese.GBK
	case "GB18030", "gb18030":
		return simplifiedchinese.GB18030
	case "Big5", "big5", "big-5":
		return traditionalchinese.Big5
	case "KOI8-R", "koi8-r":
		return charmap.KOI8R
	default:
		return nil
	}
}
