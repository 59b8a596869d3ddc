package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	xmlDeclEnc = regexp.MustCompile(`^\s*<\?xml[^>]*encoding\s*=\s*["']([A-Za-z0-9._-]+)["']`)
)

// Clean prepares a raw payload for parsing: it drops a UTF-8 byte order
// mark and ASCII control characters that XML 1.0 forbids, and transcodes
// payloads that claim UTF-8 (or declare nothing) but are not valid UTF-8
// from windows-1252.
func Clean(payload []byte) []byte {
	p := bytes.TrimPrefix(payload, utf8BOM)

	if hasIllegalControl(p) {
		out := make([]byte, 0, len(p))
		for _, b := range p {
			if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
				continue
			}
			out = append(out, b)
		}
		p = out
	}

	if !utf8.Valid(p) && declaresUTF8(p) {
		if dec, err := charmap.Windows1252.NewDecoder().Bytes(p); err == nil {
			p = dec
		}
	}
	return p
}

func hasIllegalControl(p []byte) bool {
	for _, b := range p {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return true
		}
	}
	return false
}

// declaresUTF8 reports whether the prolog names UTF-8 or names no encoding.
func declaresUTF8(p []byte) bool {
	head := p
	if len(head) > 256 {
		head = head[:256]
	}
	m := xmlDeclEnc.FindSubmatch(head)
	if m == nil {
		return true
	}
	enc := strings.ToLower(string(m[1]))
	return enc == "utf-8" || enc == "utf8"
}
