package relay

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameBytes = 255
	// Longer suffixes are treated as part of the name, not an extension.
	maxExtensionBytes = 16
	fallbackFilename  = "file"
)

const illegalFilenameChars = `<>:"/\|?*`

// Non-ASCII spaces such as U+00A0 and U+3000 still separate words.
func spaceRune(r rune) rune {
	if r != ' ' && unicode.IsSpace(r) && !unicode.IsControl(r) {
		return ' '
	}
	return r
}

func dropRune(r rune) bool {
	return strings.ContainsRune(illegalFilenameChars, r) || !unicode.IsPrint(r)
}

// Sanitize makes name safe as an upload filename: characters illegal on
// common filesystems and non-printable runes are dropped, other spaces
// become plain spaces, the result is
// NFC-normalized and trimmed, and names over 255 bytes are shortened while
// keeping the extension. An empty result becomes "file".
func Sanitize(name string) string {
	t := transform.Chain(norm.NFC, runes.Map(spaceRune), runes.Remove(runes.Predicate(dropRune)))
	clean, _, err := transform.String(t, name)
	if err != nil {
		clean = strings.Map(func(r rune) rune {
			r = spaceRune(r)
			if dropRune(r) {
				return -1
			}
			return r
		}, name)
	}
	clean = strings.Trim(clean, " .")

	if len(clean) > maxFilenameBytes {
		ext := path.Ext(clean)
		if len(ext) > maxExtensionBytes {
			ext = ""
		}
		base := clean[:len(clean)-len(ext)]
		for len(base)+len(ext) > maxFilenameBytes {
			_, size := utf8.DecodeLastRuneInString(base)
			base = base[:len(base)-size]
		}
		clean = strings.TrimRight(base, " .") + ext
	}

	if clean == "" {
		return fallbackFilename
	}
	return clean
}
