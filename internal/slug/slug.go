// Package slug turns human-facing names into storage-safe identifiers and
// splits compound "org/dataset" tags.
//
// Parsing a tag never validates it: callers split first and then run IsValid
// on each half.
package slug

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// safeNamePattern allows lowercase letters, digits, '-' and '_', 1 to 255 long.
var safeNamePattern = regexp.MustCompile(`^[a-z0-9\-_]{1,255}$`)

// MaxLength is the longest slug an organization or dataset can be created
// with.
const MaxLength = 128

// IsValid reports whether s can be used as an organization or dataset slug.
func IsValid(s string) bool {
	return safeNamePattern.MatchString(s)
}

// targetCharset is the legacy single-byte charset names are squeezed through.
const targetCharset = "iso-8859-8"

var (
	charsetOnce sync.Once
	charset     encoding.Encoding
)

// targetEncoding looks the legacy charset up once per process. The index may
// not know the name on every build, in which case the charmap table is
// registered directly.
func targetEncoding() encoding.Encoding {
	charsetOnce.Do(func() {
		enc, err := htmlindex.Get(targetCharset)
		if err != nil || enc == nil {
			enc = charmap.ISO8859_8
		}
		charset = enc
	})
	return charset
}

// folds covers letters that carry no combining mark under NFKD.
var folds = strings.NewReplacer(
	"ß", "ss", "ẞ", "ss",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"ø", "o", "Ø", "o",
	"ł", "l", "Ł", "l",
	"đ", "d", "Đ", "d",
	"ð", "d", "Ð", "d",
	"þ", "th", "Þ", "th",
	"ı", "i",
)

// Normalize turns a display name into a slug candidate: accented letters are
// reduced to their ASCII form, anything the legacy charset cannot represent
// is dropped, separators become '-' and the result is lowercased. Normalize
// never fails but may return an empty or short string, so the result still
// has to pass IsValid.
func Normalize(name string) string {
	folded := folds.Replace(name)
	stripped, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), folded)
	if err != nil {
		stripped = folded
	}
	enc := encoding.ReplaceUnsupported(targetEncoding().NewEncoder())
	narrow, err := enc.String(stripped)
	if err != nil {
		narrow = stripped
	}

	var b strings.Builder
	b.Grow(len(narrow))
	for i := 0; i < len(narrow); i++ {
		c := narrow[i]
		switch {
		case c >= 0x80:
			// high half of the charset has no ASCII rendition
		case c == encodingReplacement:
		case isSeparator(rune(c)):
			b.WriteByte('-')
		default:
			b.WriteByte(c)
		}
	}
	return strings.ToLower(b.String())
}

// encodingReplacement is what ReplaceUnsupported writes for runes the charset
// lacks (the SUB control byte for single-byte charmaps).
const encodingReplacement = 0x1a

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Z, r)
}

// SplitOrgFromTag returns the organization part of an "org/dataset" tag, or
// "" when the tag has no '/'.
func SplitOrgFromTag(tag string) string {
	org, _, found := strings.Cut(tag, "/")
	if !found {
		return ""
	}
	return org
}

// SplitDatasetFromTag returns the dataset part of an "org/dataset" tag. A tag
// without '/' is a bare dataset slug.
func SplitDatasetFromTag(tag string) string {
	_, ds, found := strings.Cut(tag, "/")
	if !found {
		return tag
	}
	return ds
}

// SplitTag returns both halves of tag.
func SplitTag(tag string) (org, ds string) {
	return SplitOrgFromTag(tag), SplitDatasetFromTag(tag)
}
