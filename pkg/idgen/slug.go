package idgen

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separators used when composing ids.
const (
	// HierarchySeparator joins scope segments: "nl-r1-c1".
	HierarchySeparator = "-"
	// DescriptionSeparator splits an entity id from a description suffix:
	// "nl-r1-c1.eng".
	DescriptionSeparator = "."
	// DefaultSlugReplace substitutes characters that are unsafe in an id.
	DefaultSlugReplace = "_"
)

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns s into a safe id segment: diacritics are stripped and
// letters lower-cased. Between two letters or digits, a run of other
// characters becomes a single replacement, or a single hyphen when the run
// is made of hyphens only. Runs at either end are dropped.
func Slugify(s, replacement string) string {
	if replacement == "" {
		replacement = DefaultSlugReplace
	}
	folded, _, err := transform.String(foldMarks, strings.TrimSpace(s))
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var sb strings.Builder
	hyphens, unsafe := false, false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if sb.Len() > 0 {
				if unsafe {
					sb.WriteString(replacement)
				} else if hyphens {
					sb.WriteString(HierarchySeparator)
				}
			}
			hyphens, unsafe = false, false
			sb.WriteRune(r)
		case r == '-':
			hyphens = true
		default:
			unsafe = true
		}
	}
	return sb.String()
}

// JoinPath slugifies and joins scope segments with HierarchySeparator.
// When a segment starts with (but differs from) the previous one, that
// prefix and any separators after it are dropped, so ["nl", "r1", "c1",
// "c1-c2"] yields "nl-r1-c1-c2". Blank segments are skipped.
func JoinPath(segments []string, replacement string) string {
	var out []string
	prev := ""
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		part := seg
		if prev != "" && seg != prev && strings.HasPrefix(seg, prev) {
			part = strings.TrimLeft(seg[len(prev):], HierarchySeparator+replacement+" ")
		}
		prev = seg
		if s := Slugify(part, replacement); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, HierarchySeparator)
}
