package comic

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const minCoverLength = 10

var digitsPattern = regexp.MustCompile(`\d+`)

// ParseChapter extracts the first run of digits from a chapter label such as "Chapter 102".
func ParseChapter(raw string) (int, error) {
	match := digitsPattern.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("%w: no chapter number in %q", ErrExtraction, raw)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: parse chapter %q: %v", ErrExtraction, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: chapter must be positive, got %d", ErrExtraction, n)
	}
	return n, nil
}

// NormalizeTitle trims, capitalizes the first letter, lowercases the rest,
// rewrites "(novel)" to " - novel" and collapses inner whitespace.
func NormalizeTitle(raw string) string {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" {
		return ""
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	s = strings.ReplaceAll(string(runes), "(novel)", " - novel")
	return strings.Join(strings.Fields(s), " ")
}

// FoldTitle returns the Unicode case-folded NFC form of a title. Stores that match titles
// outside Go persist it as the search key.
func FoldTitle(title string) string {
	return cases.Fold().String(norm.NFC.String(title))
}

// ContainsFold reports whether needle is a case-insensitive substring of haystack.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(FoldTitle(haystack), FoldTitle(needle))
}

// ParseType maps publisher type labels ("NEW Manhwa", "webtoon") to a Type.
func ParseType(raw string) Type {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "NEW ")
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manga":
		return TypeManga
	case "manhua":
		return TypeManhua
	case "manhwa", "webtoon":
		return TypeManhwa
	case "novel":
		return TypeNovel
	default:
		return TypeUnknown
	}
}

// ParseStatus maps publisher status labels to a Status.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return StatusCompleted
	case "ongoing":
		return StatusOnAir
	case "hiatus", "season end":
		return StatusBreak
	case "dropped":
		return StatusDropped
	default:
		return StatusUnknown
	}
}

// NormalizeCover cleans a scraped cover reference. Inline styles and lazy-load
// wrappers are cut back to the first "http"; root-relative paths are resolved
// against pageURL. It returns false when nothing usable remains.
func NormalizeCover(raw, pageURL string) (string, bool) {
	cover := strings.TrimSpace(raw)
	if idx := strings.Index(cover, "http"); idx >= 0 {
		cover = cover[idx:]
		cover = strings.TrimRight(cover, `'")`)
	} else if strings.HasPrefix(cover, "/") {
		base, err := url.Parse(pageURL)
		if err != nil || base.Host == "" {
			return "", false
		}
		ref, err := url.Parse(cover)
		if err != nil {
			return "", false
		}
		cover = base.ResolveReference(ref).String()
	}
	if len(cover) < minCoverLength {
		return "", false
	}
	return cover, true
}
