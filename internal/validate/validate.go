package validate

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	reEmail = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

const maxQ = 50

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 254 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// Password enforces the length window the auth backend accepts. bcrypt
// ignores bytes past 72.
func Password(s string) bool {
	l := len(s)
	return l >= 6 && l <= 72
}

// Q validates a product search term: trims, truncates to maxQ runes and
// allows letters (accented included), digits, spaces and a few punctuation
// marks. An empty term is valid and means "no name filter".
func Q(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	if utf8.RuneCountInString(s) > maxQ {
		s = string([]rune(s)[:maxQ])
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		case strings.ContainsRune(`-_'.,`, r):
		default:
			return "", false
		}
	}
	return s, true
}

// ID parses a positive row id.
func ID(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Page parses an optional 1-based page number; blank means no paging.
func Page(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 10000 {
		return 0, false
	}
	return n, true
}

// Delta parses a signed stock adjustment, clamped to avoid abuse.
func Delta(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n == 0 || n > 100000 || n < -100000 {
		return 0, false
	}
	return n, true
}

// Price parses a non-negative decimal amount.
func Price(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// Name validates a displayable name with a reasonable max length.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > 120 {
		return "", false
	}
	return s, true
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// ImageName checks that an uploaded file name carries an image extension.
func ImageName(s string) bool {
	return imageExts[strings.ToLower(filepath.Ext(s))]
}
