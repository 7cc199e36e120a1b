package numerator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const barePlaceholder = "%NUMBER"

var bracePlaceholder = regexp.MustCompile(`\{number(?::(\d{1,2}))?\}`)

// partner counters pad the bare placeholder to three digits (KD-001).
var paddedBarePrefixes = []string{"KD-", "LF-", "PA-", "IN-"}

// Format renders number with the counter template.
//
// Supported placeholders are {number}, {number:N} (zero padded to N digits)
// and %NUMBER. Any other template falls back to format+number so that a bad
// template never blocks numbering.
func Format(number int64, format, prefix string) string {
	var out string
	switch {
	case bracePlaceholder.MatchString(format):
		out = bracePlaceholder.ReplaceAllStringFunc(format, func(m string) string {
			sub := bracePlaceholder.FindStringSubmatch(m)
			if sub[1] == "" {
				return strconv.FormatInt(number, 10)
			}
			width, _ := strconv.Atoi(sub[1])
			return fmt.Sprintf("%0*d", width, number)
		})
	case strings.Contains(format, barePlaceholder):
		n := strconv.FormatInt(number, 10)
		if hasPaddedBarePrefix(format) {
			n = fmt.Sprintf("%03d", number)
		}
		out = strings.ReplaceAll(format, barePlaceholder, n)
	default:
		out = format + strconv.FormatInt(number, 10)
	}

	if prefix != "" && !strings.HasPrefix(out, prefix) {
		out = prefix + out
	}
	return out
}

func hasPaddedBarePrefix(format string) bool {
	for _, p := range paddedBarePrefixes {
		if strings.HasPrefix(format, p) {
			return true
		}
	}
	return false
}
