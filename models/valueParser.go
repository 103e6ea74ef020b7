package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	durationPattern      = regexp.MustCompile(`^(\d+):(\d{1,2})$`)
	plainDecimalPattern  = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)$`)
	groupedIntPattern    = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+$`)
	decimalCommaPattern  = regexp.MustCompile(`^[-+]?\d+,\d+$`)
	maxDurationHours     = int64(math.MaxInt64 / 60)
	errReasonRequired    = "required"
	errReasonDurationFmt = "expected H:MM with MM between 00 and 59"
)

// ParseDuration parses cumulative running time written as H:MM into minutes.
// H has no upper bound (running hours pass 24); MM must be 0..59.
func ParseDuration(text string) (int64, error) {
	return parseDuration("", text)
}

func parseDuration(field, text string) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, &FormatError{Field: field, Input: text, Reason: errReasonRequired}
	}
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &FormatError{Field: field, Input: text, Reason: errReasonDurationFmt}
	}
	hours, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || hours > maxDurationHours {
		return 0, &FormatError{Field: field, Input: text, Reason: "hours out of range"}
	}
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	if minutes > 59 {
		return 0, &FormatError{Field: field, Input: text, Reason: errReasonDurationFmt}
	}
	total := hours*60 + minutes
	if total < 0 {
		return 0, &FormatError{Field: field, Input: text, Reason: "hours out of range"}
	}
	return total, nil
}

// FormatDuration renders minutes back to H:MM.
func FormatDuration(minutes int64) string {
	sign := ""
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%d:%02d", sign, minutes/60, minutes%60)
}

// FormatDurationDecimal is FormatDuration for values held as decimals.
func FormatDurationDecimal(minutes decimal.Decimal) string {
	return FormatDuration(minutes.Round(0).IntPart())
}

// ParseDecimal parses a quantity typed by an operator.
//
//	"1234.5"   -> 1234.5
//	"1,234"    -> 1234      (thousands groups of three)
//	"1,234,567.25" is rejected: mixed separators are ambiguous
//	"12,5"     -> 12.5      (single comma not followed by a 3 digit group)
//	".5", "5." -> 0.5, 5    (bare leading or trailing point)
//
// Blank input is an error; use ParseOptionalDecimal for optional fields.
func ParseDecimal(text string) (decimal.Decimal, error) {
	return parseDecimal("", text)
}

// ParseOptionalDecimal returns ok=false for blank input instead of an error.
func ParseOptionalDecimal(text string) (decimal.Decimal, bool, error) {
	if strings.TrimSpace(text) == "" {
		return decimal.Zero, false, nil
	}
	d, err := parseDecimal("", text)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

func parseDecimal(field, text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return decimal.Zero, &FormatError{Field: field, Input: text, Reason: errReasonRequired}
	}
	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		// 1,234.56 reads as 1234.56 in one locale and 1.23456 in another.
		return decimal.Zero, &FormatError{Field: field, Input: text, Reason: "ambiguous mixed separators"}
	case hasComma:
		if groupedIntPattern.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else if decimalCommaPattern.MatchString(s) {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			return decimal.Zero, &FormatError{Field: field, Input: text, Reason: "misplaced thousands separator"}
		}
	}
	if !plainDecimalPattern.MatchString(s) {
		return decimal.Zero, &FormatError{Field: field, Input: text, Reason: "not a number"}
	}
	s = normalizePoint(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &FormatError{Field: field, Input: text, Reason: "not a number"}
	}
	return d, nil
}

// ParseMetricValue parses text according to the metric kind and tags errors with field.
// Duration values come back as minutes.
func ParseMetricValue(field string, kind MetricKind, text string) (decimal.Decimal, error) {
	if kind == MetricKindDuration {
		minutes, err := parseDuration(field, text)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(minutes), nil
	}
	return parseDecimal(field, text)
}

// ParseFieldDecimal is ParseDecimal with the field name attached to any error.
func ParseFieldDecimal(field, text string) (decimal.Decimal, error) {
	return parseDecimal(field, text)
}

// ParseOptionalFieldDecimal is ParseOptionalDecimal with the field name attached.
func ParseOptionalFieldDecimal(field, text string) (decimal.Decimal, bool, error) {
	if strings.TrimSpace(text) == "" {
		return decimal.Zero, false, nil
	}
	d, err := parseDecimal(field, text)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

// FormatMetricValue is the inverse of ParseMetricValue for display.
func FormatMetricValue(kind MetricKind, v decimal.Decimal) string {
	if kind == MetricKindDuration {
		return FormatDurationDecimal(v)
	}
	return v.String()
}

// normalizePoint turns ".5" into "0.5" and "5." into "5".
func normalizePoint(s string) string {
	sign := ""
	switch s[0] {
	case '-':
		sign, s = "-", s[1:]
	case '+':
		s = s[1:]
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	return sign + strings.TrimSuffix(s, ".")
}
