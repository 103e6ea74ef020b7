package models

import (
	"errors"
	"testing"
)

func TestParseDuration_Valid(t *testing.T) {
	cases := []struct {
		in       string
		expected int64
	}{
		{"4435:12", 4435*60 + 12},
		{"4436:42", 4436*60 + 42},
		{"0:00", 0},
		{"1:5", 65},
		{" 25:59 ", 25*60 + 59},
		{"100000:00", 100000 * 60},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("ParseDuration(%q) expected %d, got %d", tc.in, tc.expected, got)
		}
	}
}

func TestParseDuration_RejectsMalformed(t *testing.T) {
	for _, in := range []string{"12:60", "-1:00", "", "  ", "abc", "1:2:3", "12", "12:", ":30", "1.5:00", "12:345", "99999999999999999999:00"} {
		_, err := ParseDuration(in)
		if err == nil {
			t.Fatalf("ParseDuration(%q) expected error", in)
		}
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("ParseDuration(%q) expected FormatError, got %v", in, err)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		90:           "1:30",
		0:            "0:00",
		4435*60 + 12: "4435:12",
		-90:          "-1:30",
	}
	for in, expected := range cases {
		if got := FormatDuration(in); got != expected {
			t.Fatalf("FormatDuration(%d) expected %s, got %s", in, expected, got)
		}
	}
}

func TestParseDecimal_AcceptsSeparators(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"1234.5", "1234.5"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"12,5", "12.5"},
		{"0", "0"},
		{" 42 ", "42"},
		{"-3.25", "-3.25"},
		{".5", "0.5"},
		{"-.25", "-0.25"},
		{"5.", "5"},
		{" 12. ", "12"},
		{"+.75", "0.75"},
	}
	for _, tc := range cases {
		d, err := ParseDecimal(tc.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseDecimal(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseDecimal_RejectsAmbiguousAndBlank(t *testing.T) {
	for _, in := range []string{"1,234.56", "1.234,56", "", "   ", "abc", "1.2.3", "12,34,5", "1 234", "1e5", ".", "-.", "5..", "..5", ".5."} {
		_, err := ParseDecimal(in)
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("ParseDecimal(%q) expected FormatError, got %v", in, err)
		}
	}
}

func TestParseOptionalDecimal_BlankIsAbsent(t *testing.T) {
	d, ok, err := ParseOptionalDecimal("  ")
	if err != nil || ok || !d.IsZero() {
		t.Fatalf("expected (0,false,nil), got (%s,%v,%v)", d, ok, err)
	}
	if _, _, err := ParseOptionalDecimal("1,234.5"); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected FormatError for mixed separators, got %v", err)
	}
}

func TestParseMetricValue_CarriesField(t *testing.T) {
	_, err := ParseMetricValue("closing.rh", MetricKindDuration, "12:60")
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
	if fe.Field != "closing.rh" || ErrorField(err) != "closing.rh" {
		t.Fatalf("expected field closing.rh, got %q", fe.Field)
	}
}
