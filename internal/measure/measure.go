// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package measure parses generated text into a single lesion size in
// millimeters, correcting the magnitude with unit evidence found in the
// original report.
package measure

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultAmbiguousUpperBound is the exclusive upper edge of the band in
// which a bare value is reinterpreted as centimeters.
const DefaultAmbiguousUpperBound = 7

// smallValueLimit is the bound below which any bare value in a
// centimeter-bearing report is treated as a truncated centimeter value.
const smallValueLimit = 3

var (
	canonicalReplacer = strings.NewReplacer(
		"（", "(",
		"）", ")",
		"×", "x",
		"X", "x",
		"~", "-",
		"*", "-",
	)

	// Digits are any decimal digit, so full-width input such as "０.８cm"
	// is read like its ASCII form.
	numberUnitRe = regexp.MustCompile(`(?i)(\p{Nd}+\.?\p{Nd}*)\s*(cm|mm|um|μm|m)?`)
	numberRe     = regexp.MustCompile(`\p{Nd}+\.?\p{Nd}*`)
	centimeterRe = regexp.MustCompile(`(?i)cm`)
	millimeterRe = regexp.MustCompile(`(?i)mm`)
)

// Extractor turns generated text into a measurement.
type Extractor struct {
	// AmbiguousUpperBound is the exclusive upper edge of [3, bound).
	// Zero selects DefaultAmbiguousUpperBound.
	AmbiguousUpperBound float64
}

var defaultExtractor = Extractor{AmbiguousUpperBound: DefaultAmbiguousUpperBound}

// Extract runs the default extractor.
func Extract(generated, raw string) (float64, bool) {
	return defaultExtractor.Extract(generated, raw)
}

// Extract returns the largest measurement in generated, converted to
// millimeters, and false when generated holds no number at all. raw is the
// unmodified report used for the centimeter correction.
func (e Extractor) Extract(generated, raw string) (float64, bool) {
	text := canonicalize(generated)

	candidates := unitCandidates(text)
	if len(candidates) == 0 {
		candidates = bareCandidates(text)
	}
	if len(candidates) == 0 {
		return 0, false
	}

	value := candidates[0]
	for _, c := range candidates[1:] {
		value = math.Max(value, c)
	}

	return e.correct(value, raw), true
}

func (e Extractor) upperBound() float64 {
	if e.AmbiguousUpperBound <= 0 {
		return DefaultAmbiguousUpperBound
	}
	return e.AmbiguousUpperBound
}

// correct applies the context heuristics: small values and ambiguous values
// in centimeter reports are scaled to millimeters.
func (e Extractor) correct(value float64, raw string) float64 {
	hasCM := centimeterRe.MatchString(raw) || strings.Contains(raw, "厘米")
	hasMM := millimeterRe.MatchString(raw) || strings.Contains(raw, "毫米")

	switch {
	case value < smallValueLimit && hasCM:
		return value * 10
	case value >= smallValueLimit && value < e.upperBound() && hasCM && !hasMM:
		return value * 10
	}
	return value
}

func canonicalize(text string) string {
	return strings.ReplaceAll(canonicalReplacer.Replace(text), "(brn)", "")
}

func unitCandidates(text string) []float64 {
	var out []float64
	for _, m := range numberUnitRe.FindAllStringSubmatch(text, -1) {
		v, ok := parseNumber(m[1])
		if !ok {
			continue
		}
		if strings.EqualFold(m[2], "cm") {
			v *= 10
		}
		out = append(out, v)
	}
	return out
}

func bareCandidates(text string) []float64 {
	var out []float64
	for _, s := range numberRe.FindAllString(text, -1) {
		if v, ok := parseNumber(s); ok {
			out = append(out, v)
		}
	}
	return out
}

// parseNumber accepts a trailing decimal point ("8.") and compatibility
// digits, which NFKC folds to ASCII.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(norm.NFKC.String(s), "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Format renders whole values as integers and fractional values with the
// shortest exact decimal representation.
func Format(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
