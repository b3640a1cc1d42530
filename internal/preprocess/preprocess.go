// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package preprocess normalizes raw imaging findings before they are
// substituted into a prompt. Normalize is pure and deterministic; its steps
// run in a fixed order because later steps rely on token boundaries produced
// by earlier ones.
package preprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// multiplySign is the canonical dimension separator.
const multiplySign = "×"

// maxAnnotationLen is the longest bracketed fragment (in runes, brackets
// included) that is treated as an image reference and removed.
const maxAnnotationLen = 20

// anatomyKeywords are the characters for lung, diaphragm, rib and airway.
const anatomyKeywords = "肺膈肋气"

// segmentTerminators end a clause: CJK period, CJK semicolon, ASCII semicolon.
const segmentTerminators = "。；;"

var (
	noiseReplacer = strings.NewReplacer("(brn)", "", "（brn）", "")

	separatorReplacer = strings.NewReplacer(
		"x", multiplySign,
		"X", multiplySign,
		"*", multiplySign,
		"-", multiplySign,
		"~", multiplySign,
	)

	// dimensionRe matches "N1×N2unit" where only the second operand carries the
	// unit. Operands may use any decimal digits, full-width included.
	dimensionRe = regexp.MustCompile(`(\p{Nd}+(?:\.\p{Nd}+)?)×(\p{Nd}+(?:\.\p{Nd}+)?)(mm|cm)`)

	// annotationRe matches a bracketed fragment containing an image marker
	// (lm, im, img) in ASCII or full-width parentheses.
	annotationRe = regexp.MustCompile(`(?i)[（(][^)）]*?(?:lm|im|img)[^)）]*?[)）]`)
)

// Stages records the text after each normalization step.
type Stages struct {
	Formatted string
	Expanded  string
	Stripped  string
	Filtered  string
}

// Trace runs every step and keeps the intermediate results.
func Trace(raw string) Stages {
	var s Stages
	s.Formatted = normalizeFormat(raw)
	s.Expanded = expandDimensions(s.Formatted)
	s.Stripped = StripAnnotationTags(s.Expanded)
	s.Filtered = FilterSegments(s.Stripped)
	return s
}

// Normalize returns the cleaned text handed to the inference engine.
// A report with no relevant segment reduces to "".
func Normalize(raw string) string {
	return Trace(raw).Filtered
}

// normalizeFormat removes whitespace and the "(brn)" marker, then folds all
// separator variants into the canonical multiplication sign.
func normalizeFormat(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	text = noiseReplacer.Replace(text)
	return separatorReplacer.Replace(text)
}

// expandDimensions rewrites "8×10mm" as "8mm×10mm".
func expandDimensions(text string) string {
	return dimensionRe.ReplaceAllString(text, "${1}${3}"+multiplySign+"${2}${3}")
}

// StripAnnotationTags removes short bracketed image references such as
// "(img12)" or "（IM3）". Fragments longer than maxAnnotationLen runes are
// kept verbatim even when they contain a marker.
func StripAnnotationTags(text string) string {
	if text == "" {
		return text
	}
	return annotationRe.ReplaceAllStringFunc(text, func(m string) string {
		if utf8.RuneCountInString(m) <= maxAnnotationLen {
			return ""
		}
		return m
	})
}

// FilterSegments splits text into clauses at segmentTerminators (each
// terminator stays with its clause) and keeps, in order, only the clauses
// that mention an anatomy keyword and contain a digit.
func FilterSegments(text string) string {
	var kept strings.Builder
	for _, seg := range splitSegments(text) {
		if relevant(seg) {
			kept.WriteString(seg)
		}
	}
	return kept.String()
}

// splitSegments cuts after every terminator; a trailing fragment without a
// terminator becomes the final segment.
func splitSegments(text string) []string {
	var segments []string
	start := 0
	for i, r := range text {
		if strings.ContainsRune(segmentTerminators, r) {
			end := i + utf8.RuneLen(r)
			segments = append(segments, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		segments = append(segments, text[start:])
	}
	return segments
}

func relevant(seg string) bool {
	if !strings.ContainsAny(seg, anatomyKeywords) {
		return false
	}
	return strings.IndexFunc(seg, unicode.IsDigit) >= 0
}
