package access

import (
	"errors"
	"regexp"
)

type PlateFormat string

const (
	PlateLegacy   PlateFormat = "legacy"
	PlateMercosul PlateFormat = "mercosul"
	PlateUnknown  PlateFormat = "unknown"
)

// ErrEmptyPlateText is returned when the input has no letter or digit at all.
var ErrEmptyPlateText = errors.New("empty plate text")

// Brazilian plate grammars, applied to stripped, uppercased text.
var (
	legacyPlate   = regexp.MustCompile(`^[A-Z]{3}[0-9]{4}$`)
	mercosulPlate = regexp.MustCompile(`^[A-Z]{3}[0-9][A-Z][0-9]{2}$`)
)

const plateLen = 7

// PlateRead is the result of normalizing one OCR capture.
type PlateRead struct {
	Raw       string      `json:"raw_text"`
	Canonical string      `json:"plate"`
	Format    PlateFormat `json:"format_type"`
	Valid     bool        `json:"valid"`
	Corrected bool        `json:"corrected"`
}

// Display renders the plate the way it is printed: legacy plates carry a
// hyphen, Mercosul plates do not.
func (r PlateRead) Display() string {
	if r.Format == PlateLegacy && len(r.Canonical) == plateLen {
		return r.Canonical[:3] + "-" + r.Canonical[3:]
	}
	return r.Canonical
}

// Confusables maps letters to the digit OCR tends to confuse them with.
type Confusables map[byte]byte

// DefaultConfusables is the substitution table used when none is configured.
var DefaultConfusables = Confusables{
	'O': '0',
	'I': '1',
	'S': '5',
	'A': '4',
	'B': '8',
	'Z': '2',
}

// Normalizer turns raw OCR text into a canonical plate. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	correct       bool
	letterToDigit map[byte]byte
	digitToLetter map[byte]byte
}

// NewNormalizer builds a normalizer. When correct is set, a single
// confusable-character pass is attempted on strings that fail the strict
// grammars. A nil table selects DefaultConfusables.
func NewNormalizer(correct bool, table Confusables) *Normalizer {
	if table == nil {
		table = DefaultConfusables
	}
	n := &Normalizer{
		correct:       correct,
		letterToDigit: make(map[byte]byte, len(table)),
		digitToLetter: make(map[byte]byte, len(table)),
	}
	for letter, digit := range table {
		if !isLetter(letter) || !isDigit(digit) {
			continue
		}
		n.letterToDigit[letter] = digit
		// Two letters sharing a digit: keep the lower one so the inverse does
		// not depend on map iteration order.
		if prev, ok := n.digitToLetter[digit]; !ok || letter < prev {
			n.digitToLetter[digit] = letter
		}
	}
	return n
}

// Normalize strips separators, uppercases and classifies raw plate text.
// Text that matches neither grammar yields an invalid read with format
// unknown and a nil error.
func (n *Normalizer) Normalize(raw string) (PlateRead, error) {
	read := PlateRead{Raw: raw, Format: PlateUnknown}

	text := stripPlate(raw)
	if text == "" {
		return read, ErrEmptyPlateText
	}

	if format := classifyPlate(text); format != PlateUnknown {
		read.Canonical = text
		read.Format = format
		read.Valid = true
		return read, nil
	}

	if n == nil || !n.correct || len(text) != plateLen {
		return read, nil
	}

	legacy, lok := n.substitute(text, false)
	mercosul, mok := n.substitute(text, true)
	lok = lok && legacyPlate.MatchString(legacy)
	mok = mok && mercosulPlate.MatchString(mercosul)
	// A read that corrects into both grammars is discarded.
	if lok == mok {
		return read, nil
	}

	read.Valid = true
	read.Corrected = true
	if lok {
		read.Canonical = legacy
		read.Format = PlateLegacy
	} else {
		read.Canonical = mercosul
		read.Format = PlateMercosul
	}
	return read, nil
}

// substitute applies one confusable pass. Slots 0-2 are read as letters and
// slots 3, 5 and 6 as digits. Slot 4 tells the grammars apart: for a legacy
// reading its confusable letter becomes a digit, for a Mercosul reading it is
// left as it is. The bool reports whether anything was rewritten.
func (n *Normalizer) substitute(text string, keepSlot4 bool) (string, bool) {
	b := []byte(text)
	changed := false
	for i, c := range b {
		var repl byte
		var ok bool
		switch {
		case i < 3:
			repl, ok = n.digitToLetter[c]
		case i == 4 && keepSlot4:
		default:
			repl, ok = n.letterToDigit[c]
		}
		if ok {
			b[i] = repl
			changed = true
		}
	}
	return string(b), changed
}

func classifyPlate(text string) PlateFormat {
	switch {
	case legacyPlate.MatchString(text):
		return PlateLegacy
	case mercosulPlate.MatchString(text):
		return PlateMercosul
	default:
		return PlateUnknown
	}
}

// stripPlate keeps ASCII letters and digits, uppercased.
func stripPlate(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
		case isLetter(c), isDigit(c):
			out = append(out, c)
		}
	}
	return string(out)
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
