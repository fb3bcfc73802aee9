// Package note converts between frequencies and musical note names using
// twelve-tone equal temperament referenced to A4 = 440 Hz.
//
// Note names follow the pattern pitch class plus octave, e.g. "A4", "C#3" or
// "B-1". Sharps are the only accidentals produced or accepted. The special
// value [None] ("--") stands for "no note" and is returned for any input that
// cannot be mapped.
//
// All functions are pure and safe for concurrent use.
package note

import (
	"math"
	"regexp"
	"strconv"
)

// Name is a note name such as "A4" or "C#3".
type Name string

// None is the placeholder returned when no note can be derived.
const None Name = "--"

const (
	// ReferenceHz is the frequency of A4.
	ReferenceHz = 440.0

	// referenceMIDI is the MIDI number of A4.
	referenceMIDI = 69

	// DefaultCentsLimit is the display range of a cents meter (±50 cents, half a semitone).
	DefaultCentsLimit = 50.0
)

var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var nameRE = regexp.MustCompile(`^([A-G]#?)(-?\d+)$`)

// String implements [fmt.Stringer].
func (n Name) String() string { return string(n) }

// Valid reports whether n is a well-formed note name. [None] is not valid.
func (n Name) Valid() bool {
	_, ok := midiFromName(n)
	return ok
}

// FromFrequency returns the nearest note name for freq. It fails closed:
// non-positive, NaN and infinite inputs yield [None].
func FromFrequency(freq float64) Name {
	m, ok := midiFromFrequency(freq)
	if !ok {
		return None
	}
	return nameFromMIDI(m)
}

// ToFrequency returns the equal-temperament frequency of n. The boolean is
// false for [None] and for malformed names.
func ToFrequency(n Name) (float64, bool) {
	m, ok := midiFromName(n)
	if !ok {
		return 0, false
	}
	return frequencyFromMIDI(m), true
}

// CentsDeviation returns 1200·log2(freq/target), the distance of freq from
// target in cents. The result is unclamped; see [ClampCents]. The boolean is
// false unless both inputs are positive finite numbers.
func CentsDeviation(freq, target float64) (float64, bool) {
	if !positive(freq) || !positive(target) {
		return 0, false
	}
	return 1200 * math.Log2(freq/target), true
}

// ClampCents limits cents to [-limit, +limit]. A non-positive limit selects
// [DefaultCentsLimit].
func ClampCents(cents, limit float64) float64 {
	if limit <= 0 {
		limit = DefaultCentsLimit
	}
	return math.Max(-limit, math.Min(limit, cents))
}

// Nearest maps freq to its nearest note and returns that note's exact
// frequency together with the deviation of freq from it in cents.
// For unmappable input it returns [None], 0, 0.
func Nearest(freq float64) (Name, float64, float64) {
	m, ok := midiFromFrequency(freq)
	if !ok {
		return None, 0, 0
	}
	target := frequencyFromMIDI(m)
	cents, _ := CentsDeviation(freq, target)
	return nameFromMIDI(m), target, cents
}

func midiFromFrequency(freq float64) (int, bool) {
	if !positive(freq) {
		return 0, false
	}
	m := math.Round(12*math.Log2(freq/ReferenceHz) + referenceMIDI)
	if math.IsInf(m, 0) || math.IsNaN(m) || m > math.MaxInt32 || m < math.MinInt32 {
		return 0, false
	}
	return int(m), true
}

func midiFromName(n Name) (int, bool) {
	match := nameRE.FindStringSubmatch(string(n))
	if match == nil {
		return 0, false
	}
	octave, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	for pc, name := range pitchClasses {
		if name == match[1] {
			return (octave+1)*12 + pc, true
		}
	}
	return 0, false
}

// nameFromMIDI uses floored division so that negative MIDI numbers map to
// octaves below -1 instead of wrapping into the wrong pitch class.
func nameFromMIDI(m int) Name {
	pc := ((m % 12) + 12) % 12
	octave := floorDiv(m, 12) - 1
	return Name(pitchClasses[pc] + strconv.Itoa(octave))
}

func frequencyFromMIDI(m int) float64 {
	return ReferenceHz * math.Pow(2, float64(m-referenceMIDI)/12)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}
