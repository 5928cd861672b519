// Package units normalizes dosage units to milligrams. IU has no mass
// equivalent and passes through unconverted with a caller-visible tag.
package units

import "strings"

// Unit is a normalized dosage unit.
type Unit string

const (
	Milligram Unit = "mg"
	Gram      Unit = "g"
	Microgram Unit = "mcg"
	IU        Unit = "IU"
	Percent   Unit = "%"
	Unknown   Unit = ""
)

// Parse maps the unit spellings seen on Swedish and English product pages
// onto a normalized Unit.
func Parse(raw string) Unit {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mg", "milligram", "milligrams":
		return Milligram
	case "g", "gr", "gram", "grams":
		return Gram
	case "mcg", "µg", "ug", "mikrogram", "microgram", "micrograms":
		return Microgram
	case "iu", "ie":
		return IU
	case "%":
		return Percent
	default:
		return Unknown
	}
}

// ToMilligrams converts a dosage to milligrams. IU and percent values are
// returned unchanged together with their unit tag so callers can surface
// them instead of silently misreporting mass.
func ToMilligrams(value float64, u Unit) (float64, Unit) {
	switch u {
	case Gram:
		return value * 1000, Milligram
	case Microgram:
		return value / 1000, Milligram
	case Milligram:
		return value, Milligram
	default:
		return value, u
	}
}

// FromMilligrams converts a milligram amount back to the given unit. It is
// the inverse of ToMilligrams for mass units and the identity otherwise.
func FromMilligrams(value float64, u Unit) float64 {
	switch u {
	case Gram:
		return value / 1000
	case Microgram:
		return value * 1000
	default:
		return value
	}
}
