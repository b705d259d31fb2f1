package compose

import (
	"math"
	"strconv"
	"strings"

	"github.com/openaip/budget-chat/internal/storage"
)

// FormatPHP renders an amount as "PHP 1,234,567.89".
func FormatPHP(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	whole, frac := s[:len(s)-3], s[len(s)-2:]

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := "PHP "
	if neg && (whole != "0" || frac != "00") {
		out += "-"
	}
	return out + b.String() + "." + frac
}

// FormatPHPPtr renders a nullable amount, "N/A" when absent.
func FormatPHPPtr(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return FormatPHP(*v)
}

// FormatSchedule renders "start to end" with N/A for missing ends.
func FormatSchedule(start, end *string) string {
	s, e := trimPtr(start), trimPtr(end)
	switch {
	case s != "" && e != "":
		return s + " to " + e
	case s != "":
		return s + " to N/A"
	case e != "":
		return "N/A to " + e
	}
	return "N/A"
}

func trimPtr(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func orNA(s *string) string {
	if v := trimPtr(s); v != "" {
		return v
	}
	return "N/A"
}

// ScopeLabel renders a jurisdiction for display: "Barangay X", "City of X", "Municipality of X".
func ScopeLabel(scopeType storage.ScopeType, name string) string {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)

	switch scopeType {
	case storage.ScopeBarangay:
		if name == "" {
			return "your barangay"
		}
		if strings.HasPrefix(lower, "barangay ") {
			return name
		}
		return "Barangay " + name
	case storage.ScopeCity:
		if name == "" {
			return "the city"
		}
		if strings.HasPrefix(lower, "city of ") {
			return name
		}
		if strings.HasSuffix(lower, " city") {
			name = strings.TrimSpace(name[:len(name)-len(" city")])
		}
		return "City of " + name
	case storage.ScopeMunicipality:
		if name == "" {
			return "the municipality"
		}
		if strings.HasPrefix(lower, "municipality of ") {
			return name
		}
		if strings.HasSuffix(lower, " municipality") {
			name = strings.TrimSpace(name[:len(name)-len(" municipality")])
		}
		return "Municipality of " + name
	}
	return name
}

// ShortBarangayName strips a leading "Barangay " for compact listings.
func ShortBarangayName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(strings.ToLower(name), "barangay ") {
		return strings.TrimSpace(name[len("barangay "):])
	}
	return name
}
