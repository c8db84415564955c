// Package duration parses and formats UPnP H:MM:SS[.frac] time values.
package duration

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDuration parses a UPnP duration string of the form
// [-]H:MM:SS[.d+] or [-]H:MM:SS[.n/d] into seconds.
//
// Grammar: optional sign; one or more hour digits; exactly two minute
// digits (00-59); exactly two second digits (00-59); optional fractional
// part that is either a decimal or a rational n/d with n < d.
func ParseDuration(s string) (float64, error) {
	orig := s
	sign := 1.0
	if strings.HasPrefix(s, "-") {
		sign = -1.0
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("duration: malformed value %q", orig)
	}
	hourStr, minStr, secAndFrac := parts[0], parts[1], parts[2]

	if hourStr == "" || !isAllDigits(hourStr) {
		return 0, fmt.Errorf("duration: malformed hour field in %q", orig)
	}
	if len(minStr) != 2 || !isAllDigits(minStr) {
		return 0, fmt.Errorf("duration: minute field must be exactly 2 digits in %q", orig)
	}
	minutes, _ := strconv.Atoi(minStr)
	if minutes > 59 {
		return 0, fmt.Errorf("duration: minute out of range in %q", orig)
	}

	secStr := secAndFrac
	fracStr := ""
	if idx := strings.Index(secAndFrac, "."); idx >= 0 {
		secStr = secAndFrac[:idx]
		fracStr = secAndFrac[idx+1:]
	}
	if len(secStr) != 2 || !isAllDigits(secStr) {
		return 0, fmt.Errorf("duration: second field must be exactly 2 digits in %q", orig)
	}
	seconds, _ := strconv.Atoi(secStr)
	if seconds > 59 {
		return 0, fmt.Errorf("duration: second out of range in %q", orig)
	}

	hours, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, fmt.Errorf("duration: malformed hour field in %q: %w", orig, err)
	}

	total := float64(hours)*3600 + float64(minutes)*60 + float64(seconds)

	if fracStr != "" {
		frac, err := parseFraction(fracStr)
		if err != nil {
			return 0, fmt.Errorf("duration: malformed fraction in %q: %w", orig, err)
		}
		total += frac
	}

	return sign * total, nil
}

func parseFraction(s string) (float64, error) {
	if slash := strings.Index(s, "/"); slash >= 0 {
		nStr, dStr := s[:slash], s[slash+1:]
		if nStr == "" || dStr == "" || !isAllDigits(nStr) || !isAllDigits(dStr) {
			return 0, fmt.Errorf("malformed rational %q", s)
		}
		n, _ := strconv.Atoi(nStr)
		d, _ := strconv.Atoi(dStr)
		if d == 0 || n >= d {
			return 0, fmt.Errorf("rational numerator must be less than denominator in %q", s)
		}
		return float64(n) / float64(d), nil
	}
	if s == "" || !isAllDigits(s) {
		return 0, fmt.Errorf("malformed decimal fraction %q", s)
	}
	d, err := strconv.ParseFloat("0."+s, 64)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ToDuration formats seconds as a UPnP duration string "[-]H:MM:SS.mmm",
// always with three decimal places and an unpadded (but never empty) hour
// field.
func ToDuration(sec float64) string {
	sign := ""
	if sec < 0 {
		sign = "-"
		sec = -sec
	}

	totalMillis := int64(sec*1000 + 0.5)
	hours := totalMillis / 3600000
	rem := totalMillis % 3600000
	minutes := rem / 60000
	rem = rem % 60000
	seconds := rem / 1000
	millis := rem % 1000

	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, hours, minutes, seconds, millis)
}
