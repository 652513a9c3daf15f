package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frequencies travel in kHz with three decimals.

func FormatKHz(hz float64) string {
	return strconv.FormatFloat(hz/1e3, 'f', 3, 64)
}

func ParseKHz(s string) (float64, error) {
	khz, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad frequency %q", ErrMalformed, s)
	}
	return math.Round(khz*1e3*1e3) / 1e3, nil
}

func FormatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func ParseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrMalformed, s)
	}
	return v, nil
}

func ParseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrMalformed, s)
	}
	return v, nil
}

func FormatOnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func ParseOnOff(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: bad switch value %q", ErrMalformed, s)
}

// Fields checks that a payload carries at least n values.
func Fields(payload []string, n int) error {
	if len(payload) < n {
		return fmt.Errorf("%w: expected %d values, got %d", ErrMalformed, n, len(payload))
	}
	return nil
}
