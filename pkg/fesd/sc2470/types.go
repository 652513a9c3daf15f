package sc2470

import (
	"fmt"
	"math"
	"strings"

	"github.com/berfenger/fesd/pkg/fesd"
)

type Path int

const (
	PathRX Path = iota
	PathTX
)

func (p Path) String() string {
	if p == PathTX {
		return "TX"
	}
	return "RX"
}

func ParsePath(s string) (Path, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RX":
		return PathRX, nil
	case "TX":
		return PathTX, nil
	}
	return PathRX, &fesd.CommandError{Kind: fesd.ErrInvalidArgument, Path: s, Err: fmt.Errorf("unknown path")}
}

func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Frequency ranges in Hz.
const (
	RfMinHz     = 6.7e9
	RfMaxHz     = 26e9
	IfMinHz     = 700e6
	IfMaxHz     = 6e9
	LoMinHz     = 6e9
	LoMaxHz     = 25.3e9
	BypassMinHz = 50e6
	BypassMaxHz = 8.5e9
)

type RfFrequency float64

type IfFrequency float64

type LoFrequency float64

type BypassFrequency float64

func checkRange(name string, hz, min, max float64) error {
	if math.IsNaN(hz) || hz < min || hz > max {
		return &fesd.CommandError{
			Kind:   fesd.ErrFrequencyOutOfRange,
			Values: fmt.Sprintf("%s=%g", name, hz),
			Err:    fmt.Errorf("%s must be within %g..%g Hz", name, min, max),
		}
	}
	return nil
}

func (f RfFrequency) Validate() error {
	return checkRange("rf", float64(f), RfMinHz, RfMaxHz)
}

func (f IfFrequency) Validate() error {
	return checkRange("if", float64(f), IfMinHz, IfMaxHz)
}

func (f LoFrequency) Validate() error {
	return checkRange("lo", float64(f), LoMinHz, LoMaxHz)
}

func (f BypassFrequency) Validate() error {
	return checkRange("bypass", float64(f), BypassMinHz, BypassMaxHz)
}

// FrequencySet is one frequency plan of a path. A zero LoHz in a request
// lets the device pick the LO; applied sets always carry it. Bypass is
// RfHz == IfHz with no LO.
type FrequencySet struct {
	RfHz float64 `json:"rf_hz"`
	IfHz float64 `json:"if_hz"`
	LoHz float64 `json:"lo_hz"`
}

func (s FrequencySet) Bypass() bool {
	return s.LoHz == 0 && s.RfHz == s.IfHz && s.RfHz != 0
}

// MixerMode is how RF, IF and LO relate on a path.
type MixerMode int

const (
	// MixerLowSide has the LO below RF: rf = lo + if.
	MixerLowSide MixerMode = iota
	// MixerHighSide has the LO above RF: rf = lo - if.
	MixerHighSide
)

// Family is the per-family mixing and quantization data.
type Family struct {
	Mixer      MixerMode
	LOStepHz   float64
	GainStepDb float64
}

// SC2470 mixes low side on both paths with a 1 kHz synthesizer and 0.25 dB
// gain steps.
var SC2470 = Family{
	Mixer:      MixerLowSide,
	LOStepHz:   1e3,
	GainStepDb: 0.25,
}

// ImpliedLO is the LO that mixes rf down to ifr.
func (f Family) ImpliedLO(rf, ifr float64) float64 {
	if f.Mixer == MixerHighSide {
		return rf + ifr
	}
	return rf - ifr
}

// ImpliedIF is the IF produced by mixing rf with lo.
func (f Family) ImpliedIF(rf, lo float64) float64 {
	if f.Mixer == MixerHighSide {
		return lo - rf
	}
	return rf - lo
}

// ImpliedRF is the RF that mixes down to ifr with lo.
func (f Family) ImpliedRF(ifr, lo float64) float64 {
	if f.Mixer == MixerHighSide {
		return lo - ifr
	}
	return lo + ifr
}

type GainLimits struct {
	MinDb float64 `json:"min_db"`
	MaxDb float64 `json:"max_db"`
}

func (l GainLimits) Contains(db float64) bool {
	return db >= l.MinDb && db <= l.MaxDb
}

const (
	DCBiasMin = -2048
	DCBiasMax = 2047
)

type DCBias struct {
	I int `json:"i"`
	Q int `json:"q"`
}

const (
	TxAttenuationMaxDb = 31.5
	RxAttenuationMaxDb = 63.25
)

const SynthesizerPowerMax = 15

// PhaseOffsetMaxDeg bounds the LO phase offset in both directions.
const PhaseOffsetMaxDeg = 360.0

type SynthesizerMode int

const (
	SynthesizerInteger SynthesizerMode = iota
	SynthesizerFractional
)

func (m SynthesizerMode) String() string {
	if m == SynthesizerFractional {
		return "FRAC"
	}
	return "INT"
}

func ParseSynthesizerMode(s string) (SynthesizerMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT":
		return SynthesizerInteger, nil
	case "FRAC":
		return SynthesizerFractional, nil
	}
	return SynthesizerInteger, fmt.Errorf("unknown synthesizer mode %q", s)
}

func (m SynthesizerMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// InternalReferenceFrequency selects the reference a path synthesizer runs
// from. Automatic lets the device pick whichever keeps the LO integer.
type InternalReferenceFrequency int

const (
	InternalReferenceAutomatic InternalReferenceFrequency = iota
	InternalReference100MHz
	InternalReference105MHz
)

var internalReferenceTokens = map[InternalReferenceFrequency]string{
	InternalReferenceAutomatic: "AUTO",
	InternalReference100MHz:    "100000",
	InternalReference105MHz:    "105000",
}

func (r InternalReferenceFrequency) String() string {
	if s, ok := internalReferenceTokens[r]; ok {
		return s
	}
	return "UNKNOWN"
}

func ParseInternalReferenceFrequency(s string) (InternalReferenceFrequency, error) {
	token := strings.ToUpper(strings.TrimSpace(s))
	for r, t := range internalReferenceTokens {
		if t == token {
			return r, nil
		}
	}
	return InternalReferenceAutomatic, fmt.Errorf("unknown internal reference %q", s)
}

type SynthesizerSettings struct {
	Enable1x     bool `json:"enable_1x"`
	Enable2x     bool `json:"enable_2x"`
	PowerLevel1x int  `json:"power_level_1x"`
	PowerLevel2x int  `json:"power_level_2x"`
}

type DuplexSetting int

const (
	DuplexFDD DuplexSetting = iota
	DuplexTDDRX
	DuplexTDDTX
)

var duplexTokens = map[DuplexSetting]string{
	DuplexFDD:   "FDD",
	DuplexTDDRX: "TDDRX",
	DuplexTDDTX: "TDDTX",
}

func (d DuplexSetting) String() string {
	if s, ok := duplexTokens[d]; ok {
		return s
	}
	return "UNKNOWN"
}

func ParseDuplexSetting(s string) (DuplexSetting, error) {
	token := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "")
	for d, t := range duplexTokens {
		if t == token {
			return d, nil
		}
	}
	return DuplexFDD, fmt.Errorf("unknown duplex setting %q", s)
}

type ReferenceSource int

const (
	ReferenceInternal ReferenceSource = iota
	ReferenceExternal10MHz
	ReferenceExternal100MHz
)

func (r ReferenceSource) String() string {
	switch r {
	case ReferenceExternal10MHz:
		return "EXT10"
	case ReferenceExternal100MHz:
		return "EXT100"
	default:
		return "INT"
	}
}

func ParseReferenceSource(s string) (ReferenceSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INT":
		return ReferenceInternal, nil
	case "EXT10":
		return ReferenceExternal10MHz, nil
	case "EXT100":
		return ReferenceExternal100MHz, nil
	}
	return ReferenceInternal, fmt.Errorf("unknown reference source %q", s)
}

// wire form: source token and frequency in kHz
func (r ReferenceSource) args() []string {
	switch r {
	case ReferenceExternal10MHz:
		return []string{"EXT", "10000"}
	case ReferenceExternal100MHz:
		return []string{"EXT", "100000"}
	default:
		return []string{"INT", "0"}
	}
}

func parseReferenceArgs(source string, freqKHz int) (ReferenceSource, error) {
	switch {
	case source == "INT":
		return ReferenceInternal, nil
	case source == "EXT" && freqKHz == 10000:
		return ReferenceExternal10MHz, nil
	case source == "EXT" && freqKHz == 100000:
		return ReferenceExternal100MHz, nil
	}
	return ReferenceInternal, fmt.Errorf("unknown reference %s %d kHz", source, freqKHz)
}
