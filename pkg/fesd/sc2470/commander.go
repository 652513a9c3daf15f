// Package sc2470 drives the SC2470 dual-path frequency converter.
package sc2470

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/commander"
	"github.com/berfenger/fesd/pkg/fesd/wire"
)

const (
	opFrequency    = "PATH:FREQ"
	opGain         = "PATH:GAIN"
	opGainLimits   = "PATH:GAINLIM"
	opRxAttn       = "IFPATH:ATTN"
	opTxAttn       = "RFPATH:ATTN"
	opDCBias       = "IFPATH:DCBIAS"
	opLOEnable     = "LOCLK:EN"
	opLOFrequency  = "LOCLK:FREQ"
	opPhaseOffset  = "LOCLK:PHASE"
	opSynthesizer  = "SYN:CFG"
	opSynthRef     = "SYN:REFFREQ"
	opSynthMode    = "SYN:MODE"
	opDuplex       = "RFPATH:DUPLEX"
	opReference    = "REFPLL:CONFIG"
	opReferenceOut = "REFPLL:OUTPUT"
)

// limits closer than this mean the device was never calibrated
const calibrationEpsilonDb = 1e-6

// Commander controls one SC2470. Besides the device binding it only keeps
// the gain limits last read from each path.
type Commander struct {
	*commander.Base
	family Family

	mu     sync.Mutex
	limits map[Path]GainLimits
}

// New binds a Commander to device, which must be an SC2470.
func New(mux commander.Exchanger, device fesd.Device, settle time.Duration) (*Commander, error) {
	if device.Type != fesd.DeviceTypeSC2470 {
		return nil, &fesd.CommandError{
			Kind:   fesd.ErrTypeMismatch,
			Serial: device.SerialNumber,
			Port:   device.Port,
			Err:    fmt.Errorf("device is %s", device.Type),
		}
	}
	return &Commander{
		Base:   commander.NewBase(mux, device, settle),
		family: SC2470,
		limits: make(map[Path]GainLimits, 2),
	}, nil
}

func (c *Commander) slot() uint16 {
	return c.Device().SlotID
}

func (c *Commander) exchange(ctx context.Context, path string, outOfRange error, req wire.Request) (*wire.Response, error) {
	resp, err := c.Exchange(ctx, path, req)
	if err != nil {
		return nil, commander.Reclassify(err, outOfRange)
	}
	return resp, nil
}

func (c *Commander) invalid(kind error, path fmt.Stringer, opcode string, values string, err error) error {
	p := ""
	if path != nil {
		p = path.String()
	}
	return c.Invalid(kind, p, opcode, values, err)
}

func freqArgs(path Path, set FrequencySet) []string {
	return []string{path.String(), wire.FormatKHz(set.RfHz), wire.FormatKHz(set.IfHz), wire.FormatKHz(set.LoHz)}
}

func (c *Commander) setFrequencies(ctx context.Context, path Path, set FrequencySet) (FrequencySet, error) {
	req := wire.Set(opFrequency, c.slot(), freqArgs(path, set)...)
	resp, err := c.exchange(ctx, path.String(), fesd.ErrFrequencyOutOfRange, req)
	if err != nil {
		return FrequencySet{}, err
	}
	applied, err := parseFrequencySet(resp.Payload)
	if err != nil {
		return FrequencySet{}, c.Malformed(path.String(), req, err)
	}
	return applied, nil
}

func parseFrequencySet(payload []string) (FrequencySet, error) {
	if err := wire.Fields(payload, 3); err != nil {
		return FrequencySet{}, err
	}
	var v [3]float64
	for i := range v {
		hz, err := wire.ParseKHz(payload[i])
		if err != nil {
			return FrequencySet{}, err
		}
		v[i] = hz
	}
	return FrequencySet{RfHz: v[0], IfHz: v[1], LoHz: v[2]}, nil
}

func (c *Commander) planError(path Path, set FrequencySet, err error) error {
	return c.invalid(fesd.ErrUnsupportedFrequencyPlan, path, opFrequency,
		fmt.Sprintf("rf=%g if=%g lo=%g", set.RfHz, set.IfHz, set.LoHz), err)
}

func (c *Commander) rangeError(path Path, err error) error {
	return c.rangeErrorFor(path, opFrequency, err)
}

func (c *Commander) rangeErrorFor(path Path, opcode string, err error) error {
	return fesd.WithContext(err, fesd.ErrFrequencyOutOfRange, fesd.CommandError{
		Serial:  c.Device().SerialNumber,
		Port:    c.Device().Port,
		Path:    path.String(),
		Command: opcode,
	})
}

// ConfigureFrequencies tunes path to rf and ifr and lets the device pick
// the LO. Returns the applied plan. Both values are required here; zero is
// out of range rather than a request to derive it.
func (c *Commander) ConfigureFrequencies(ctx context.Context, path Path, rf RfFrequency, ifr IfFrequency) (FrequencySet, error) {
	if err := rf.Validate(); err != nil {
		return FrequencySet{}, c.rangeError(path, err)
	}
	if err := ifr.Validate(); err != nil {
		return FrequencySet{}, c.rangeError(path, err)
	}
	return c.ConfigureFrequencySet(ctx, path, FrequencySet{RfHz: float64(rf), IfHz: float64(ifr)})
}

// ConfigureFrequencySet applies a plan given by at least two of its three
// values. Zero values are derived by the device.
func (c *Commander) ConfigureFrequencySet(ctx context.Context, path Path, set FrequencySet) (FrequencySet, error) {
	given := 0
	if set.RfHz != 0 {
		given++
		if err := RfFrequency(set.RfHz).Validate(); err != nil {
			return FrequencySet{}, c.rangeError(path, err)
		}
	}
	if set.IfHz != 0 {
		given++
		if err := IfFrequency(set.IfHz).Validate(); err != nil {
			return FrequencySet{}, c.rangeError(path, err)
		}
	}
	if set.LoHz != 0 {
		given++
		if err := LoFrequency(set.LoHz).Validate(); err != nil {
			return FrequencySet{}, c.rangeError(path, err)
		}
	}
	if given < 2 {
		return FrequencySet{}, c.invalid(fesd.ErrInvalidArgument, path, opFrequency,
			fmt.Sprintf("rf=%g if=%g lo=%g", set.RfHz, set.IfHz, set.LoHz), fmt.Errorf("two of rf, if and lo are required"))
	}

	switch {
	case set.LoHz == 0:
		if err := LoFrequency(c.family.ImpliedLO(set.RfHz, set.IfHz)).Validate(); err != nil {
			return FrequencySet{}, c.planError(path, set, err)
		}
	case set.RfHz == 0:
		if err := RfFrequency(c.family.ImpliedRF(set.IfHz, set.LoHz)).Validate(); err != nil {
			return FrequencySet{}, c.planError(path, set, err)
		}
	case set.IfHz == 0:
		if err := IfFrequency(c.family.ImpliedIF(set.RfHz, set.LoHz)).Validate(); err != nil {
			return FrequencySet{}, c.planError(path, set, err)
		}
	}
	return c.setFrequencies(ctx, path, set)
}

// ConfigureRfLo tunes path to rf with a fixed LO; the IF follows.
func (c *Commander) ConfigureRfLo(ctx context.Context, path Path, rf RfFrequency, lo LoFrequency) (FrequencySet, error) {
	for _, f := range []interface{ Validate() error }{rf, lo} {
		if err := f.Validate(); err != nil {
			return FrequencySet{}, c.rangeError(path, err)
		}
	}
	return c.ConfigureFrequencySet(ctx, path, FrequencySet{RfHz: float64(rf), LoHz: float64(lo)})
}

// ConfigureIfLo tunes path to ifr with a fixed LO; the RF follows.
func (c *Commander) ConfigureIfLo(ctx context.Context, path Path, ifr IfFrequency, lo LoFrequency) (FrequencySet, error) {
	for _, f := range []interface{ Validate() error }{ifr, lo} {
		if err := f.Validate(); err != nil {
			return FrequencySet{}, c.rangeError(path, err)
		}
	}
	return c.ConfigureFrequencySet(ctx, path, FrequencySet{IfHz: float64(ifr), LoHz: float64(lo)})
}

// ConfigureBypassFrequency routes path around the mixer at by.
func (c *Commander) ConfigureBypassFrequency(ctx context.Context, path Path, by BypassFrequency) (FrequencySet, error) {
	if err := by.Validate(); err != nil {
		return FrequencySet{}, c.rangeError(path, err)
	}
	return c.setFrequencies(ctx, path, FrequencySet{RfHz: float64(by), IfHz: float64(by)})
}

func (c *Commander) GetFrequencies(ctx context.Context, path Path) (FrequencySet, error) {
	req := wire.Query(opFrequency, c.slot(), path.String())
	resp, err := c.exchange(ctx, path.String(), nil, req)
	if err != nil {
		return FrequencySet{}, err
	}
	set, err := parseFrequencySet(resp.Payload)
	if err != nil {
		return FrequencySet{}, c.Malformed(path.String(), req, err)
	}
	return set, nil
}

// GetGainLimits reads the calibrated gain range of path and remembers it
// for local checks in ConfigureGain.
func (c *Commander) GetGainLimits(ctx context.Context, path Path) (GainLimits, error) {
	req := wire.Query(opGainLimits, c.slot(), path.String())
	resp, err := c.exchange(ctx, path.String(), nil, req)
	if err != nil {
		return GainLimits{}, err
	}
	values, err := parseFloats(resp.Payload, 2)
	if err != nil {
		return GainLimits{}, c.Malformed(path.String(), req, err)
	}
	limits := GainLimits{MinDb: values[0], MaxDb: values[1]}
	if limits.MaxDb-limits.MinDb < calibrationEpsilonDb {
		return GainLimits{}, c.invalid(fesd.ErrCalibration, path, req.Command(),
			fmt.Sprintf("min=%g max=%g", limits.MinDb, limits.MaxDb), fmt.Errorf("empty gain range"))
	}

	c.mu.Lock()
	c.limits[path] = limits
	c.mu.Unlock()
	return limits, nil
}

// CachedGainLimits returns the limits last read from path, if any.
func (c *Commander) CachedGainLimits(path Path) (GainLimits, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limits[path]
	return l, ok
}

func (c *Commander) GetGain(ctx context.Context, path Path) (float64, error) {
	req := wire.Query(opGain, c.slot(), path.String())
	resp, err := c.exchange(ctx, path.String(), nil, req)
	if err != nil {
		return 0, err
	}
	values, err := parseFloats(resp.Payload, 1)
	if err != nil {
		return 0, c.Malformed(path.String(), req, err)
	}
	return values[0], nil
}

// ConfigureGain sets the gain of path and returns the applied value, which
// is quantized by the device.
func (c *Commander) ConfigureGain(ctx context.Context, path Path, gainDb float64) (float64, error) {
	if math.IsNaN(gainDb) || math.IsInf(gainDb, 0) {
		return 0, c.invalid(fesd.ErrInvalidArgument, path, opGain, fmt.Sprint(gainDb), fmt.Errorf("gain must be finite"))
	}
	if limits, ok := c.CachedGainLimits(path); ok && !limits.Contains(gainDb) {
		return 0, c.invalid(fesd.ErrGainOutOfRange, path, opGain, fmt.Sprint(gainDb),
			fmt.Errorf("outside %g..%g dB", limits.MinDb, limits.MaxDb))
	}
	req := wire.Set(opGain, c.slot(), path.String(), wire.FormatFloat(gainDb, 2))
	resp, err := c.exchange(ctx, path.String(), fesd.ErrGainOutOfRange, req)
	if err != nil {
		return 0, err
	}
	values, err := parseFloats(resp.Payload, 1)
	if err != nil {
		return 0, c.Malformed(path.String(), req, err)
	}
	return values[0], nil
}

func parseFloats(payload []string, n int) ([]float64, error) {
	if err := wire.Fields(payload, n); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		v, err := wire.ParseFloat(payload[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(payload []string, n int) ([]int, error) {
	if err := wire.Fields(payload, n); err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i := range out {
		v, err := wire.ParseInt(payload[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GetAttenuation returns the total attenuation of path. RX sums its two
// IF attenuators.
func (c *Commander) GetAttenuation(ctx context.Context, path Path) (float64, error) {
	var req wire.Request
	n := 1
	if path == PathRX {
		req = wire.Query(opRxAttn, c.slot(), path.String())
		n = 2
	} else {
		req = wire.Query(opTxAttn, c.slot(), path.String())
	}
	resp, err := c.exchange(ctx, path.String(), nil, req)
	if err != nil {
		return 0, err
	}
	return c.sumAttenuation(path, req, resp, n)
}

func (c *Commander) sumAttenuation(path Path, req wire.Request, resp *wire.Response, n int) (float64, error) {
	values, err := parseFloats(resp.Payload, n)
	if err != nil {
		return 0, c.Malformed(path.String(), req, err)
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total, nil
}

// ConfigureAttenuation sets the total attenuation of path and returns the
// applied value. On RX it is split over both attenuators.
func (c *Commander) ConfigureAttenuation(ctx context.Context, path Path, attnDb float64) (float64, error) {
	limit := TxAttenuationMaxDb
	if path == PathRX {
		limit = RxAttenuationMaxDb
	}
	if math.IsNaN(attnDb) || attnDb < 0 || attnDb > limit {
		return 0, c.invalid(fesd.ErrInvalidArgument, path, "ATTN", fmt.Sprint(attnDb), fmt.Errorf("attenuation must be within 0..%g dB", limit))
	}

	var req wire.Request
	n := 1
	if path == PathRX {
		b := 0.5 * math.Round(attnDb)
		a := attnDb - b
		req = wire.Set(opRxAttn, c.slot(), path.String(), wire.FormatFloat(a, 2), wire.FormatFloat(b, 2))
		n = 2
	} else {
		req = wire.Set(opTxAttn, c.slot(), path.String(), wire.FormatFloat(attnDb, 2))
	}
	resp, err := c.exchange(ctx, path.String(), fesd.ErrInvalidArgument, req)
	if err != nil {
		return 0, err
	}
	return c.sumAttenuation(path, req, resp, n)
}

func (c *Commander) GetDCBias(ctx context.Context, path Path) (DCBias, error) {
	req := wire.Query(opDCBias, c.slot(), path.String())
	resp, err := c.exchange(ctx, path.String(), nil, req)
	if err != nil {
		return DCBias{}, err
	}
	v, err := parseInts(resp.Payload, 2)
	if err != nil {
		return DCBias{}, c.Malformed(path.String(), req, err)
	}
	return DCBias{I: v[0], Q: v[1]}, nil
}

func (c *Commander) ConfigureDCBias(ctx context.Context, path Path, bias DCBias) (DCBias, error) {
	if bias.I < DCBiasMin || bias.I > DCBiasMax || bias.Q < DCBiasMin || bias.Q > DCBiasMax {
		return DCBias{}, c.invalid(fesd.ErrInvalidArgument, path, opDCBias, fmt.Sprintf("%d %d", bias.I, bias.Q),
			fmt.Errorf("bias must be within %d..%d", DCBiasMin, DCBiasMax))
	}
	req := wire.Set(opDCBias, c.slot(), path.String(), fmt.Sprint(bias.I), fmt.Sprint(bias.Q))
	resp, err := c.exchange(ctx, path.String(), fesd.ErrInvalidArgument, req)
	if err != nil {
		return DCBias{}, err
	}
	v, err := parseInts(resp.Payload, 2)
	if err != nil {
		return DCBias{}, c.Malformed(path.String(), req, err)
	}
	return DCBias{I: v[0], Q: v[1]}, nil
}

// single returns the one payload value of a reply to req.
func (c *Commander) single(ctx context.Context, path string, outOfRange error, req wire.Request) (string, error) {
	resp, err := c.exchange(ctx, path, outOfRange, req)
	if err != nil {
		return "", err
	}
	if err := wire.Fields(resp.Payload, 1); err != nil {
		return "", c.Malformed(path, req, err)
	}
	return resp.Payload[0], nil
}

func (c *Commander) onOff(ctx context.Context, path string, req wire.Request) (bool, error) {
	v, err := c.single(ctx, path, fesd.ErrInvalidArgument, req)
	if err != nil {
		return false, err
	}
	on, err := wire.ParseOnOff(v)
	if err != nil {
		return false, c.Malformed(path, req, err)
	}
	return on, nil
}

func (c *Commander) GetLOEnable(ctx context.Context, path Path) (bool, error) {
	return c.onOff(ctx, path.String(), wire.Query(opLOEnable, c.slot(), path.String()))
}

func (c *Commander) ConfigureLOEnable(ctx context.Context, path Path, enable bool) (bool, error) {
	return c.onOff(ctx, path.String(), wire.Set(opLOEnable, c.slot(), path.String(), wire.FormatOnOff(enable)))
}

func (c *Commander) loFrequency(ctx context.Context, path Path, outOfRange error, req wire.Request) (float64, error) {
	v, err := c.single(ctx, path.String(), outOfRange, req)
	if err != nil {
		return 0, err
	}
	hz, err := wire.ParseKHz(v)
	if err != nil {
		return 0, c.Malformed(path.String(), req, err)
	}
	return hz, nil
}

// GetLOFrequency returns the frequency on the LO clock output of path, zero
// when the output is disabled.
func (c *Commander) GetLOFrequency(ctx context.Context, path Path) (float64, error) {
	return c.loFrequency(ctx, path, nil, wire.Query(opLOFrequency, c.slot(), path.String()))
}

// ConfigureLOFrequency retunes the synthesizer of path to lo. The IF is
// kept, so the RF moves with the LO, and the phase offset restarts at zero.
// Returns the applied LO after quantization.
func (c *Commander) ConfigureLOFrequency(ctx context.Context, path Path, lo LoFrequency) (float64, error) {
	if err := lo.Validate(); err != nil {
		return 0, c.rangeErrorFor(path, opLOFrequency, err)
	}
	req := wire.Set(opLOFrequency, c.slot(), path.String(), wire.FormatKHz(float64(lo)))
	return c.loFrequency(ctx, path, fesd.ErrFrequencyOutOfRange, req)
}

func (c *Commander) phaseOffset(ctx context.Context, path Path, req wire.Request) (float64, error) {
	v, err := c.single(ctx, path.String(), fesd.ErrInvalidArgument, req)
	if err != nil {
		return 0, err
	}
	deg, err := wire.ParseFloat(v)
	if err != nil {
		return 0, c.Malformed(path.String(), req, err)
	}
	return deg, nil
}

func (c *Commander) GetPhaseOffset(ctx context.Context, path Path) (float64, error) {
	return c.phaseOffset(ctx, path, wire.Query(opPhaseOffset, c.slot(), path.String()))
}

// ConfigurePhaseOffset shifts the LO phase of path by deg. A nonzero offset
// keeps the synthesizer in fractional mode; zero releases it.
func (c *Commander) ConfigurePhaseOffset(ctx context.Context, path Path, deg float64) (float64, error) {
	if math.IsNaN(deg) || deg < -PhaseOffsetMaxDeg || deg > PhaseOffsetMaxDeg {
		return 0, c.invalid(fesd.ErrInvalidArgument, path, opPhaseOffset, fmt.Sprint(deg),
			fmt.Errorf("phase offset must be within %g..%g degrees", -PhaseOffsetMaxDeg, PhaseOffsetMaxDeg))
	}
	return c.phaseOffset(ctx, path, wire.Set(opPhaseOffset, c.slot(), path.String(), wire.FormatFloat(deg, 2)))
}

func (c *Commander) synthesizer(ctx context.Context, path Path, req wire.Request) (SynthesizerSettings, error) {
	resp, err := c.exchange(ctx, path.String(), fesd.ErrInvalidArgument, req)
	if err != nil {
		return SynthesizerSettings{}, err
	}
	if err := wire.Fields(resp.Payload, 4); err != nil {
		return SynthesizerSettings{}, c.Malformed(path.String(), req, err)
	}
	en1, err1 := wire.ParseOnOff(resp.Payload[0])
	en2, err2 := wire.ParseOnOff(resp.Payload[1])
	powers, err3 := parseInts(resp.Payload[2:], 2)
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return SynthesizerSettings{}, c.Malformed(path.String(), req, err)
		}
	}
	return SynthesizerSettings{Enable1x: en1, Enable2x: en2, PowerLevel1x: powers[0], PowerLevel2x: powers[1]}, nil
}

func (c *Commander) GetSynthesizerSettings(ctx context.Context, path Path) (SynthesizerSettings, error) {
	return c.synthesizer(ctx, path, wire.Query(opSynthesizer, c.slot(), path.String()))
}

func (c *Commander) ConfigureSynthesizerSettings(ctx context.Context, path Path, s SynthesizerSettings) (SynthesizerSettings, error) {
	if s.PowerLevel1x < 0 || s.PowerLevel1x > SynthesizerPowerMax || s.PowerLevel2x < 0 || s.PowerLevel2x > SynthesizerPowerMax {
		return SynthesizerSettings{}, c.invalid(fesd.ErrInvalidArgument, path, opSynthesizer,
			fmt.Sprintf("%d %d", s.PowerLevel1x, s.PowerLevel2x), fmt.Errorf("power levels must be within 0..%d", SynthesizerPowerMax))
	}
	return c.synthesizer(ctx, path, wire.Set(opSynthesizer, c.slot(), path.String(),
		wire.FormatOnOff(s.Enable1x), wire.FormatOnOff(s.Enable2x), fmt.Sprint(s.PowerLevel1x), fmt.Sprint(s.PowerLevel2x)))
}

// GetSynthesizerMode reports whether the synthesizer of path runs with an
// integer or a fractional divider.
func (c *Commander) GetSynthesizerMode(ctx context.Context, path Path) (SynthesizerMode, error) {
	req := wire.Query(opSynthMode, c.slot(), path.String())
	v, err := c.single(ctx, path.String(), nil, req)
	if err != nil {
		return SynthesizerInteger, err
	}
	m, err := ParseSynthesizerMode(v)
	if err != nil {
		return SynthesizerInteger, c.Malformed(path.String(), req, err)
	}
	return m, nil
}

func (c *Commander) internalReference(ctx context.Context, path Path, req wire.Request) (InternalReferenceFrequency, error) {
	v, err := c.single(ctx, path.String(), fesd.ErrInvalidArgument, req)
	if err != nil {
		return InternalReferenceAutomatic, err
	}
	r, err := ParseInternalReferenceFrequency(v)
	if err != nil {
		return InternalReferenceAutomatic, c.Malformed(path.String(), req, err)
	}
	return r, nil
}

func (c *Commander) GetInternalReferenceOverride(ctx context.Context, path Path) (InternalReferenceFrequency, error) {
	return c.internalReference(ctx, path, wire.Query(opSynthRef, c.slot(), path.String()))
}

// ConfigureInternalReferenceOverride pins the synthesizer reference of path
// to 100 or 105 MHz, or hands the choice back to the device.
func (c *Commander) ConfigureInternalReferenceOverride(ctx context.Context, path Path, r InternalReferenceFrequency) (InternalReferenceFrequency, error) {
	if _, ok := internalReferenceTokens[r]; !ok {
		return InternalReferenceAutomatic, c.invalid(fesd.ErrInvalidArgument, path, opSynthRef, fmt.Sprint(int(r)), fmt.Errorf("unknown internal reference"))
	}
	return c.internalReference(ctx, path, wire.Set(opSynthRef, c.slot(), path.String(), r.String()))
}

func (c *Commander) duplex(ctx context.Context, req wire.Request) (DuplexSetting, error) {
	resp, err := c.exchange(ctx, "", fesd.ErrInvalidArgument, req)
	if err != nil {
		return DuplexFDD, err
	}
	if err := wire.Fields(resp.Payload, 1); err != nil {
		return DuplexFDD, c.Malformed("", req, err)
	}
	d, err := ParseDuplexSetting(resp.Payload[0])
	if err != nil {
		return DuplexFDD, c.Malformed("", req, err)
	}
	return d, nil
}

func (c *Commander) GetDuplexSetting(ctx context.Context) (DuplexSetting, error) {
	return c.duplex(ctx, wire.Query(opDuplex, c.slot()))
}

func (c *Commander) ConfigureDuplexSetting(ctx context.Context, d DuplexSetting) (DuplexSetting, error) {
	if _, ok := duplexTokens[d]; !ok {
		return DuplexFDD, c.invalid(fesd.ErrInvalidArgument, nil, opDuplex, fmt.Sprint(int(d)), fmt.Errorf("unknown duplex setting"))
	}
	return c.duplex(ctx, wire.Set(opDuplex, c.slot(), d.String()))
}

func (c *Commander) reference(ctx context.Context, req wire.Request) (ReferenceSource, error) {
	resp, err := c.exchange(ctx, "", fesd.ErrInvalidArgument, req)
	if err != nil {
		return ReferenceInternal, err
	}
	if err := wire.Fields(resp.Payload, 2); err != nil {
		return ReferenceInternal, c.Malformed("", req, err)
	}
	freq, err := wire.ParseInt(resp.Payload[1])
	if err != nil {
		return ReferenceInternal, c.Malformed("", req, err)
	}
	r, err := parseReferenceArgs(resp.Payload[0], freq)
	if err != nil {
		return ReferenceInternal, c.Malformed("", req, err)
	}
	return r, nil
}

func (c *Commander) GetReferenceSource(ctx context.Context) (ReferenceSource, error) {
	return c.reference(ctx, wire.Query(opReference, c.slot()))
}

func (c *Commander) ConfigureReferenceSource(ctx context.Context, r ReferenceSource) (ReferenceSource, error) {
	if r < ReferenceInternal || r > ReferenceExternal100MHz {
		return ReferenceInternal, c.invalid(fesd.ErrInvalidArgument, nil, opReference, fmt.Sprint(int(r)), fmt.Errorf("unknown reference source"))
	}
	return c.reference(ctx, wire.Set(opReference, c.slot(), r.args()...))
}

func (c *Commander) GetReferenceOutputEnable(ctx context.Context) (bool, error) {
	return c.onOff(ctx, "", wire.Query(opReferenceOut, c.slot()))
}

func (c *Commander) ConfigureReferenceOutputEnable(ctx context.Context, enable bool) (bool, error) {
	return c.onOff(ctx, "", wire.Set(opReferenceOut, c.slot(), wire.FormatOnOff(enable)))
}

var _ fesd.Commander = (*Commander)(nil)
