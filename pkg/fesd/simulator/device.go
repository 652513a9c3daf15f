package simulator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/wire"
)

// Frequency ranges of the simulated hardware, in Hz.
const (
	rfMinHz     = 6.7e9
	rfMaxHz     = 26e9
	ifMinHz     = 700e6
	ifMaxHz     = 6e9
	loMinHz     = 6e9
	loMaxHz     = 25.3e9
	bypassMinHz = 50e6
	bypassMaxHz = 8.5e9

	gainStepDb = 0.25
	biasMin    = -2048
	biasMax    = 2047
	synthMax   = 15
	phaseMax   = 360

	refAutoKHz = 0
	ref100KHz  = 100000
	ref105KHz  = 105000
)

type pathState struct {
	rfHz, ifHz, loHz float64
	gainDb           float64
	gainMinDb        float64
	gainMaxDb        float64
	attnADb          float64
	attnBDb          float64
	dcI, dcQ         int
	loEnable         bool
	synth            [4]int
	phaseDeg         float64
	forceFrac        bool
	refOverrideKHz   int
}

// SC2470 is a simulated front end answering console commands on one slot.
type SC2470 struct {
	mu sync.Mutex

	slot     uint16
	serial   uint32
	model    string
	firmware string
	hardware string
	role     string
	loStepHz float64
	limits   map[string][2]float64

	paths       map[string]*pathState
	duplex      string
	refSource   string
	refFreqKHz  int
	refOutput   bool
	resets      int
	forcedError string
}

type DeviceOption func(*SC2470)

// WithModel changes the type the device reports on identify.
func WithModel(model string) DeviceOption {
	return func(d *SC2470) { d.model = model }
}

func WithFirmware(version string) DeviceOption {
	return func(d *SC2470) { d.firmware = version }
}

func WithHardware(version string) DeviceOption {
	return func(d *SC2470) { d.hardware = version }
}

func WithRole(role fesd.SystemRole) DeviceOption {
	return func(d *SC2470) {
		d.role = "MASTER"
		if role == fesd.RolePeripheral {
			d.role = "SLAVE"
		}
	}
}

func WithGainLimits(path string, minDb, maxDb float64) DeviceOption {
	return func(d *SC2470) { d.limits[strings.ToUpper(path)] = [2]float64{minDb, maxDb} }
}

// WithLOStep sets the synthesizer resolution used when the device derives LO.
func WithLOStep(hz float64) DeviceOption {
	return func(d *SC2470) { d.loStepHz = hz }
}

func NewSC2470(slot uint16, serial uint32, opts ...DeviceOption) *SC2470 {
	d := &SC2470{
		slot:     slot,
		serial:   serial,
		model:    "SC2470",
		firmware: "1.4.2",
		hardware: "2.1",
		role:     "MASTER",
		loStepHz: 1e3,
		limits: map[string][2]float64{
			"RX": {-10, 20},
			"TX": {-20, 15},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reset()
	return d
}

func (d *SC2470) Slot() uint16 {
	return d.slot
}

func (d *SC2470) SerialNumber() string {
	return fmt.Sprintf("%08X", d.serial)
}

func (d *SC2470) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// FailNext makes the next command answer ERR with the given code.
func (d *SC2470) FailNext(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcedError = code
}

func (d *SC2470) Gain(path string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paths[path].gainDb
}

func (d *SC2470) Frequencies(path string) (rf, ifr, lo float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.paths[path]
	return p.rfHz, p.ifHz, p.loHz
}

func (d *SC2470) reset() {
	d.paths = make(map[string]*pathState, 2)
	for _, name := range []string{"RX", "TX"} {
		lim := d.limits[name]
		d.paths[name] = &pathState{
			rfHz:      12e9,
			ifHz:      3e9,
			loHz:      9e9,
			gainDb:    lim[0],
			gainMinDb: lim[0],
			gainMaxDb: lim[1],
			loEnable:  true,
			synth:     [4]int{1, 0, 10, 0},
		}
	}
	d.duplex = "FDD"
	d.refSource = "INT"
	d.refFreqKHz = 0
	d.refOutput = false
}

type reply struct {
	scope   string
	payload []string
	code    string
	detail  string
	silent  bool
}

func ok(values ...string) reply {
	return reply{payload: values}
}

func reject(code, format string, args ...any) reply {
	return reply{code: code, detail: fmt.Sprintf(format, args...)}
}

// handle executes one command and returns the reply. A silent reply means
// the device sends nothing back.
func (d *SC2470) handle(req wire.Request) reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.forcedError != "" {
		code := d.forcedError
		d.forcedError = ""
		return reject(code, "forced")
	}

	switch req.Command() {
	case "*IDN?":
		return ok(fmt.Sprintf("SIGNALCRAFT,%s,%s,%s", d.model, d.SerialNumber(), d.firmware))
	case "MAINT:GETMANUF?":
		return ok("#H"+d.SerialNumber(), "2024-03-01", d.hardware)
	case "SYS:ROLE?":
		return ok(d.role)
	case "SYS:NCHAN?":
		return ok("2")
	case "*RST":
		d.resets++
		d.reset()
		return reply{silent: true}
	case "RFPATH:DUPLEX":
		if len(req.Args) != 1 {
			return reject(fesd.StatusArg, "expected duplex mode")
		}
		switch req.Args[0] {
		case "FDD", "TDDRX", "TDDTX":
			d.duplex = req.Args[0]
			return ok(d.duplex)
		}
		return reject(fesd.StatusArg, "unknown duplex mode %s", req.Args[0])
	case "RFPATH:DUPLEX?":
		return ok(d.duplex)
	case "REFPLL:CONFIG":
		return d.setReference(req.Args)
	case "REFPLL:CONFIG?":
		return ok(d.refSource, strconv.Itoa(d.refFreqKHz))
	case "REFPLL:OUTPUT":
		if len(req.Args) != 1 {
			return reject(fesd.StatusArg, "expected ON|OFF")
		}
		on, err := wire.ParseOnOff(req.Args[0])
		if err != nil {
			return reject(fesd.StatusArg, "%v", err)
		}
		d.refOutput = on
		return ok(wire.FormatOnOff(d.refOutput))
	case "REFPLL:OUTPUT?":
		return ok(wire.FormatOnOff(d.refOutput))
	}

	// remaining commands are per path
	if len(req.Args) == 0 {
		return reject(fesd.StatusSyntax, "unknown command %s", req.Command())
	}
	path, found := d.paths[req.Args[0]]
	if !found {
		return reject(fesd.StatusArg, "unknown path %s", req.Args[0])
	}
	r := d.handlePath(req, path, req.Args[1:])
	r.scope = req.Args[0]
	return r
}

func (d *SC2470) handlePath(req wire.Request, path *pathState, args []string) reply {
	switch req.Command() {
	case "PATH:FREQ":
		return d.setFrequencies(path, args)
	case "PATH:FREQ?":
		return frequencyReply(path)
	case "PATH:GAIN":
		return d.setGain(path, args)
	case "PATH:GAIN?":
		return reply{payload: []string{wire.FormatFloat(path.gainDb, 2)}}
	case "PATH:GAINLIM?":
		return reply{payload: []string{wire.FormatFloat(path.gainMinDb, 2), wire.FormatFloat(path.gainMaxDb, 2)}}
	case "IFPATH:ATTN":
		if req.Args[0] != "RX" || len(args) != 2 {
			return reject(fesd.StatusArg, "expected RX A B")
		}
		a, errA := wire.ParseFloat(args[0])
		b, errB := wire.ParseFloat(args[1])
		if errA != nil || errB != nil || a < 0 || b < 0 || a+b > 63.25 {
			return reject(fesd.StatusRange, "attenuation %s+%s", args[0], args[1])
		}
		path.attnADb, path.attnBDb = a, b
		return reply{payload: []string{wire.FormatFloat(a, 2), wire.FormatFloat(b, 2)}}
	case "IFPATH:ATTN?":
		if req.Args[0] != "RX" {
			return reject(fesd.StatusArg, "IF attenuators are on RX only")
		}
		return reply{payload: []string{wire.FormatFloat(path.attnADb, 2), wire.FormatFloat(path.attnBDb, 2)}}
	case "RFPATH:ATTN":
		if req.Args[0] != "TX" || len(args) != 1 {
			return reject(fesd.StatusArg, "expected TX X")
		}
		x, err := wire.ParseFloat(args[0])
		if err != nil || x < 0 || x > 31.5 {
			return reject(fesd.StatusRange, "attenuation %s", args[0])
		}
		path.attnADb = math.Round(x*2) / 2
		return reply{payload: []string{wire.FormatFloat(path.attnADb, 2)}}
	case "RFPATH:ATTN?":
		if req.Args[0] != "TX" {
			return reject(fesd.StatusArg, "RF attenuator is on TX only")
		}
		return reply{payload: []string{wire.FormatFloat(path.attnADb, 2)}}
	case "IFPATH:DCBIAS":
		if len(args) != 2 {
			return reject(fesd.StatusArg, "expected I Q")
		}
		i, errI := wire.ParseInt(args[0])
		q, errQ := wire.ParseInt(args[1])
		if errI != nil || errQ != nil {
			return reject(fesd.StatusArg, "bias values must be integers")
		}
		if i < biasMin || i > biasMax || q < biasMin || q > biasMax {
			return reject(fesd.StatusRange, "bias %d %d", i, q)
		}
		path.dcI, path.dcQ = i, q
		return reply{payload: []string{strconv.Itoa(i), strconv.Itoa(q)}}
	case "IFPATH:DCBIAS?":
		return reply{payload: []string{strconv.Itoa(path.dcI), strconv.Itoa(path.dcQ)}}
	case "LOCLK:EN":
		if len(args) != 1 {
			return reject(fesd.StatusArg, "expected ON|OFF")
		}
		on, err := wire.ParseOnOff(args[0])
		if err != nil {
			return reject(fesd.StatusArg, "%v", err)
		}
		path.loEnable = on
		return ok(wire.FormatOnOff(path.loEnable))
	case "LOCLK:EN?":
		return ok(wire.FormatOnOff(path.loEnable))
	case "LOCLK:FREQ":
		return d.setLO(path, args)
	case "LOCLK:FREQ?":
		if !path.loEnable {
			return ok(wire.FormatKHz(0))
		}
		return ok(wire.FormatKHz(path.loHz))
	case "LOCLK:PHASE":
		return setPhase(path, args)
	case "LOCLK:PHASE?":
		return ok(wire.FormatFloat(path.phaseDeg, 2))
	case "SYN:CFG":
		return setSynth(path, args)
	case "SYN:CFG?":
		return ok(synthPayload(path)...)
	case "SYN:REFFREQ":
		return setReferenceOverride(path, args)
	case "SYN:REFFREQ?":
		return ok(referenceOverrideToken(path.refOverrideKHz))
	case "SYN:MODE?":
		if synthFractional(path) {
			return ok("FRAC")
		}
		return ok("INT")
	}
	return reject(fesd.StatusSyntax, "unknown command %s", req.Command())
}

func frequencyReply(p *pathState) reply {
	return reply{payload: []string{wire.FormatKHz(p.rfHz), wire.FormatKHz(p.ifHz), wire.FormatKHz(p.loHz)}}
}

func (d *SC2470) setFrequencies(p *pathState, args []string) reply {
	if len(args) != 3 {
		return reject(fesd.StatusArg, "expected RF IF LO")
	}
	var v [3]float64
	for i, s := range args {
		hz, err := wire.ParseKHz(s)
		if err != nil || hz < 0 {
			return reject(fesd.StatusArg, "bad frequency %s", s)
		}
		v[i] = hz
	}
	rf, ifr, lo := v[0], v[1], v[2]

	// bypass: RF and IF equal, no LO
	if lo == 0 && rf == ifr && rf != 0 {
		if rf < bypassMinHz || rf > bypassMaxHz {
			return reject(fesd.StatusRange, "bypass %s kHz", args[0])
		}
		p.rfHz, p.ifHz, p.loHz = rf, ifr, 0
		return frequencyReply(p)
	}

	if (rf != 0 && (rf < rfMinHz || rf > rfMaxHz)) ||
		(ifr != 0 && (ifr < ifMinHz || ifr > ifMaxHz)) ||
		(lo != 0 && (lo < loMinHz || lo > loMaxHz)) {
		return reject(fesd.StatusRange, "rf=%s if=%s lo=%s", args[0], args[1], args[2])
	}

	switch {
	case lo == 0 && rf != 0 && ifr != 0:
		lo = d.quantize(rf - ifr)
	case rf == 0 && ifr != 0 && lo != 0:
		lo = d.quantize(lo)
	case ifr == 0 && rf != 0 && lo != 0:
		lo = d.quantize(lo)
		ifr = rf - lo
	case rf != 0 && ifr != 0 && lo != 0:
		lo = d.quantize(lo)
		if math.Abs(lo+ifr-rf) > d.loStepHz {
			return reject(fesd.StatusPlan, "rf %s != lo %s + if %s", args[0], args[2], args[1])
		}
	default:
		return reject(fesd.StatusArg, "two of RF IF LO are required")
	}
	rf = lo + ifr

	if lo < loMinHz || lo > loMaxHz || rf < rfMinHz || rf > rfMaxHz || ifr < ifMinHz || ifr > ifMaxHz {
		return reject(fesd.StatusPlan, "no LO for rf=%s if=%s", args[0], args[1])
	}
	p.rfHz, p.ifHz, p.loHz = rf, ifr, lo
	return frequencyReply(p)
}

func (d *SC2470) quantize(hz float64) float64 {
	if d.loStepHz <= 0 {
		return hz
	}
	return math.Round(hz/d.loStepHz) * d.loStepHz
}

func (d *SC2470) setGain(p *pathState, args []string) reply {
	if len(args) != 1 {
		return reject(fesd.StatusArg, "expected gain")
	}
	g, err := wire.ParseFloat(args[0])
	if err != nil {
		return reject(fesd.StatusArg, "bad gain %s", args[0])
	}
	g = math.Round(g/gainStepDb) * gainStepDb
	if g < p.gainMinDb || g > p.gainMaxDb {
		return reject(fesd.StatusRange, "gain %s outside %.2f..%.2f", args[0], p.gainMinDb, p.gainMaxDb)
	}
	p.gainDb = g
	return reply{payload: []string{wire.FormatFloat(g, 2)}}
}

func setSynth(p *pathState, args []string) reply {
	if len(args) != 4 {
		return reject(fesd.StatusArg, "expected EN1X EN2X POW1X POW2X")
	}
	en1, err1 := wire.ParseOnOff(args[0])
	en2, err2 := wire.ParseOnOff(args[1])
	p1, err3 := wire.ParseInt(args[2])
	p2, err4 := wire.ParseInt(args[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return reject(fesd.StatusArg, "bad synthesizer settings")
	}
	if p1 < 0 || p1 > synthMax || p2 < 0 || p2 > synthMax {
		return reject(fesd.StatusRange, "power %d %d", p1, p2)
	}
	p.synth = [4]int{boolInt(en1), boolInt(en2), p1, p2}
	return ok(synthPayload(p)...)
}

func synthPayload(p *pathState) []string {
	return []string{
		wire.FormatOnOff(p.synth[0] == 1),
		wire.FormatOnOff(p.synth[1] == 1),
		strconv.Itoa(p.synth[2]),
		strconv.Itoa(p.synth[3]),
	}
}

// setLO retunes the synthesizer of a mixing path. The IF stays, RF follows,
// and the phase accumulator restarts at zero.
func (d *SC2470) setLO(p *pathState, args []string) reply {
	if len(args) != 1 {
		return reject(fesd.StatusArg, "expected LO")
	}
	lo, err := wire.ParseKHz(args[0])
	if err != nil {
		return reject(fesd.StatusArg, "bad frequency %s", args[0])
	}
	lo = d.quantize(lo)
	if lo < loMinHz || lo > loMaxHz {
		return reject(fesd.StatusRange, "lo %s kHz", args[0])
	}
	if p.loHz == 0 {
		return reject(fesd.StatusPlan, "path is in bypass")
	}
	if rf := lo + p.ifHz; rf < rfMinHz || rf > rfMaxHz {
		return reject(fesd.StatusPlan, "no RF for lo=%s", args[0])
	}
	p.loHz = lo
	p.rfHz = lo + p.ifHz
	p.phaseDeg = 0
	return ok(wire.FormatKHz(p.loHz))
}

// setPhase moves the LO phase. Any offset but zero keeps the synthesizer in
// fractional mode.
func setPhase(p *pathState, args []string) reply {
	if len(args) != 1 {
		return reject(fesd.StatusArg, "expected phase")
	}
	deg, err := wire.ParseFloat(args[0])
	if err != nil {
		return reject(fesd.StatusArg, "bad phase %s", args[0])
	}
	if deg < -phaseMax || deg > phaseMax {
		return reject(fesd.StatusRange, "phase %s", args[0])
	}
	p.phaseDeg = deg
	p.forceFrac = deg != 0
	return ok(wire.FormatFloat(p.phaseDeg, 2))
}

func setReferenceOverride(p *pathState, args []string) reply {
	if len(args) != 1 {
		return reject(fesd.StatusArg, "expected AUTO|100000|105000")
	}
	switch args[0] {
	case "AUTO":
		p.refOverrideKHz = refAutoKHz
	case "100000":
		p.refOverrideKHz = ref100KHz
	case "105000":
		p.refOverrideKHz = ref105KHz
	default:
		return reject(fesd.StatusArg, "unsupported synthesizer reference %s", args[0])
	}
	return ok(referenceOverrideToken(p.refOverrideKHz))
}

func referenceOverrideToken(kHz int) string {
	if kHz == refAutoKHz {
		return "AUTO"
	}
	return strconv.Itoa(kHz)
}

// synthFractional reports whether the LO cannot be reached with an integer
// divider from the synthesizer reference.
func synthFractional(p *pathState) bool {
	if p.forceFrac {
		return true
	}
	loKHz := int64(math.Round(p.loHz / 1e3))
	switch p.refOverrideKHz {
	case refAutoKHz:
		return loKHz%ref100KHz != 0 && loKHz%ref105KHz != 0
	default:
		return loKHz%int64(p.refOverrideKHz) != 0
	}
}

func (d *SC2470) setReference(args []string) reply {
	if len(args) != 2 {
		return reject(fesd.StatusArg, "expected INT|EXT FREQ")
	}
	freq, err := wire.ParseInt(args[1])
	if err != nil {
		return reject(fesd.StatusArg, "bad reference frequency %s", args[1])
	}
	switch {
	case args[0] == "INT":
		d.refSource, d.refFreqKHz = "INT", 0
	case args[0] == "EXT" && (freq == 10000 || freq == 100000):
		d.refSource, d.refFreqKHz = "EXT", freq
	default:
		return reject(fesd.StatusArg, "unsupported reference %s %s", args[0], args[1])
	}
	return ok(d.refSource, strconv.Itoa(d.refFreqKHz))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
