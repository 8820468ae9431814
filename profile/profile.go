// Package profile holds the vendor registry: which extra commands and tools
// each modem family gets, and how a connected modem is matched to one.
package profile

import (
	"slices"
	"strings"
	"time"

	"i4.energy/across/modemdiag/parse"
)

// Command is one AT command scheduled by a diagnostic run or a tool.
type Command struct {
	Command string        `json:"command" yaml:"command"`
	Label   string        `json:"label" yaml:"label"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Key returns the parser key the command string selects.
func (c Command) Key() string {
	return parse.Key(c.Command)
}

// Profile describes a modem vendor. Profiles are immutable once built; the
// accessors hand out copies.
type Profile struct {
	tag      string
	name     string
	keywords []string
	extra    []Command
	tools    []Command
}

// Tag is the short machine identifier of the profile, e.g. "quectel".
func (p *Profile) Tag() string { return p.tag }

// Name is the display name of the vendor.
func (p *Profile) Name() string { return p.name }

// Keywords are the upper-case substrings matched against the
// manufacturer string.
func (p *Profile) Keywords() []string { return slices.Clone(p.keywords) }

// Extra returns the vendor commands appended to the baseline diagnostic set.
func (p *Profile) Extra() []Command { return slices.Clone(p.extra) }

// Tools returns the vendor commands offered on demand, outside a full run.
func (p *Profile) Tools() []Command { return slices.Clone(p.tools) }

// IsGeneric reports whether p is the fallback profile.
func (p *Profile) IsGeneric() bool { return p == Generic }

func (p *Profile) matches(manufacturer string) bool {
	m := strings.ToUpper(manufacturer)
	for _, k := range p.keywords {
		if strings.Contains(m, k) {
			return true
		}
	}
	return false
}

const neighbourTimeout = 10 * time.Second

var (
	// Generic is used when the manufacturer matches no vendor. It adds no
	// commands.
	Generic = &Profile{tag: "generic", name: "Generic"}

	Quectel = &Profile{
		tag:      "quectel",
		name:     "Quectel",
		keywords: []string{"QUECTEL"},
		extra: []Command{
			{Command: `AT+QENG="servingcell"`, Label: "Serving cell information"},
			{Command: "AT+QNWINFO", Label: "Network information"},
			{Command: "AT+QSPN", Label: "Service provider name"},
			{Command: "AT+QCCID", Label: "SIM ICCID"},
		},
		tools: []Command{
			{Command: `AT+QENG="servingcell"`, Label: "Advanced cell information"},
			{Command: "AT+QNWINFO", Label: "Network information"},
			{Command: "AT+QTEMP", Label: "Temperature"},
			{Command: `AT+QENG="neighbourcell"`, Label: "Neighbouring cells", Timeout: neighbourTimeout},
			{Command: "AT+QUIMSLOT?", Label: "SIM slot"},
			{Command: "AT+QGPS?", Label: "GPS status"},
			{Command: `AT+QESIM="eid"`, Label: "eSIM EID"},
		},
	}

	Sierra = &Profile{
		tag:      "sierra",
		name:     "Sierra Wireless",
		keywords: []string{"SIERRA"},
		extra: []Command{
			{Command: "AT!GSTATUS?", Label: "Modem status"},
			{Command: "AT+KCELLMEAS=1", Label: "Cell measurement"},
		},
		tools: []Command{
			{Command: "AT!GSTATUS?", Label: "Modem status"},
		},
	}

	UBlox = &Profile{
		tag:      "ublox",
		name:     "u-blox",
		keywords: []string{"U-BLOX", "UBLOX"},
		extra: []Command{
			{Command: "AT+UCGED?", Label: "Cell environment"},
			{Command: "AT+UREG?", Label: "Packet switched registration"},
		},
		tools: []Command{
			{Command: "AT+UCGED?", Label: "Cell environment"},
		},
	}

	Telit = &Profile{
		tag:      "telit",
		name:     "Telit",
		keywords: []string{"TELIT"},
		extra: []Command{
			{Command: "AT#SERVINFO", Label: "Serving cell information"},
			{Command: "AT#RFSTS", Label: "RF status"},
		},
	}

	SIMCom = &Profile{
		tag:      "simcom",
		name:     "SIMCom",
		keywords: []string{"SIMCOM"},
		extra: []Command{
			{Command: "AT+CPSI?", Label: "System information"},
		},
	}
)

// registry is matched in order; the first profile whose keyword occurs in
// the manufacturer string wins.
var registry = []*Profile{Quectel, Sierra, UBlox, Telit, SIMCom}

// All returns the vendor profiles in match order, without Generic.
func All() []*Profile {
	return slices.Clone(registry)
}

// ByTag returns the profile with the given tag, Generic included.
func ByTag(tag string) (*Profile, bool) {
	if strings.EqualFold(tag, Generic.tag) {
		return Generic, true
	}
	for _, p := range registry {
		if strings.EqualFold(tag, p.tag) {
			return p, true
		}
	}
	return nil, false
}

// Match returns the profile for a manufacturer string, or Generic.
func Match(manufacturer string) *Profile {
	for _, p := range registry {
		if p.matches(manufacturer) {
			return p
		}
	}
	return Generic
}
