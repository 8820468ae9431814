// Package parse turns raw modem replies into structured fields.
//
// The decoder is chosen from the command string alone, through a static,
// ordered pattern table, so the same decoders serve the baseline command
// set and every vendor extension. A decoder that does not recognise the
// reply returns an error wrapping ErrMismatch; the raw lines stay the
// authoritative record either way.
package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMismatch reports a reply that does not follow the grammar its decoder
// expects.
var ErrMismatch = errors.New("reply does not match expected format")

// Fields holds decoded values keyed by snake_case names.
type Fields map[string]any

// String returns the value for key formatted as text, or "".
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the integer stored under key.
func (f Fields) Int(key string) (int, bool) {
	v, ok := f[key].(int)
	return v, ok
}

// Decoder extracts fields from the data lines of a reply, that is the
// lines left after echo, final result code and unsolicited codes are
// removed.
type Decoder func(lines []string) (Fields, error)

// Parser keys.
const (
	KeyCOPS         = "cops"
	KeyCOPSScan     = "cops_scan"
	KeyRegistration = "registration"
	KeyCSQ          = "csq"
	KeyCGDCONT      = "cgdcont"
	KeyCPIN         = "cpin"
	KeyIMSI         = "imsi"
	KeyICCID        = "iccid"
	KeyManufacturer = "manufacturer"
	KeyModel        = "model"
	KeyFirmware     = "firmware"
	KeyIMEI         = "imei"
	KeyInfo         = "info"
	KeyQENG         = "qeng"
	KeyQNWINFO      = "qnwinfo"
	KeyQSPN         = "qspn"
	KeyQTEMP        = "qtemp"
	KeyGSTATUS      = "gstatus"
	KeyKCELLMEAS    = "kcellmeas"
	KeyUCGED        = "ucged"
	KeySERVINFO     = "servinfo"
	KeyRFSTS        = "rfsts"
	KeyUREG         = "ureg"
	KeyCPSI         = "cpsi"
	KeyCGATT        = "cgatt"
	KeyCGACT        = "cgact"
	KeyCGPADDR      = "cgpaddr"
	KeyFPLMN        = "fplmn"
	KeyPassthrough  = "passthrough"
)

type rule struct {
	match func(cmd string) bool
	key   string
}

func contains(subs ...string) func(string) bool {
	return func(cmd string) bool {
		for _, s := range subs {
			if strings.Contains(cmd, s) {
				return true
			}
		}
		return false
	}
}

func exact(names ...string) func(string) bool {
	return func(cmd string) bool {
		for _, n := range names {
			if cmd == n {
				return true
			}
		}
		return false
	}
}

// rules is evaluated top to bottom against the upper-cased command; more
// specific patterns come first.
var rules = []rule{
	{contains("+COPS=?"), KeyCOPSScan},
	{contains("+COPS"), KeyCOPS},
	{contains("+CREG", "+CGREG", "+CEREG"), KeyRegistration},
	{contains("+CSQ"), KeyCSQ},
	{contains("+CGDCONT"), KeyCGDCONT},
	{contains("+CPIN"), KeyCPIN},
	{contains("+CIMI"), KeyIMSI},
	{contains("+QCCID", "+ICCID", "+CCID"), KeyICCID},
	{contains("+CGMI"), KeyManufacturer},
	{contains("+CGMM"), KeyModel},
	{contains("+CGMR"), KeyFirmware},
	{contains("+CGSN"), KeyIMEI},
	{contains(`+QENG="NEIGHBOURCELL"`), KeyPassthrough},
	{contains("+QENG"), KeyQENG},
	{contains("+QNWINFO"), KeyQNWINFO},
	{contains("+QSPN"), KeyQSPN},
	{contains("+QTEMP"), KeyQTEMP},
	{contains("!GSTATUS"), KeyGSTATUS},
	{contains("+KCELLMEAS"), KeyKCELLMEAS},
	{contains("+UCGED"), KeyUCGED},
	{contains("#SERVINFO"), KeySERVINFO},
	{contains("#RFSTS"), KeyRFSTS},
	{contains("+UREG"), KeyUREG},
	{contains("+CPSI"), KeyCPSI},
	{contains("+CGATT"), KeyCGATT},
	{contains("+CGACT"), KeyCGACT},
	{contains("+CGPADDR"), KeyCGPADDR},
	{contains("+CRSM=176,28539"), KeyFPLMN},
	{exact("ATI", "I"), KeyInfo},
}

var decoders = map[string]Decoder{
	KeyCOPS:         decodeCOPS,
	KeyCOPSScan:     decodeCOPSScan,
	KeyRegistration: decodeRegistration,
	KeyCSQ:          decodeCSQ,
	KeyCGDCONT:      decodeCGDCONT,
	KeyCPIN:         decodeCPIN,
	KeyIMSI:         firstLine("imsi", digitsOnly),
	KeyICCID:        firstLine("iccid", digitsOnly),
	KeyManufacturer: firstLine("manufacturer", nil),
	KeyModel:        firstLine("model", nil),
	KeyFirmware:     firstLine("firmware", nil),
	KeyIMEI:         firstLine("imei", digitsOnly),
	KeyInfo:         decodeInfo,
	KeyQENG:         decodeQENG,
	KeyQNWINFO:      decodeQNWINFO,
	KeyQSPN:         decodeQSPN,
	KeyQTEMP:        decodeQTEMP,
	KeyGSTATUS:      decodeGSTATUS,
	KeyKCELLMEAS:    decodeKCELLMEAS,
	KeyUCGED:        decodeUCGED,
	KeySERVINFO:     decodeSERVINFO,
	KeyRFSTS:        decodeRFSTS,
	KeyUREG:         decodeUREG,
	KeyCPSI:         decodeCPSI,
	KeyCGATT:        decodeCGATT,
	KeyCGACT:        decodeCGACT,
	KeyCGPADDR:      decodeCGPADDR,
	KeyFPLMN:        decodeFPLMN,
	KeyPassthrough:  decodePassthrough,
}

// Key returns the parser key for cmd. Commands without a dedicated decoder
// map to KeyPassthrough.
func Key(cmd string) string {
	c := strings.ToUpper(strings.TrimSpace(cmd))
	for _, r := range rules {
		if r.match(c) {
			return r.key
		}
	}
	return KeyPassthrough
}

// Lookup returns the decoder registered under key.
func Lookup(key string) (Decoder, bool) {
	d, ok := decoders[key]
	return d, ok
}

// Decode runs the decoder registered under key. A reply without data lines
// yields no fields and no error: set commands answer with a bare OK.
func Decode(key string, lines []string) (Fields, error) {
	d, ok := decoders[key]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder %q", ErrMismatch, key)
	}
	if len(lines) == 0 {
		return Fields{}, nil
	}
	return d(lines)
}

// Dispatch decodes the data lines of cmd with the decoder its command
// string selects.
func Dispatch(cmd string, lines []string) (Fields, error) {
	return Decode(Key(cmd), lines)
}

func mismatch(key string, lines []string) error {
	first := ""
	if len(lines) > 0 {
		first = lines[0]
	}
	return fmt.Errorf("%w: %s: %q", ErrMismatch, key, first)
}

// field returns the trimmed, unquoted i-th element of parts, or "".
func field(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(parts[i]), `"`)
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

// payload strips "+TAG:" from line when present.
func payload(line, tag string) (string, bool) {
	i := strings.Index(line, tag)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(line[i+len(tag):]), true
}
