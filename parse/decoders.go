package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	csqPattern     = regexp.MustCompile(`\+CSQ:\s*(\d+)\s*,\s*(\d+)`)
	copsPattern    = regexp.MustCompile(`\+COPS:\s*(\d+)(?:,(\d+),"([^"]*)"(?:,(\d+))?)?`)
	regPattern     = regexp.MustCompile(`\+(CREG|CGREG|CEREG):\s*(\d+)(?:,(\d+))?(?:,"?([0-9A-Fa-f]+)"?,"?([0-9A-Fa-f]+)"?)?(?:,(\d+))?`)
	cgdcontPattern = regexp.MustCompile(`\+CGDCONT:\s*(\d+),"([^"]*)","([^"]*)"(?:,"([^"]*)")?`)
	networkPattern = regexp.MustCompile(`\((\d+),"([^"]*)","([^"]*)","(\d+)"(?:,(\d+))?\)`)
	nonDigit       = regexp.MustCompile(`[^0-9]`)
)

// SignalDBm converts a +CSQ RSSI index to the received power it stands for.
func SignalDBm(rssi int) string {
	switch {
	case rssi == 0:
		return "<= -113 dBm"
	case rssi == 1:
		return "-111 dBm"
	case rssi >= 2 && rssi <= 30:
		return fmt.Sprintf("%d dBm", -109+(rssi-2)*2)
	case rssi == 31:
		return ">= -51 dBm"
	default:
		return Unknown
	}
}

func decodeCSQ(lines []string) (Fields, error) {
	for _, line := range lines {
		m := csqPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rssi, _ := atoi(m[1])
		ber, _ := atoi(m[2])

		berText := BitErrorRate.Label(ber)
		if ber >= 0 && ber <= 7 {
			berText = fmt.Sprintf("%d (%s)", ber, berText)
		}
		return Fields{
			"rssi_raw":       rssi,
			"rssi_dbm":       SignalDBm(rssi),
			"signal_quality": SignalQuality.Label(rssi),
			"ber_raw":        ber,
			"ber_text":       berText,
		}, nil
	}
	return nil, mismatch(KeyCSQ, lines)
}

func decodeCOPS(lines []string) (Fields, error) {
	for _, line := range lines {
		m := copsPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mode, _ := atoi(m[1])
		f := Fields{
			"mode":      mode,
			"mode_text": OperatorMode.Label(mode),
		}
		if m[2] != "" {
			format, _ := atoi(m[2])
			f["format"] = format
		}
		if m[3] != "" {
			f["operator"] = m[3]
		}
		if m[4] != "" {
			act, _ := atoi(m[4])
			f["access_tech"] = act
			f["access_tech_text"] = AccessTechnology.Label(act)
		}
		return f, nil
	}
	return nil, mismatch(KeyCOPS, lines)
}

// Network is one operator reported by AT+COPS=?.
type Network struct {
	Status     int    `json:"status"`
	StatusText string `json:"status_text"`
	LongName   string `json:"long_name"`
	ShortName  string `json:"short_name"`
	Numeric    string `json:"numeric"`
	Tech       int    `json:"tech"`
	TechText   string `json:"tech_text"`
}

// Networks extracts the operator list of an AT+COPS=? reply. The trailing
// lists of supported modes and formats are ignored.
func Networks(lines []string) []Network {
	var out []Network
	for _, line := range lines {
		for _, m := range networkPattern.FindAllStringSubmatch(line, -1) {
			stat, _ := atoi(m[1])
			n := Network{
				Status:     stat,
				StatusText: NetworkStatus.Label(stat),
				LongName:   m[2],
				ShortName:  m[3],
				Numeric:    m[4],
				Tech:       -1,
				TechText:   Unknown,
			}
			if m[5] != "" {
				n.Tech, _ = atoi(m[5])
				n.TechText = AccessTechnology.Label(n.Tech)
			}
			out = append(out, n)
		}
	}
	return out
}

func decodeCOPSScan(lines []string) (Fields, error) {
	networks := Networks(lines)
	if len(networks) == 0 {
		return nil, mismatch(KeyCOPSScan, lines)
	}
	return Fields{"networks": networks}, nil
}

func decodeRegistration(lines []string) (Fields, error) {
	f := Fields{}
	for _, line := range lines {
		m := regPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		typ := strings.ToLower(m[1])
		n, _ := atoi(m[2])
		stat := n
		if m[3] != "" {
			stat, _ = atoi(m[3])
		}

		f[typ+"_status"] = stat
		f[typ+"_status_text"] = Registration.Label(stat)
		if m[4] != "" {
			f["lac"] = m[4]
		}
		if m[5] != "" {
			f["ci"] = m[5]
		}
		if m[6] != "" {
			act, _ := atoi(m[6])
			f["act"] = act
			f["act_text"] = AccessTechnology.Label(act)
		}
	}
	if len(f) == 0 {
		return nil, mismatch(KeyRegistration, lines)
	}
	return f, nil
}

// Context is one PDP context definition from +CGDCONT.
type Context struct {
	CID     int    `json:"cid"`
	PDPType string `json:"pdp_type"`
	APN     string `json:"apn"`
	Address string `json:"pdp_addr,omitempty"`
}

// Contexts extracts PDP context definitions from an AT+CGDCONT? reply.
func Contexts(lines []string) []Context {
	var out []Context
	for _, line := range lines {
		m := cgdcontPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cid, _ := atoi(m[1])
		out = append(out, Context{CID: cid, PDPType: m[2], APN: m[3], Address: m[4]})
	}
	return out
}

func decodeCGDCONT(lines []string) (Fields, error) {
	contexts := Contexts(lines)
	if len(contexts) == 0 {
		return nil, mismatch(KeyCGDCONT, lines)
	}
	return Fields{"contexts": contexts}, nil
}

func decodeCPIN(lines []string) (Fields, error) {
	for _, line := range lines {
		status, ok := payload(line, "+CPIN:")
		if !ok {
			continue
		}
		text, known := simStatusText[status]
		if !known {
			text = status
		}
		return Fields{
			"sim_status":      status,
			"sim_ready":       status == "READY",
			"sim_status_text": text,
		}, nil
	}
	return nil, mismatch(KeyCPIN, lines)
}

func digitsOnly(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// firstLine stores the first data line under name, without any "+TAG:"
// prefix some firmwares add, optionally normalised by clean.
func firstLine(name string, clean func(string) string) Decoder {
	return func(lines []string) (Fields, error) {
		v := strings.TrimSpace(lines[0])
		if strings.HasPrefix(v, "+") {
			if i := strings.Index(v, ":"); i > 0 {
				v = strings.TrimSpace(v[i+1:])
			}
		}
		v = strings.Trim(v, `"`)
		if clean != nil {
			v = clean(v)
		}
		if v == "" {
			return nil, mismatch(name, lines)
		}
		return Fields{name: v}, nil
	}
}

func decodeInfo(lines []string) (Fields, error) {
	return Fields{"info": strings.Join(lines, "\n")}, nil
}

func decodePassthrough(lines []string) (Fields, error) {
	return Fields{"response": strings.Join(lines, "\n")}, nil
}

func decodeCGATT(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+CGATT:")
		if !ok {
			continue
		}
		state, ok := atoi(p)
		if !ok {
			break
		}
		text := "Detached"
		if state == 1 {
			text = "Attached"
		}
		return Fields{"attached": state == 1, "attached_text": text}, nil
	}
	return nil, mismatch(KeyCGATT, lines)
}

// ContextState is the activation state of one PDP context from +CGACT.
type ContextState struct {
	CID    int  `json:"cid"`
	Active bool `json:"active"`
}

func decodeCGACT(lines []string) (Fields, error) {
	var states []ContextState
	for _, line := range lines {
		p, ok := payload(line, "+CGACT:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		cid, ok1 := atoi(field(parts, 0))
		state, ok2 := atoi(field(parts, 1))
		if !ok1 || !ok2 {
			continue
		}
		states = append(states, ContextState{CID: cid, Active: state == 1})
	}
	if len(states) == 0 {
		return nil, mismatch(KeyCGACT, lines)
	}
	return Fields{"contexts": states}, nil
}

// Address is the IP address assigned to one PDP context from +CGPADDR.
type Address struct {
	CID     int    `json:"cid"`
	Address string `json:"address"`
}

func decodeCGPADDR(lines []string) (Fields, error) {
	var addrs []Address
	for _, line := range lines {
		p, ok := payload(line, "+CGPADDR:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		cid, ok := atoi(field(parts, 0))
		if !ok {
			continue
		}
		addrs = append(addrs, Address{CID: cid, Address: field(parts, 1)})
	}
	if len(addrs) == 0 {
		return nil, mismatch(KeyCGPADDR, lines)
	}
	return Fields{"addresses": addrs}, nil
}
