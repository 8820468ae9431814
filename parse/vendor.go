package parse

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	qnwinfoPattern = regexp.MustCompile(`\+QNWINFO:\s*"([^"]*)",\s*"?([^",]*)"?,\s*"([^"]*)",\s*(\d+)`)
	qspnPattern    = regexp.MustCompile(`\+QSPN:\s*"([^"]*)",\s*"([^"]*)",\s*"([^"]*)"`)
	keyCleaner     = regexp.MustCompile(`[^a-z0-9]+`)
)

// decodeQENG reads the Quectel serving cell report. For LTE the positional
// layout is: "servingcell",<state>,"LTE",<is_tdd>,<mcc>,<mnc>,<cellid>,
// <pcid>,<earfcn>,<freq_band_ind>,<ul_bandwidth>,<dl_bandwidth>,<tac>,
// <rsrp>,<rsrq>,<rssi>,<sinr>,...
func decodeQENG(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+QENG:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		f := Fields{"servingcell_type": field(parts, 0)}
		if field(parts, 0) != "servingcell" {
			return f, nil
		}

		f["state"] = field(parts, 1)
		f["mode"] = field(parts, 2)
		if len(parts) < 15 {
			return f, nil
		}

		f["mcc"] = field(parts, 4)
		f["mnc"] = field(parts, 5)
		f["cellid"] = field(parts, 6)
		f["pcid"] = field(parts, 7)
		f["earfcn"] = field(parts, 8)
		f["freq_band"] = field(parts, 9)
		f["ul_bandwidth"] = field(parts, 10)
		f["dl_bandwidth"] = field(parts, 11)
		f["tac"] = field(parts, 12)
		f["rsrp"] = field(parts, 13) + " dBm"
		f["rsrq"] = field(parts, 14) + " dB"
		if len(parts) > 15 {
			f["rssi"] = field(parts, 15) + " dBm"
		}
		if len(parts) > 16 {
			f["sinr"] = field(parts, 16) + " dB"
		}
		return f, nil
	}
	return nil, mismatch(KeyQENG, lines)
}

func decodeQNWINFO(lines []string) (Fields, error) {
	for _, line := range lines {
		m := qnwinfoPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return Fields{
			"access_tech": m[1],
			"operator":    m[2],
			"band":        m[3],
			"channel":     m[4],
		}, nil
	}
	return nil, mismatch(KeyQNWINFO, lines)
}

func decodeQSPN(lines []string) (Fields, error) {
	for _, line := range lines {
		m := qspnPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return Fields{"fnn": m[1], "snn": m[2], "spn": m[3]}, nil
	}
	return nil, mismatch(KeyQSPN, lines)
}

// decodeQTEMP accepts both layouts in the field: the older
// "+QTEMP: <pmic>,<xo>,<pa>" and the newer one line per sensor
// "+QTEMP:"<name>","<celsius>"".
func decodeQTEMP(lines []string) (Fields, error) {
	f := Fields{}
	for _, line := range lines {
		p, ok := payload(line, "+QTEMP:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		if strings.HasPrefix(strings.TrimSpace(parts[0]), `"`) {
			if name := normalizeKey(field(parts, 0)); name != "" {
				f[name] = field(parts, 1)
			}
			continue
		}
		for i, name := range []string{"pmic", "xo", "pa"} {
			if v := field(parts, i); v != "" {
				f[name] = v
			}
		}
	}
	if len(f) == 0 {
		return nil, mismatch(KeyQTEMP, lines)
	}
	return f, nil
}

// decodeGSTATUS reads the Sierra Wireless status screen, a set of
// tab-separated "Key: value" cells. Keys are normalised to snake_case, so
// "RSRP (dBm)" becomes rsrp_dbm. A key seen again gets a numeric suffix.
func decodeGSTATUS(lines []string) (Fields, error) {
	f := Fields{}
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "!GSTATUS") {
			continue
		}
		for _, cell := range strings.Split(line, "\t") {
			k, v, ok := strings.Cut(cell, ":")
			if !ok {
				continue
			}
			key := normalizeKey(k)
			if key == "" {
				continue
			}
			if _, dup := f[key]; dup {
				for n := 2; ; n++ {
					if _, taken := f[fmt.Sprintf("%s_%d", key, n)]; !taken {
						key = fmt.Sprintf("%s_%d", key, n)
						break
					}
				}
			}
			f[key] = strings.TrimSpace(v)
		}
	}
	if len(f) == 0 {
		return nil, mismatch(KeyGSTATUS, lines)
	}
	return f, nil
}

func normalizeKey(k string) string {
	return strings.Trim(keyCleaner.ReplaceAllString(strings.ToLower(k), "_"), "_")
}

// decodeKCELLMEAS reads the Sierra HL series LTE measurement line:
// +KCELLMEAS: <rsrp>,<path_loss>,<pusch_tx>,<pucch_tx>,<sinr>. 255 marks a
// value the module could not measure.
func decodeKCELLMEAS(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+KCELLMEAS:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		if len(parts) < 5 {
			break
		}
		f := Fields{}
		for i, name := range []string{"rsrp", "path_loss", "pusch_tx_power", "pucch_tx_power", "sinr"} {
			v := field(parts, i)
			if v == "" || v == "255" {
				continue
			}
			f[name] = v
		}
		return f, nil
	}
	return nil, mismatch(KeyKCELLMEAS, lines)
}

// decodeUCGED reads the u-blox cell environment report. The header carries
// the reporting mode, the next line <rat>,<svc>,<mcc>,<mnc>. An LTE serving
// cell follows as <earfcn>,<band>,<ul_bw>,<dl_bw>,<tac>,<cell_id>,<pci>,
// <m_tmsi>,<mme_group>,<mme_code>,<rsrp>,<rsrq>,...
func decodeUCGED(lines []string) (Fields, error) {
	for i, line := range lines {
		p, ok := payload(line, "+UCGED:")
		if !ok {
			continue
		}
		mode, ok := atoi(p)
		if !ok {
			break
		}
		f := Fields{"mode": mode}

		rest := lines[i+1:]
		if len(rest) == 0 {
			return f, nil
		}
		parts := strings.Split(rest[0], ",")
		if len(parts) < 4 {
			return f, nil
		}
		f["rat"] = field(parts, 0)
		f["service"] = field(parts, 1)
		f["mcc"] = field(parts, 2)
		f["mnc"] = field(parts, 3)

		if len(rest) < 2 {
			return f, nil
		}
		cell := strings.Split(rest[1], ",")
		if len(cell) < 12 {
			return f, nil
		}
		for j, name := range []string{"earfcn", "band", "ul_bandwidth", "dl_bandwidth", "tac", "cell_id", "pci"} {
			f[name] = field(cell, j)
		}
		f["rsrp"] = field(cell, 10) + " dBm"
		f["rsrq"] = field(cell, 11) + " dB"
		return f, nil
	}
	return nil, mismatch(KeyUCGED, lines)
}

// decodeSERVINFO reads the leading fields Telit reports for every radio
// technology: <channel>,<dBm>,"<operator>","<network_code>". The rest of
// the line depends on the technology and is left in the raw reply.
func decodeSERVINFO(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "#SERVINFO:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		if len(parts) < 4 {
			break
		}
		return Fields{
			"channel":      field(parts, 0),
			"rx_level":     field(parts, 1) + " dBm",
			"operator":     field(parts, 2),
			"network_code": field(parts, 3),
		}, nil
	}
	return nil, mismatch(KeySERVINFO, lines)
}

// decodeRFSTS reads the Telit RF status line. Both layouts start with
// "<plmn>",<channel>. LTE continues with <rsrp>,<rssi>,<rsrq>,<tac>; GSM
// with <rssi>,<lac>. A numeric fifth field tells them apart.
func decodeRFSTS(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "#RFSTS:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		if len(parts) < 4 {
			break
		}
		f := Fields{
			"plmn":    field(parts, 0),
			"channel": field(parts, 1),
		}
		if _, lte := atoi(field(parts, 4)); lte {
			f["rat"] = "LTE"
			f["rsrp"] = field(parts, 2) + " dBm"
			f["rssi"] = field(parts, 3) + " dBm"
			f["rsrq"] = field(parts, 4) + " dB"
			f["tac"] = field(parts, 5)
			return f, nil
		}
		f["rat"] = "GSM"
		f["rssi"] = field(parts, 2) + " dBm"
		f["lac"] = field(parts, 3)
		return f, nil
	}
	return nil, mismatch(KeyRFSTS, lines)
}

func decodeUREG(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+UREG:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		// The read form carries <n>,<state>, the unsolicited form only <state>.
		raw := field(parts, len(parts)-1)
		state, ok := atoi(raw)
		if !ok {
			break
		}
		return Fields{
			"ureg_state":      state,
			"ureg_state_text": PacketRegistration.Label(state),
		}, nil
	}
	return nil, mismatch(KeyUREG, lines)
}

// decodeCPSI reads the SIMCom system information line. The first three
// fields are common to all radio technologies; LTE adds the cell layout
// decoded below.
func decodeCPSI(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+CPSI:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		f := Fields{
			"system_mode":    field(parts, 0),
			"operation_mode": field(parts, 1),
		}
		if v := field(parts, 2); v != "" {
			f["mcc_mnc"] = v
		}
		if v := field(parts, 3); v != "" {
			f["lac_tac"] = v
		}
		if v := field(parts, 4); v != "" {
			f["cell_id"] = v
		}

		if field(parts, 0) == "LTE" && len(parts) >= 14 {
			f["pci"] = field(parts, 5)
			f["band"] = field(parts, 6)
			f["earfcn"] = field(parts, 7)
			f["dl_bandwidth"] = field(parts, 8)
			f["ul_bandwidth"] = field(parts, 9)
			f["rsrq"] = field(parts, 10)
			f["rsrp"] = field(parts, 11)
			f["rssi"] = field(parts, 12)
			f["rssnr"] = field(parts, 13)
		}
		return f, nil
	}
	return nil, mismatch(KeyCPSI, lines)
}

// PLMN identifies a public land mobile network.
type PLMN struct {
	MCC string `json:"mcc"`
	MNC string `json:"mnc"`
}

func (p PLMN) String() string {
	return p.MCC + "-" + p.MNC
}

// DecodePLMNs reads the 3-byte BCD entries of the SIM's EF_FPLMN file.
// Unused entries (FFFFFF) are skipped; a malformed entry ends decoding.
func DecodePLMNs(data string) []PLMN {
	raw, err := hex.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil
	}

	var out []PLMN
	for i := 0; i+3 <= len(raw); i += 3 {
		b := raw[i : i+3]
		if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF {
			continue
		}
		digits := []byte{
			b[0] & 0x0F, b[0] >> 4, // MCC1, MCC2
			b[1] & 0x0F, b[1] >> 4, // MCC3, MNC3
			b[2] & 0x0F, b[2] >> 4, // MNC1, MNC2
		}
		for j, d := range digits {
			if d > 9 && !(j == 3 && d == 0xF) {
				return out
			}
		}
		mcc := fmt.Sprintf("%d%d%d", digits[0], digits[1], digits[2])
		mnc := fmt.Sprintf("%d%d", digits[4], digits[5])
		if digits[3] != 0xF {
			mnc += fmt.Sprintf("%d", digits[3])
		}
		out = append(out, PLMN{MCC: mcc, MNC: mnc})
	}
	return out
}

// decodeFPLMN reads "+CRSM: <sw1>,<sw2>,"<hex>"". Status 144 (0x90) means
// the SIM returned the file.
func decodeFPLMN(lines []string) (Fields, error) {
	for _, line := range lines {
		p, ok := payload(line, "+CRSM:")
		if !ok {
			continue
		}
		parts := strings.Split(p, ",")
		sw1, ok1 := atoi(field(parts, 0))
		sw2, ok2 := atoi(field(parts, 1))
		if !ok1 || !ok2 {
			break
		}
		f := Fields{"sw1": sw1, "sw2": sw2}
		if sw1 != 144 {
			return f, nil
		}
		data := field(parts, 2)
		plmns := DecodePLMNs(data)
		f["data"] = data
		f["plmns"] = plmns
		f["forbidden_count"] = len(plmns)
		return f, nil
	}
	return nil, mismatch(KeyFPLMN, lines)
}
