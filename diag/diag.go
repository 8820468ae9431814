// Package diag runs diagnostic command sets against a modem session and
// collects the outcome into a Record.
package diag

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/parse"
	"i4.energy/across/modemdiag/profile"
)

// ErrInvalidArgument reports a tool parameter the modem would reject or
// misinterpret.
var ErrInvalidArgument = errors.New("invalid argument")

// Baseline is the 3GPP command set every diagnostic run starts with.
var Baseline = []profile.Command{
	{Command: "AT", Label: "Basic communication test"},
	{Command: "ATI", Label: "Modem information"},
	{Command: "AT+CGMI", Label: "Manufacturer identification"},
	{Command: "AT+CGMM", Label: "Model identification"},
	{Command: "AT+CGMR", Label: "Firmware version"},
	{Command: "AT+CGSN", Label: "IMEI"},
	{Command: "AT+CPIN?", Label: "SIM status"},
	{Command: "AT+CCID", Label: "ICCID (SIM serial)"},
	{Command: "AT+CIMI", Label: "IMSI"},
	{Command: "AT+CSQ", Label: "Signal quality"},
	{Command: "AT+CREG?", Label: "Network registration (CS)"},
	{Command: "AT+CGREG?", Label: "GPRS registration (PS)"},
	{Command: "AT+CEREG?", Label: "EPS registration (LTE)"},
	{Command: "AT+COPS?", Label: "Operator selection"},
	{Command: "AT+CGDCONT?", Label: "PDP context"},
}

// StatusSet is the short read-only check used between full runs.
var StatusSet = []profile.Command{
	{Command: "AT+CSQ", Label: "Signal quality"},
	{Command: "AT+CREG?", Label: "Network registration"},
	{Command: "AT+COPS?", Label: "Current operator"},
	{Command: "AT+CPIN?", Label: "SIM status"},
}

// Commands returns the baseline set followed by the extras of p, in order.
func Commands(p *profile.Profile) []profile.Command {
	cmds := slices.Clone(Baseline)
	if p != nil {
		cmds = append(cmds, p.Extra()...)
	}
	return cmds
}

// CommandResult is an executed command together with its decoded fields.
// The raw lines in the embedded Result are kept even when decoding fails.
type CommandResult struct {
	*modem.Result
	Label    string       `json:"label,omitempty"`
	Parser   string       `json:"parser"`
	Fields   parse.Fields `json:"fields,omitempty"`
	ParseErr error        `json:"-"`
}

func (r *CommandResult) MarshalJSON() ([]byte, error) {
	type plain CommandResult
	out := struct {
		*plain
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
		ParseError string `json:"parse_error,omitempty"`
	}{plain: (*plain)(r), Success: r.Success()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.ParseErr != nil {
		out.ParseError = r.ParseErr.Error()
	}
	return json.Marshal(out)
}

// Record is one complete diagnostic pass over a modem.
type Record struct {
	ID        uuid.UUID          `json:"id"`
	Name      string             `json:"name,omitempty"`
	Link      modem.Link         `json:"link"`
	Detection *profile.Detection `json:"detection,omitempty"`
	Started   time.Time          `json:"started"`
	Finished  time.Time          `json:"finished"`
	Results   []*CommandResult   `json:"results"`
}

// Failed returns the results that did not end with OK.
func (rec *Record) Failed() []*CommandResult {
	var out []*CommandResult
	for _, r := range rec.Results {
		if !r.Success() {
			out = append(out, r)
		}
	}
	return out
}

// Summary condenses the decoded fields of a Record into the values an
// operator looks at first.
type Summary struct {
	Modem           string          `json:"modem"`
	Manufacturer    string          `json:"manufacturer,omitempty"`
	Model           string          `json:"model,omitempty"`
	Firmware        string          `json:"firmware,omitempty"`
	IMEI            string          `json:"imei,omitempty"`
	IMSI            string          `json:"imsi,omitempty"`
	ICCID           string          `json:"iccid,omitempty"`
	SIMStatus       string          `json:"sim_status,omitempty"`
	SIMReady        bool            `json:"sim_ready"`
	Operator        string          `json:"operator,omitempty"`
	AccessTech      string          `json:"access_tech,omitempty"`
	SignalQuality   string          `json:"signal_quality,omitempty"`
	SignalDBm       string          `json:"signal_dbm,omitempty"`
	CSRegistration  string          `json:"cs_registration,omitempty"`
	PSRegistration  string          `json:"ps_registration,omitempty"`
	EPSRegistration string          `json:"eps_registration,omitempty"`
	Contexts        []parse.Context `json:"contexts,omitempty"`
	Commands        int             `json:"commands"`
	Failed          int             `json:"failed"`
}

// Summary derives the Summary from the decoded results. The first result
// reporting a field wins, so baseline values take precedence over vendor
// ones; a vendor command still fills a field the baseline left empty, e.g.
// an ICCID read through AT+QCCID after AT+CCID failed.
func (rec *Record) Summary() Summary {
	merged := parse.Fields{}
	var contexts []parse.Context
	for _, r := range rec.Results {
		if r.Parser == parse.KeyCGDCONT && contexts == nil {
			contexts, _ = r.Fields["contexts"].([]parse.Context)
		}
		for k, v := range r.Fields {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}

	s := Summary{
		Modem:           rec.Detection.Description(),
		Contexts:        contexts,
		Manufacturer:    merged.String("manufacturer"),
		Model:           merged.String("model"),
		Firmware:        merged.String("firmware"),
		IMEI:            merged.String("imei"),
		IMSI:            merged.String("imsi"),
		ICCID:           merged.String("iccid"),
		SIMStatus:       merged.String("sim_status_text"),
		Operator:        merged.String("operator"),
		AccessTech:      merged.String("access_tech_text"),
		SignalQuality:   merged.String("signal_quality"),
		SignalDBm:       merged.String("rssi_dbm"),
		CSRegistration:  merged.String("creg_status_text"),
		PSRegistration:  merged.String("cgreg_status_text"),
		EPSRegistration: merged.String("cereg_status_text"),
		Commands:        len(rec.Results),
		Failed:          len(rec.Failed()),
	}
	s.SIMReady, _ = merged["sim_ready"].(bool)
	return s
}
