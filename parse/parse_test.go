package parse

import (
	"errors"
	"reflect"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"AT+COPS=?", KeyCOPSScan},
		{"AT+COPS?", KeyCOPS},
		{"at+cops?", KeyCOPS},
		{"AT+CREG?", KeyRegistration},
		{"AT+CGREG?", KeyRegistration},
		{"AT+CEREG?", KeyRegistration},
		{"AT+CSQ", KeyCSQ},
		{"AT+CGDCONT?", KeyCGDCONT},
		{"AT+CPIN?", KeyCPIN},
		{"AT+CIMI", KeyIMSI},
		{"AT+CCID", KeyICCID},
		{"AT+QCCID", KeyICCID},
		{"AT+ICCID", KeyICCID},
		{"AT+CGMI", KeyManufacturer},
		{"AT+CGMM", KeyModel},
		{"AT+CGMR", KeyFirmware},
		{"AT+CGSN", KeyIMEI},
		{"ATI", KeyInfo},
		{`AT+QENG="servingcell"`, KeyQENG},
		{`AT+QENG="neighbourcell"`, KeyPassthrough},
		{"AT+QNWINFO", KeyQNWINFO},
		{"AT+QSPN", KeyQSPN},
		{"AT+QTEMP", KeyQTEMP},
		{"AT!GSTATUS?", KeyGSTATUS},
		{"AT+UREG?", KeyUREG},
		{"AT+CPSI?", KeyCPSI},
		{"AT+CGATT?", KeyCGATT},
		{"AT+CGACT?", KeyCGACT},
		{"AT+CGPADDR", KeyCGPADDR},
		{"AT+CRSM=176,28539,0,0,12", KeyFPLMN},
		{"AT+KCELLMEAS=1", KeyKCELLMEAS},
		{"AT+UCGED?", KeyUCGED},
		{"AT#SERVINFO", KeySERVINFO},
		{"at#rfsts", KeyRFSTS},
		{"ATI9", KeyPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			if got := Key(tt.cmd); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestEveryKeyHasDecoder(t *testing.T) {
	for _, r := range rules {
		if _, ok := Lookup(r.key); !ok {
			t.Errorf("no decoder for key %q", r.key)
		}
	}
	if _, ok := Lookup(KeyPassthrough); !ok {
		t.Error("no passthrough decoder")
	}
}

func TestDecodeNoDataLines(t *testing.T) {
	f, err := Dispatch(`AT+CGDCONT=1,"IP","internet"`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f) != 0 {
		t.Errorf("expected no fields, got %v", f)
	}
}

func TestDecodeUnknownKey(t *testing.T) {
	if _, err := Decode("nope", []string{"x"}); !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch, got %v", err)
	}
}

func TestMismatchDoesNotPanic(t *testing.T) {
	garbage := [][]string{
		{"\x00\x7f\xff"},
		{"+CSQ: "},
		{"+COPS: ,,"},
		{"+CREG"},
		{"+QENG:"},
		{"+CRSM: x"},
		{"+UREG: "},
		{","},
	}
	for key := range decoders {
		for _, lines := range garbage {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("decoder %q panicked on %q: %v", key, lines, r)
					}
				}()
				_, err := Decode(key, lines)
				if err != nil && !errors.Is(err, ErrMismatch) {
					t.Errorf("decoder %q returned %v, want ErrMismatch", key, err)
				}
			}()
		}
	}
}

func TestFieldsAccessors(t *testing.T) {
	f := Fields{"a": "x", "n": 3, "b": true}
	if f.String("a") != "x" || f.String("n") != "3" || f.String("b") != "true" || f.String("missing") != "" {
		t.Errorf("unexpected String() results")
	}
	if n, ok := f.Int("n"); !ok || n != 3 {
		t.Errorf("Int(n) = %d, %v", n, ok)
	}
	if _, ok := f.Int("a"); ok {
		t.Error("Int(a) should fail on a string")
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name  string
		cmd   string
		lines []string
		want  Fields
	}{
		{
			name:  "csq good",
			cmd:   "AT+CSQ",
			lines: []string{"+CSQ: 17,99"},
			want: Fields{
				"rssi_raw":       17,
				"rssi_dbm":       "-79 dBm",
				"signal_quality": "Good",
				"ber_raw":        99,
				"ber_text":       "Unknown or not detectable",
			},
		},
		{
			name:  "csq floor",
			cmd:   "AT+CSQ",
			lines: []string{"+CSQ: 0,3"},
			want: Fields{
				"rssi_raw":       0,
				"rssi_dbm":       "<= -113 dBm",
				"signal_quality": "Very Poor",
				"ber_raw":        3,
				"ber_text":       "3 (0.8-1.6%)",
			},
		},
		{
			name:  "csq not detectable",
			cmd:   "AT+CSQ",
			lines: []string{"+CSQ: 99,99"},
			want: Fields{
				"rssi_raw":       99,
				"rssi_dbm":       "Unknown",
				"signal_quality": "Unknown",
				"ber_raw":        99,
				"ber_text":       "Unknown or not detectable",
			},
		},
		{
			name:  "cops full",
			cmd:   "AT+COPS?",
			lines: []string{`+COPS: 0,0,"Telekom.de",7`},
			want: Fields{
				"mode":             0,
				"mode_text":        "Automatic",
				"format":           0,
				"operator":         "Telekom.de",
				"access_tech":      7,
				"access_tech_text": "E-UTRAN",
			},
		},
		{
			name:  "cops mode only",
			cmd:   "AT+COPS?",
			lines: []string{"+COPS: 2"},
			want:  Fields{"mode": 2, "mode_text": "Deregister"},
		},
		{
			name:  "creg read form",
			cmd:   "AT+CREG?",
			lines: []string{"+CREG: 0,5"},
			want:  Fields{"creg_status": 5, "creg_status_text": "Registered, roaming"},
		},
		{
			name:  "cereg extended",
			cmd:   "AT+CEREG?",
			lines: []string{`+CEREG: 2,1,"0B0D","01A2D00B",7`},
			want: Fields{
				"cereg_status":      1,
				"cereg_status_text": "Registered, home network",
				"lac":               "0B0D",
				"ci":                "01A2D00B",
				"act":               7,
				"act_text":          "E-UTRAN",
			},
		},
		{
			name:  "cgreg out of table",
			cmd:   "AT+CGREG?",
			lines: []string{"+CGREG: 0,42"},
			want:  Fields{"cgreg_status": 42, "cgreg_status_text": "Unknown"},
		},
		{
			name:  "cpin ready",
			cmd:   "AT+CPIN?",
			lines: []string{"+CPIN: READY"},
			want:  Fields{"sim_status": "READY", "sim_ready": true, "sim_status_text": "SIM is ready"},
		},
		{
			name:  "cpin puk",
			cmd:   "AT+CPIN?",
			lines: []string{"+CPIN: SIM PUK"},
			want:  Fields{"sim_status": "SIM PUK", "sim_ready": false, "sim_status_text": "SIM requires PUK"},
		},
		{
			name:  "imsi",
			cmd:   "AT+CIMI",
			lines: []string{"262011234567890"},
			want:  Fields{"imsi": "262011234567890"},
		},
		{
			name:  "iccid with prefix and filler",
			cmd:   "AT+QCCID",
			lines: []string{"+QCCID: 89490200001234567890F"},
			want:  Fields{"iccid": "89490200001234567890"},
		},
		{
			name:  "manufacturer",
			cmd:   "AT+CGMI",
			lines: []string{"Quectel"},
			want:  Fields{"manufacturer": "Quectel"},
		},
		{
			name:  "firmware with prefix",
			cmd:   "AT+CGMR",
			lines: []string{"+CGMR: EG25GGBR07A08M2G"},
			want:  Fields{"firmware": "EG25GGBR07A08M2G"},
		},
		{
			name:  "imei",
			cmd:   "AT+CGSN",
			lines: []string{"867698041234567"},
			want:  Fields{"imei": "867698041234567"},
		},
		{
			name:  "info joins lines",
			cmd:   "ATI",
			lines: []string{"Quectel", "EG25", "Revision: EG25GGBR07A08M2G"},
			want:  Fields{"info": "Quectel\nEG25\nRevision: EG25GGBR07A08M2G"},
		},
		{
			name:  "passthrough",
			cmd:   `AT+QENG="neighbourcell"`,
			lines: []string{`+QENG: "neighbourcell intra","LTE",1300,301,-12,-97,-68,0,37,7,16,6,44`},
			want:  Fields{"response": `+QENG: "neighbourcell intra","LTE",1300,301,-12,-97,-68,0,37,7,16,6,44`},
		},
		{
			name:  "cgatt",
			cmd:   "AT+CGATT?",
			lines: []string{"+CGATT: 1"},
			want:  Fields{"attached": true, "attached_text": "Attached"},
		},
		{
			name:  "cgact",
			cmd:   "AT+CGACT?",
			lines: []string{"+CGACT: 1,1", "+CGACT: 2,0"},
			want:  Fields{"contexts": []ContextState{{CID: 1, Active: true}, {CID: 2, Active: false}}},
		},
		{
			name:  "cgpaddr",
			cmd:   "AT+CGPADDR",
			lines: []string{`+CGPADDR: 1,"10.64.12.7"`, "+CGPADDR: 2"},
			want:  Fields{"addresses": []Address{{CID: 1, Address: "10.64.12.7"}, {CID: 2}}},
		},
		{
			name:  "cgdcont",
			cmd:   "AT+CGDCONT?",
			lines: []string{`+CGDCONT: 1,"IP","internet.telekom","0.0.0.0",0,0`, `+CGDCONT: 2,"IPV4V6","ims"`},
			want: Fields{"contexts": []Context{
				{CID: 1, PDPType: "IP", APN: "internet.telekom", Address: "0.0.0.0"},
				{CID: 2, PDPType: "IPV4V6", APN: "ims"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Dispatch(tt.cmd, tt.lines)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Dispatch(%q) =\n%#v\nwant\n%#v", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestDispatchMismatch(t *testing.T) {
	tests := []struct {
		cmd   string
		lines []string
	}{
		{"AT+CSQ", []string{"+CSQ: garbage"}},
		{"AT+COPS?", []string{"NO SERVICE"}},
		{"AT+COPS=?", []string{"+COPS: ,,(0-4),(0-2)"}},
		{"AT+CREG?", []string{"+CGATT: 1"}},
		{"AT+CPIN?", []string{"SIM failure"}},
		{"AT+CGDCONT?", []string{"+CGDCONT: bad"}},
		{"AT+QNWINFO", []string{"+QNWINFO: No Service"}},
		{"AT+CGSN", []string{"+CGSN:"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			f, err := Dispatch(tt.cmd, tt.lines)
			if !errors.Is(err, ErrMismatch) {
				t.Errorf("expected ErrMismatch, got %v (fields %v)", err, f)
			}
		})
	}
}
