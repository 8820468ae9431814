package parse

// Unknown is the label for a value outside every band of a Table.
const Unknown = "Unknown"

// Band maps the inclusive range [Min, Max] to a label.
type Band struct {
	Min, Max int
	Label    string
}

// Table translates raw numeric codes to human readable labels. Bands must
// not overlap; the first band containing a value wins.
type Table []Band

// Label returns the label of the band containing v, or Unknown.
func (t Table) Label(v int) string {
	for _, b := range t {
		if v >= b.Min && v <= b.Max {
			return b.Label
		}
	}
	return Unknown
}

// Encode returns the lowest raw value carrying label.
func (t Table) Encode(label string) (int, bool) {
	for _, b := range t {
		if b.Label == label {
			return b.Min, true
		}
	}
	return 0, false
}

// SignalQuality rates the +CSQ RSSI index. 99 ("not known or not
// detectable") falls outside every band.
var SignalQuality = Table{
	{0, 1, "Very Poor"},
	{2, 9, "Poor"},
	{10, 14, "Fair"},
	{15, 19, "Good"},
	{20, 31, "Excellent"},
}

// BitErrorRate describes the +CSQ channel bit error rate index (RXQUAL).
var BitErrorRate = Table{
	{0, 0, "<0.2%"},
	{1, 1, "0.2-0.4%"},
	{2, 2, "0.4-0.8%"},
	{3, 3, "0.8-1.6%"},
	{4, 4, "1.6-3.2%"},
	{5, 5, "3.2-6.4%"},
	{6, 6, "6.4-12.8%"},
	{7, 7, ">12.8%"},
	{99, 99, "Unknown or not detectable"},
}

// Registration describes the <stat> of +CREG, +CGREG and +CEREG.
var Registration = Table{
	{0, 0, "Not registered, not searching"},
	{1, 1, "Registered, home network"},
	{2, 2, "Not registered, searching"},
	{3, 3, "Registration denied"},
	{4, 4, "Unknown"},
	{5, 5, "Registered, roaming"},
	{6, 6, "Registered for SMS only, home network"},
	{7, 7, "Registered for SMS only, roaming"},
	{8, 8, "Attached for emergency bearer services only"},
}

// AccessTechnology describes the <AcT> field shared by +COPS and the
// registration commands.
var AccessTechnology = Table{
	{0, 0, "GSM"},
	{1, 1, "GSM Compact"},
	{2, 2, "UTRAN"},
	{3, 3, "GSM w/EGPRS"},
	{4, 4, "UTRAN w/HSDPA"},
	{5, 5, "UTRAN w/HSUPA"},
	{6, 6, "UTRAN w/HSDPA and HSUPA"},
	{7, 7, "E-UTRAN"},
	{8, 8, "EC-GSM-IoT"},
	{9, 9, "E-UTRAN (NB-S1 mode)"},
	{10, 10, "E-UTRA connected to 5GCN"},
	{11, 11, "NR connected to 5GCN"},
	{12, 12, "NG-RAN"},
	{13, 13, "E-UTRA-NR dual connectivity"},
}

// OperatorMode describes the +COPS <mode>.
var OperatorMode = Table{
	{0, 0, "Automatic"},
	{1, 1, "Manual"},
	{2, 2, "Deregister"},
	{3, 3, "Set format only"},
	{4, 4, "Manual/Automatic"},
}

// NetworkStatus describes the <stat> of each operator listed by AT+COPS=?.
var NetworkStatus = Table{
	{0, 0, "Unknown"},
	{1, 1, "Available"},
	{2, 2, "Current"},
	{3, 3, "Forbidden"},
}

// PacketRegistration describes the u-blox +UREG <state>.
var PacketRegistration = Table{
	{0, 0, "Not registered for PS service"},
	{1, 1, "Registered for PS service, GPRS"},
	{2, 2, "Registered for PS service, EDGE"},
	{3, 3, "Registered for PS service, WCDMA"},
	{4, 4, "Registered for PS service, HSDPA"},
	{5, 5, "Registered for PS service, HSUPA"},
	{6, 6, "Registered for PS service, HSDPA and HSUPA"},
	{7, 7, "Registered for PS service, LTE"},
	{8, 8, "Registered for PS service, EC-GSM-IoT"},
	{9, 9, "Registered for PS service, LTE Cat M1"},
	{10, 10, "Registered for PS service, NB-IoT"},
}

var simStatusText = map[string]string{
	"READY":    "SIM is ready",
	"SIM PIN":  "SIM requires PIN",
	"SIM PUK":  "SIM requires PUK",
	"SIM PIN2": "SIM requires PIN2",
	"SIM PUK2": "SIM requires PUK2",
}
