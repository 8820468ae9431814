package at

const (
	// Terminal Control
	CR     = "\r"
	LF     = "\n"
	CRLF   = "\r\n"
	Prompt = "> "

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcReady      = "RDY"
	UrcStartup    = "^SYSSTART"
	UrcCall       = "RING"
	UrcIndication = "+QIND:"
	UrcSIMState   = "+QUSIM:"
	UrcSIMStatus  = "+SIMSTAT:"
	UrcNewMsg     = "+CMTI:"
)

// urcPrefixes start notifications that may interleave with any reply.
var urcPrefixes = []string{UrcIndication, UrcSIMState, UrcSIMStatus, UrcNewMsg}

// Commands issued by the engine itself. Diagnostic command sets live in the
// profile and diag packages.
const (
	CmdAt           = "AT"
	CmdEchoOff      = "ATE0"
	CmdVerboseError = "AT+CMEE=2"
	CmdManufacturer = "AT+CGMI"
	CmdModel        = "AT+CGMM"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CSQ: ...)
	TypePrompt                     // "> " data input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
