package diag

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"i4.energy/across/modemdiag/parse"
	"i4.energy/across/modemdiag/profile"
)

// OperatorTimeout bounds commands that make the modem search the air:
// the network scan and manual operator selection.
const OperatorTimeout = 60 * time.Second

// Operator selection modes accepted by SelectOperator.
const (
	ModeAutomatic       = 0
	ModeManual          = 1
	ModeManualAutomatic = 4
)

// PDP types accepted by SetAPN.
var PDPTypes = []string{"IP", "IPV6", "IPV4V6"}

var (
	plmnPattern = regexp.MustCompile(`^\d{5,6}$`)
	apnPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,99}$`)
)

// ScanNetworks lists the operators visible to the modem. The scan may take
// up to a minute.
func (r *Runner) ScanNetworks(ctx context.Context) ([]parse.Network, *CommandResult, error) {
	res := r.Exec(ctx, profile.Command{
		Command: "AT+COPS=?",
		Label:   "Network scan",
		Timeout: OperatorTimeout,
	})
	if err := failure(res); err != nil {
		return nil, res, fmt.Errorf("scan networks: %w", err)
	}
	return parse.Networks(res.Data()), res, nil
}

// FPLMNView is the forbidden network list of the SIM together with the
// operator preference lists some modems keep.
type FPLMNView struct {
	Forbidden []parse.PLMN     `json:"forbidden"`
	Results   []*CommandResult `json:"results"`
}

// ViewFPLMN reads EF_FPLMN from the SIM, then the preferred operator list
// and the list selection. The latter two are optional features; their
// failure is recorded but not reported as an error.
func (r *Runner) ViewFPLMN(ctx context.Context) (*FPLMNView, error) {
	results := r.RunSet(ctx, []profile.Command{
		{Command: "AT+CRSM=176,28539,0,0,12", Label: "Forbidden networks (EF_FPLMN)"},
		{Command: "AT+CPOL?", Label: "Preferred operator list"},
		{Command: "AT+CPLS?", Label: "Preferred list selection"},
	})
	view := &FPLMNView{Results: results}
	if len(results) == 0 {
		return view, ctx.Err()
	}

	fplmn := results[0]
	if err := failure(fplmn); err != nil {
		return view, fmt.Errorf("read forbidden networks: %w", err)
	}
	if sw1, ok := fplmn.Fields.Int("sw1"); ok && sw1 != 144 {
		sw2, _ := fplmn.Fields.Int("sw2")
		return view, fmt.Errorf("read forbidden networks: SIM status %d,%d", sw1, sw2)
	}
	view.Forbidden, _ = fplmn.Fields["plmns"].([]parse.PLMN)
	return view, nil
}

// ClearFPLMN overwrites EF_FPLMN with unused entries and empties the
// preferred operator list. Both steps are attempted; the error reports the
// FPLMN write only, since many modems reject AT+CPOL= without harm.
func (r *Runner) ClearFPLMN(ctx context.Context) ([]*CommandResult, error) {
	results := r.RunSet(ctx, []profile.Command{
		{Command: `AT+CRSM=214,28539,0,0,12,"FFFFFFFFFFFFFFFFFFFFFFFF"`, Label: "Clear forbidden networks"},
		{Command: "AT+CPOL=", Label: "Clear preferred operator list"},
	})
	if len(results) == 0 {
		return results, ctx.Err()
	}
	if err := failure(results[0]); err != nil {
		return results, fmt.Errorf("clear forbidden networks: %w", err)
	}
	return results, nil
}

// SelectOperator switches network selection. ModeAutomatic ignores plmn;
// the manual modes need a 5 or 6 digit numeric operator code. The
// registration state is read back afterwards regardless of the outcome.
func (r *Runner) SelectOperator(ctx context.Context, mode int, plmn string) ([]*CommandResult, error) {
	var cmd string
	switch mode {
	case ModeAutomatic:
		cmd = "AT+COPS=0"
	case ModeManual, ModeManualAutomatic:
		plmn = strings.TrimSpace(plmn)
		if !plmnPattern.MatchString(plmn) {
			return nil, fmt.Errorf("%w: operator code %q", ErrInvalidArgument, plmn)
		}
		cmd = fmt.Sprintf(`AT+COPS=%d,2,"%s"`, mode, plmn)
	default:
		return nil, fmt.Errorf("%w: selection mode %d", ErrInvalidArgument, mode)
	}

	sel := r.Exec(ctx, profile.Command{Command: cmd, Label: "Operator selection", Timeout: OperatorTimeout})
	results := []*CommandResult{sel}
	if ctx.Err() == nil {
		results = append(results, r.Exec(ctx, profile.Command{Command: "AT+CREG?", Label: "Network registration (CS)"}))
	}
	if err := failure(sel); err != nil {
		return results, fmt.Errorf("select operator: %w", err)
	}
	return results, nil
}

// DataStatus reads packet domain attach, context activation and assigned
// addresses.
func (r *Runner) DataStatus(ctx context.Context) []*CommandResult {
	return r.RunSet(ctx, []profile.Command{
		{Command: "AT+CGDCONT?", Label: "PDP context"},
		{Command: "AT+CGATT?", Label: "GPRS attach status"},
		{Command: "AT+CGACT?", Label: "PDP context activation"},
		{Command: "AT+CGPADDR", Label: "IP address assignment"},
	})
}

// APN is one PDP context definition to write with SetAPN.
type APN struct {
	CID     int    `json:"cid" yaml:"cid"`
	PDPType string `json:"pdp_type" yaml:"pdp_type"`
	Name    string `json:"apn" yaml:"apn"`
}

func (a APN) validate() error {
	if a.CID < 1 || a.CID > 24 {
		return fmt.Errorf("%w: context id %d", ErrInvalidArgument, a.CID)
	}
	if !slices.Contains(PDPTypes, a.PDPType) {
		return fmt.Errorf("%w: PDP type %q", ErrInvalidArgument, a.PDPType)
	}
	if !apnPattern.MatchString(a.Name) {
		return fmt.Errorf("%w: APN %q", ErrInvalidArgument, a.Name)
	}
	return nil
}

// SetAPN defines a PDP context and reads the definitions back. The
// returned Context is the read-back entry for a.CID, nil if the modem does
// not list it.
func (r *Runner) SetAPN(ctx context.Context, a APN) (*parse.Context, []*CommandResult, error) {
	a.PDPType = strings.ToUpper(strings.TrimSpace(a.PDPType))
	a.Name = strings.TrimSpace(a.Name)
	if err := a.validate(); err != nil {
		return nil, nil, err
	}

	set := r.Exec(ctx, profile.Command{
		Command: fmt.Sprintf(`AT+CGDCONT=%d,"%s","%s"`, a.CID, a.PDPType, a.Name),
		Label:   "Define PDP context",
	})
	results := []*CommandResult{set}
	if err := failure(set); err != nil {
		return nil, results, fmt.Errorf("set APN: %w", err)
	}

	check := r.Exec(ctx, profile.Command{Command: "AT+CGDCONT?", Label: "PDP context"})
	results = append(results, check)
	if err := failure(check); err != nil {
		return nil, results, fmt.Errorf("read back APN: %w", err)
	}
	for _, c := range parse.Contexts(check.Data()) {
		if c.CID == a.CID {
			return &c, results, nil
		}
	}
	return nil, results, nil
}

// SetContextActive activates or deactivates one PDP context.
func (r *Runner) SetContextActive(ctx context.Context, cid int, active bool) (*CommandResult, error) {
	if cid < 1 || cid > 24 {
		return nil, fmt.Errorf("%w: context id %d", ErrInvalidArgument, cid)
	}
	state, label := 0, "Deactivate PDP context"
	if active {
		state, label = 1, "Activate PDP context"
	}
	res := r.Exec(ctx, profile.Command{
		Command: fmt.Sprintf("AT+CGACT=%d,%d", state, cid),
		Label:   label,
		Timeout: OperatorTimeout,
	})
	if err := failure(res); err != nil {
		return res, fmt.Errorf("%s: %w", strings.ToLower(label), err)
	}
	return res, nil
}
