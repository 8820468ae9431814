package profile

import (
	"context"
	"strings"
	"time"

	"i4.energy/across/modemdiag/at"
	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/parse"
)

// Detection is the outcome of identifying a connected modem.
type Detection struct {
	Profile      *Profile        `json:"-"`
	Vendor       string          `json:"vendor"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Model        string          `json:"model,omitempty"`
	Results      []*modem.Result `json:"-"`
}

// Description names the modem for display, e.g. "Quectel EG25". An
// unknown vendor is shown by its manufacturer string.
func (d *Detection) Description() string {
	if d == nil {
		return Generic.name
	}
	name := d.Vendor
	if d.Profile.IsGeneric() && d.Manufacturer != "" {
		name = d.Manufacturer
	}
	if d.Model == "" {
		return name
	}
	return name + " " + d.Model
}

// Detect asks the modem for its manufacturer and model and picks the
// matching profile. Failing or silent commands are not fatal: the modem is
// then treated as Generic. The profile chosen here stays fixed for the
// remainder of the session.
func Detect(ctx context.Context, ex modem.Executor, timeout time.Duration) *Detection {
	mfr := ex.Execute(ctx, at.CmdManufacturer, timeout)
	model := ex.Execute(ctx, at.CmdModel, timeout)

	d := &Detection{
		Manufacturer: identity(mfr, parse.KeyManufacturer),
		Model:        identity(model, parse.KeyModel),
		Results:      []*modem.Result{mfr, model},
	}
	d.Profile = Match(d.Manufacturer)
	d.Vendor = d.Profile.Name()
	return d
}

func identity(res *modem.Result, key string) string {
	if !res.Success() {
		return ""
	}
	f, err := parse.Decode(key, res.Data())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(f.String(key))
}
