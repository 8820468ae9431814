package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"

	"i4.energy/across/modemdiag/diag"
	"i4.energy/across/modemdiag/parse"
	"i4.energy/across/modemdiag/port"
	"i4.energy/across/modemdiag/profile"
)

func (a *app) addCommands() error {
	commands := []struct {
		name, short, long string
		data              flags.Commander
	}{
		{"ports", "List serial endpoints", "List the serial endpoints of the system in probe order.", &portsCommand{app: a}},
		{"scan", "Find the modem", "Probe serial endpoints and line speeds for a modem answering AT.", &scanCommand{app: a}},
		{"diagnose", "Run the full diagnostic", "Run the baseline and vendor command set and print a report.", &diagnoseCommand{app: a}},
		{"status", "Show a quick status", "Read signal, registration, operator and SIM state.", &statusCommand{app: a}},
		{"exec", "Send AT commands", "Send each argument as an AT command and print the decoded reply.", &execCommand{app: a}},
		{"networks", "Scan or select operators", "Search for operators, or switch network selection with --select.", &networksCommand{app: a}},
		{"fplmn", "Show forbidden networks", "Show the forbidden network list of the SIM, or clear it with --clear.", &fplmnCommand{app: a}},
		{"data", "Show packet data state", "Show attach, context and address state, optionally (de)activating a context first.", &dataCommand{app: a}},
		{"apn", "Configure a PDP context", "Define the APN of a PDP context and read the definition back.", &apnCommand{app: a}},
		{"vendor", "Run vendor tools", "Run the extra tools of the detected vendor profile.", &vendorCommand{app: a}},
		{"serve", "Run the HTTP API", "Connect to the modem and serve diagnostics over HTTP.", &serveCommand{app: a}},
	}
	for _, c := range commands {
		if _, err := a.parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return fmt.Errorf("register command %s: %w", c.name, err)
		}
	}
	return nil
}

type portsCommand struct {
	app  *app
	JSON bool `long:"json" description:"Print JSON"`
}

func (c *portsCommand) Execute([]string) error {
	endpoints, err := port.System()
	if err != nil {
		return fmt.Errorf("list serial endpoints: %w", err)
	}
	endpoints = port.SortByPriority(endpoints)
	if c.JSON {
		return writeJSON(c.app.out, endpoints)
	}

	kept := map[string]bool{}
	for e := range port.Exclude(slices.Values(endpoints), c.app.config.SkipPorts) {
		kept[e.Name] = true
	}

	tw := tabwriter.NewWriter(c.app.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tKIND\tUSB ID\tDESCRIPTION\t")
	for _, e := range endpoints {
		id := ""
		if e.VendorID != "" {
			id = e.VendorID + ":" + e.ProductID
		}
		desc := e.Description
		if !kept[e.Name] {
			desc = strings.TrimSpace(desc + " (skipped)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", e.Name, e.Kind, id, desc)
	}
	return tw.Flush()
}

type scanCommand struct {
	app  *app
	JSON bool `long:"json" description:"Print JSON"`
}

func (c *scanCommand) Execute([]string) error {
	a := c.app
	if a.config.StopModemManager {
		a.pauseModemManager(a.ctx)
	}

	result, err := a.scan(a.ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(a.out, result)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tENDPOINT\tBAUD\tRESULT\tELAPSED\t")
	for _, att := range result.Attempts {
		outcome := "answered"
		if !att.Working {
			outcome = "no answer"
			if att.Err != nil {
				outcome = att.Err.Error()
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t\n", att.Phase, att.Endpoint.Name, att.BaudRate, outcome, att.Elapsed.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sel, err := result.Select()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nRecommended: %s\n", sel.Candidate.Link())
	for _, alt := range sel.Alternatives[1:] {
		fmt.Fprintf(a.out, "Alternative: %s\n", alt.Link())
	}
	return nil
}

type diagnoseCommand struct {
	app    *app
	Name   string `long:"name" description:"Name stored with the record"`
	JSON   bool   `long:"json" description:"Print JSON instead of the text report"`
	Export bool   `long:"export" description:"Also write the text and JSON report to the report directory"`
}

func (c *diagnoseCommand) Execute([]string) error {
	a := c.app
	runner, det, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	rec := runner.Run(a.ctx, c.Name, det)
	if c.JSON {
		err = diag.WriteJSON(a.out, rec)
	} else {
		err = diag.WriteReport(a.out, rec)
	}
	if err != nil {
		return err
	}

	if c.Export {
		path, err := diag.Export(a.config.ReportDir, rec, true)
		if err != nil {
			return err
		}
		a.logger.Info("Report exported", "path", path)
	}
	return a.ctx.Err()
}

type statusCommand struct {
	app  *app
	JSON bool `long:"json" description:"Print JSON"`
}

func (c *statusCommand) Execute([]string) error {
	a := c.app
	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	results := runner.QuickStatus(a.ctx)
	if c.JSON {
		return writeJSON(a.out, results)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, r := range results {
		value := r.Status.String()
		if v := statusValue(r); v != "" {
			value = v
		}
		fmt.Fprintf(tw, "%s:\t%s\t\n", r.Label, value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return a.ctx.Err()
}

// statusValue picks the field worth a single line for a status result.
func statusValue(r *diag.CommandResult) string {
	switch r.Parser {
	case parse.KeyCSQ:
		if q := r.Fields.String("signal_quality"); q != "" {
			return fmt.Sprintf("%s (%s)", q, r.Fields.String("rssi_dbm"))
		}
	case parse.KeyRegistration:
		return r.Fields.String("creg_status_text")
	case parse.KeyCOPS:
		return r.Fields.String("operator")
	case parse.KeyCPIN:
		return r.Fields.String("sim_status_text")
	}
	return ""
}

type execCommand struct {
	app     *app
	Timeout time.Duration `short:"t" long:"timeout" description:"Time each command may take" default:"5s"`
	Args    struct {
		Commands []string `positional-arg-name:"COMMAND" required:"1"`
	} `positional-args:"yes"`
}

func (c *execCommand) Execute([]string) error {
	a := c.app
	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	var results []*diag.CommandResult
	for _, cmd := range c.Args.Commands {
		results = append(results, runner.Exec(a.ctx, profile.Command{
			Command: normalizeCommand(cmd),
			Timeout: c.Timeout,
		}))
	}
	printResults(a.out, results)
	return a.ctx.Err()
}

// normalizeCommand adds the AT prefix users tend to leave out.
func normalizeCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) >= 2 && strings.EqualFold(cmd[:2], "AT") {
		return cmd
	}
	return "AT" + cmd
}

type networksCommand struct {
	app    *app
	Select string `long:"select" description:"Switch network selection" choice:"auto" choice:"manual" choice:"manual-auto"`
	PLMN   string `long:"plmn" description:"Numeric operator code for manual selection, e.g. 26201"`
}

var selectModes = map[string]int{
	"auto":        diag.ModeAutomatic,
	"manual":      diag.ModeManual,
	"manual-auto": diag.ModeManualAutomatic,
}

func (c *networksCommand) Execute([]string) error {
	a := c.app
	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	if c.Select != "" {
		results, err := runner.SelectOperator(a.ctx, selectModes[c.Select], c.PLMN)
		printResults(a.out, results)
		return err
	}

	a.logger.Info("Searching for networks, this can take a minute")
	networks, res, err := runner.ScanNetworks(a.ctx)
	if err != nil {
		printResults(a.out, []*diag.CommandResult{res})
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLMN\tOPERATOR\tSHORT\tSTATUS\tTECHNOLOGY\t")
	for _, n := range networks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", n.Numeric, n.LongName, n.ShortName, n.StatusText, n.TechText)
	}
	return tw.Flush()
}

type fplmnCommand struct {
	app   *app
	Clear bool `long:"clear" description:"Erase the forbidden network list"`
}

func (c *fplmnCommand) Execute([]string) error {
	a := c.app
	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	if c.Clear {
		results, err := runner.ClearFPLMN(a.ctx)
		if err != nil {
			printResults(a.out, results)
			return err
		}
		a.logger.Info("Forbidden network list cleared")
	}

	view, err := runner.ViewFPLMN(a.ctx)
	if err != nil {
		printResults(a.out, view.Results)
		return err
	}
	if len(view.Forbidden) == 0 {
		fmt.Fprintln(a.out, "No forbidden networks")
	}
	for _, p := range view.Forbidden {
		fmt.Fprintf(a.out, "Forbidden: %s\n", p)
	}
	if len(view.Results) > 1 {
		printResults(a.out, view.Results[1:])
	}
	return nil
}

type dataCommand struct {
	app        *app
	Activate   int `long:"activate" description:"Activate the PDP context with this CID" value-name:"CID"`
	Deactivate int `long:"deactivate" description:"Deactivate the PDP context with this CID" value-name:"CID"`
}

func (c *dataCommand) Execute([]string) error {
	a := c.app
	if c.Activate != 0 && c.Deactivate != 0 {
		return fmt.Errorf("%w: --activate and --deactivate are mutually exclusive", diag.ErrInvalidArgument)
	}

	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	var results []*diag.CommandResult
	if c.Activate != 0 || c.Deactivate != 0 {
		cid, active := c.Activate, true
		if c.Deactivate != 0 {
			cid, active = c.Deactivate, false
		}
		res, err := runner.SetContextActive(a.ctx, cid, active)
		if err != nil {
			if res != nil {
				printResults(a.out, []*diag.CommandResult{res})
			}
			return err
		}
		results = append(results, res)
	}

	printResults(a.out, append(results, runner.DataStatus(a.ctx)...))
	return a.ctx.Err()
}

type apnCommand struct {
	app  *app
	CID  int    `long:"cid" description:"PDP context identifier" default:"1"`
	Type string `long:"type" description:"PDP type" choice:"IP" choice:"IPV6" choice:"IPV4V6" default:"IP"`
	Args struct {
		APN string `positional-arg-name:"APN" required:"yes"`
	} `positional-args:"yes"`
}

func (c *apnCommand) Execute([]string) error {
	a := c.app
	runner, _, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	pdp, results, err := runner.SetAPN(a.ctx, diag.APN{CID: c.CID, PDPType: c.Type, Name: c.Args.APN})
	if err != nil {
		printResults(a.out, results)
		return err
	}
	if pdp == nil {
		a.logger.Warn("Modem does not list the context after defining it", "cid", c.CID)
		printResults(a.out, results)
		return nil
	}
	fmt.Fprintf(a.out, "PDP context %d: %s %s\n", pdp.CID, pdp.PDPType, pdp.APN)
	return nil
}

type vendorCommand struct {
	app *app
}

func (c *vendorCommand) Execute([]string) error {
	a := c.app
	runner, det, err := a.connect(a.ctx)
	if err != nil {
		return err
	}
	if len(det.Profile.Tools()) == 0 {
		fmt.Fprintf(a.out, "No vendor tools for %s\n", det.Description())
		return nil
	}
	printResults(a.out, runner.VendorTools(a.ctx))
	return a.ctx.Err()
}

// printResults writes a compact block per command: status line, raw reply
// and decoded fields in key order.
func printResults(w io.Writer, results []*diag.CommandResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintf(w, "%s  %s  (%s)\n", r.Command, r.Status, r.Elapsed.Round(time.Millisecond))
		if r.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", r.Err)
		}
		for _, line := range r.Lines {
			fmt.Fprintf(w, "  | %s\n", line)
		}
		for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
			fmt.Fprintf(w, "  %s: %v\n", k, r.Fields[k])
		}
		if r.ParseErr != nil {
			fmt.Fprintf(w, "  parse error: %v\n", r.ParseErr)
		}
		fmt.Fprintln(w)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
