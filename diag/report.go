package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	reportTimeLayout = "2006-01-02 15:04:05"
	fileTimeLayout   = "20060102_150405"
)

var (
	heavyRule = strings.Repeat("=", 70)
	lightRule = strings.Repeat("-", 70)
)

// WriteReport writes rec as a plain text report: a header, the summary and
// one block per command with its raw reply and decoded fields.
func WriteReport(w io.Writer, rec *Record) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, heavyRule)
	fmt.Fprintln(bw, "CELLULAR MODEM DIAGNOSTIC REPORT")
	fmt.Fprintf(bw, "Generated: %s\n", rec.Finished.Format(reportTimeLayout))
	fmt.Fprintf(bw, "Record: %s\n", rec.ID)
	if rec.Name != "" {
		fmt.Fprintf(bw, "Name: %s\n", rec.Name)
	}
	fmt.Fprintf(bw, "Port: %s\n", rec.Link)
	fmt.Fprintln(bw, heavyRule)
	fmt.Fprintln(bw)

	if err := writeSummary(bw, rec.Summary()); err != nil {
		return err
	}

	for _, r := range rec.Results {
		fmt.Fprintf(bw, "\nCommand: %s\n", r.Command)
		if r.Label != "" {
			fmt.Fprintf(bw, "Description: %s\n", r.Label)
		}
		fmt.Fprintf(bw, "Timestamp: %s\n", r.Started.Format(time.RFC3339))
		fmt.Fprintf(bw, "Success: %t\n", r.Success())
		fmt.Fprintf(bw, "Status: %s\n", r.Status)
		if r.Err != nil {
			fmt.Fprintf(bw, "Error: %v\n", r.Err)
		}
		fmt.Fprintf(bw, "\nRaw Response:\n%s\n", r.Raw())

		parsed := []byte("{}")
		if len(r.Fields) > 0 {
			var err error
			if parsed, err = json.MarshalIndent(r.Fields, "", "  "); err != nil {
				return fmt.Errorf("encode fields of %s: %w", r.Command, err)
			}
		}
		fmt.Fprintf(bw, "\nParsed Data:\n%s\n", parsed)
		if r.ParseErr != nil {
			fmt.Fprintf(bw, "Parse Error: %v\n", r.ParseErr)
		}
		fmt.Fprintln(bw, lightRule)
	}
	return bw.Flush()
}

func writeSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Modem", s.Modem},
		{"Firmware", s.Firmware},
		{"IMEI", s.IMEI},
		{"SIM", s.SIMStatus},
		{"IMSI", s.IMSI},
		{"ICCID", s.ICCID},
		{"Operator", s.Operator},
		{"Access technology", s.AccessTech},
		{"Signal", strings.TrimSpace(s.SignalQuality + " " + s.SignalDBm)},
		{"CS registration", s.CSRegistration},
		{"PS registration", s.PSRegistration},
		{"EPS registration", s.EPSRegistration},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	for _, c := range s.Contexts {
		fmt.Fprintf(tw, "PDP context %d:\t%s %s\n", c.CID, c.PDPType, c.APN)
	}
	fmt.Fprintf(tw, "Commands:\t%d (%d failed)\n", s.Commands, s.Failed)
	return tw.Flush()
}

// WriteJSON writes rec and its summary as indented JSON.
func WriteJSON(w io.Writer, rec *Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*Record
		Summary Summary `json:"summary"`
	}{rec, rec.Summary()})
}

// ReportName is the file name a report of rec is exported under, e.g.
// modem_diagnostic_20240131_142501.txt.
func ReportName(rec *Record, ext string) string {
	return "modem_diagnostic_" + rec.Finished.Format(fileTimeLayout) + "." + ext
}

// Export writes the text report of rec into dir, creating dir when needed,
// together with a JSON copy when withJSON is set. It returns the path of
// the text report.
func Export(dir string, rec *Record, withJSON bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	path := filepath.Join(dir, ReportName(rec, "txt"))
	if err := writeFile(path, rec, WriteReport); err != nil {
		return "", err
	}
	if withJSON {
		if err := writeFile(filepath.Join(dir, ReportName(rec, "json")), rec, WriteJSON); err != nil {
			return path, err
		}
	}
	return path, nil
}

func writeFile(path string, rec *Record, write func(io.Writer, *Record) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := write(f, rec); err != nil {
		f.Close()
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return f.Close()
}
