package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/H4cking2theGate/remote-method-guesser/pkg/guess"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/operations"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/scan"
	"github.com/H4cking2theGate/remote-method-guesser/pkg/ssrf"
)

func useColor() bool {
	if opts.noColor {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	headColor   = color.New(color.FgCyan, color.Bold)
	vulnColor   = color.New(color.FgRed, color.Bold)
	okColor     = color.New(color.FgGreen)
	maybeColor  = color.New(color.FgYellow)
	errColor    = color.New(color.FgMagenta)
	detailColor = color.New(color.Faint)
)

func printReport(w io.Writer, rep *operations.Report, asJSON, colored bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	color.NoColor = !colored

	headColor.Fprintf(w, "[%s] %s\n", rep.Operation, rep.Endpoint)
	for _, msg := range rep.Messages {
		fmt.Fprintf(w, "  %s\n", msg)
	}

	if rep.Names != nil {
		headColor.Fprintf(w, "Bound names (%d):\n", len(rep.Names))
		for _, name := range rep.Names {
			fmt.Fprintf(w, "  - %s\n", name)
		}
	}
	for _, ref := range rep.Refs {
		if ref.Error != "" {
			fmt.Fprintf(w, "  %s: ", ref.Name)
			errColor.Fprintf(w, "%s\n", ref.Error)
			continue
		}
		fmt.Fprintf(w, "  %s -> %s (%s)\n", ref.Name, ref.Ref.Endpoint.Addr(), ref.Ref.Type)
		detailColor.Fprintf(w, "    objid: %s\n", ref.Ref.ObjID)
	}

	if rep.Outcome != nil {
		printOutcome(w, rep.Outcome)
	}
	if rep.Stream != "" {
		headColor.Fprintln(w, "Rendered stream:")
		fmt.Fprintf(w, "  %s\n", rep.Stream)
	}
	if rep.GuessResults != nil {
		printGuess(w, rep.GuessResults)
	}
	for _, cell := range rep.ScanResults {
		printCell(w, cell)
	}
	if rep.ScanMatrix != nil {
		printMatrix(w, rep.ScanMatrix)
	}
	return nil
}

func printOutcome(w io.Writer, out *operations.CallOutcome) {
	switch out.Kind {
	case "normal":
		okColor.Fprintln(w, "Call returned normally")
		if out.ValueHex != "" {
			detailColor.Fprintf(w, "  value: %s\n", out.ValueHex)
		}
	default:
		maybeColor.Fprintf(w, "Call raised an exception: %s\n", out.Classification)
		detailColor.Fprintf(w, "  %s\n", out.Detail)
	}
}

func printGuess(w io.Writer, results []guess.Result) {
	exists := guess.Exists(results)
	headColor.Fprintf(w, "Guessed methods (%d of %d candidates):\n", len(exists), len(results))
	for _, r := range results {
		switch r.Verdict {
		case guess.VerdictExists:
			okColor.Fprintf(w, "  [+] %s\n", r.Signature)
			if r.Detail != "" {
				detailColor.Fprintf(w, "      %s\n", r.Detail)
			}
		case guess.VerdictAmbiguous:
			maybeColor.Fprintf(w, "  [?] %s", r.Signature)
			if r.Error != "" {
				fmt.Fprintf(w, " (%s)", r.Error)
			}
			fmt.Fprintln(w)
		default:
			if opts.verbose {
				detailColor.Fprintf(w, "  [-] %s\n", r.Signature)
			}
		}
	}
}

func printMatrix(w io.Writer, m *scan.Matrix) {
	headColor.Fprintf(w, "Scan of %s (%d ports, %d actions):\n", m.Host, len(m.Rows), len(m.Actions))
	for _, row := range m.Rows {
		fmt.Fprintf(w, "  port %d:\n", row.Port)
		for _, cell := range row.Cells {
			printCell(w, cell)
		}
	}
}

func printCell(w io.Writer, cell scan.Result) {
	fmt.Fprintf(w, "    %-20s ", cell.Action)
	switch cell.Verdict {
	case scan.VerdictVulnerable:
		vulnColor.Fprint(w, "vulnerable")
	case scan.VerdictNotVulnerable:
		okColor.Fprint(w, "not vulnerable")
	case scan.VerdictInconclusive:
		maybeColor.Fprint(w, "inconclusive")
	default:
		errColor.Fprint(w, "error")
	}
	if cell.Detail != "" {
		detailColor.Fprintf(w, "  %s", cell.Detail)
	}
	if cell.Error != "" {
		detailColor.Fprintf(w, "  %s", cell.Error)
	}
	fmt.Fprintln(w)
}

func printRelay(w io.Writer, info *ssrf.RelayInfo) {
	headColor.Fprintf(w, "Relay %s: %s\n", info.URL, info.Status)
	if info.Server != "" {
		fmt.Fprintf(w, "  server: %s\n", info.Server)
	}
	for _, tech := range info.Technologies {
		fmt.Fprintf(w, "  - %s\n", tech)
	}
}
