// Package report renders scenario run results as a text summary, JSON, or
// JUnit XML.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/blogcheck/internal/errs"
	"github.com/kuitang/blogcheck/internal/scenario"
)

// Writer renders a report.
type Writer func(w io.Writer, r *scenario.Report) error

// ForFormat returns the writer for "text", "json" or "junit".
func ForFormat(format string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return WriteText, nil
	case "json":
		return WriteJSON, nil
	case "junit":
		return WriteJUnit, nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown report format %q", format))
	}
}

// WriteFile renders r with write into path, or to stdout when path is empty.
func WriteFile(path string, write Writer, r *scenario.Report) error {
	if path == "" {
		return write(os.Stdout, r)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := write(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var statusMarks = map[scenario.Status]string{
	scenario.Passed:  "✓",
	scenario.Failed:  "✗",
	scenario.Errored: "!",
	scenario.Skipped: "-",
}

// WriteText writes one line per case followed by a summary.
func WriteText(w io.Writer, r *scenario.Report) error {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%s %s (%.2fs)\n", statusMarks[res.Status], res.Name, res.Duration.Seconds())
		if res.Status == scenario.Failed || res.Status == scenario.Errored {
			fmt.Fprintf(&b, "    %s at step %q: %s\n", res.Status, res.Step, res.Message())
			if res.Screenshot != "" {
				fmt.Fprintf(&b, "    screenshot: %s\n", res.Screenshot)
			}
		}
	}

	c := r.Counts()
	b.WriteString(strings.Repeat("-", 80) + "\n")
	fmt.Fprintf(&b, "%d passed, %d failed, %d errors, %d skipped (%d total) in %.2fs\n",
		c.Passed, c.Failed, c.Errored, c.Skipped, c.Total, r.Duration.Seconds())
	if r.Passed() {
		b.WriteString("PASS\n")
	} else {
		b.WriteString("FAIL\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type jsonReport struct {
	RunID      string       `json:"run_id"`
	Started    time.Time    `json:"started"`
	DurationMS int64        `json:"duration_ms"`
	Passed     bool         `json:"passed"`
	Counts     jsonCounts   `json:"counts"`
	Results    []jsonResult `json:"results"`
}

type jsonCounts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"error"`
	Skipped int `json:"skipped"`
}

type jsonResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Step       string `json:"step,omitempty"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// WriteJSON writes the report as an indented JSON document.
func WriteJSON(w io.Writer, r *scenario.Report) error {
	c := r.Counts()
	out := jsonReport{
		RunID:      r.RunID,
		Started:    r.Started.UTC(),
		DurationMS: r.Duration.Milliseconds(),
		Passed:     r.Passed(),
		Counts:     jsonCounts{Total: c.Total, Passed: c.Passed, Failed: c.Failed, Errored: c.Errored, Skipped: c.Skipped},
		Results:    make([]jsonResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		jr := jsonResult{
			Name:       res.Name,
			Status:     string(res.Status),
			DurationMS: res.Duration.Milliseconds(),
			Step:       res.Step,
			Error:      res.Message(),
			Screenshot: res.Screenshot,
		}
		if res.Err != nil {
			jr.Code = string(errs.CodeOf(res.Err))
		}
		out.Results = append(out.Results, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Errors    int         `xml:"errors,attr"`
	Skipped   int         `xml:"skipped,attr"`
	Time      string      `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	ID        string      `xml:"id,attr,omitempty"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit writes the report as a single JUnit test suite. The group path
// becomes the classname.
func WriteJUnit(w io.Writer, r *scenario.Report) error {
	c := r.Counts()
	suite := junitSuite{
		Name:      "blogcheck",
		Tests:     c.Total,
		Failures:  c.Failed,
		Errors:    c.Errored,
		Skipped:   c.Skipped,
		Time:      seconds(r.Duration),
		Timestamp: r.Started.UTC().Format(time.RFC3339),
		ID:        r.RunID,
		Cases:     make([]junitCase, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		classname, name := splitName(res.Name)
		jc := junitCase{Name: name, Classname: classname, Time: seconds(res.Duration)}
		switch res.Status {
		case scenario.Failed:
			jc.Failure = problem(res)
		case scenario.Errored:
			jc.Error = problem(res)
		case scenario.Skipped:
			jc.Skipped = &struct{}{}
		}
		if res.Screenshot != "" {
			jc.SystemOut = "screenshot: " + res.Screenshot
		}
		suite.Cases = append(suite.Cases, jc)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(junitSuites{Suites: []junitSuite{suite}}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func problem(res scenario.Result) *junitProblem {
	return &junitProblem{
		Message: res.Message(),
		Type:    string(errs.CodeOf(res.Err)),
		Body:    fmt.Sprintf("step %q: %s", res.Step, res.Message()),
	}
}

// splitName turns "a/b/c" into classname "a.b" and name "c".
func splitName(full string) (string, string) {
	i := strings.LastIndex(full, "/")
	if i < 0 {
		return "blogcheck", full
	}
	return strings.ReplaceAll(full[:i], "/", "."), full[i+1:]
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
