// Package report computes aggregate coverage statistics from collected
// resource states and renders the textual summary.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// ResourceState is the per-resource view carried by a report.
type ResourceState struct {
	Touched bool `json:"touched"`
}

// Report is the aggregate coverage result for one run.
type Report struct {
	Total     int `json:"total"`
	Touched   int `json:"touched"`
	Untouched int `json:"untouched"`
	// CoveragePercent is the coverage ratio formatted to two decimals. When
	// no resources were collected the ratio is undefined and the field holds
	// the literal "NaN"; see Undefined.
	CoveragePercent string                   `json:"coveragePercent"`
	Resources       map[string]ResourceState `json:"resources"`
	Text            string                   `json:"-"`

	percent float64
}

// Compute builds a report from identifier -> touched states.
func Compute(states map[string]bool) *Report {
	r := &Report{
		Resources: make(map[string]ResourceState, len(states)),
	}
	for identifier, touched := range states {
		r.Resources[identifier] = ResourceState{Touched: touched}
		r.Total++
		if touched {
			r.Touched++
		}
	}
	r.Untouched = r.Total - r.Touched

	// Zero collected resources yields NaN; the report carries it as-is.
	r.percent = 100 * float64(r.Touched) / float64(r.Total)
	r.CoveragePercent = fmt.Sprintf("%.2f", r.percent)

	r.Text = r.render()
	return r
}

// Percent returns the raw coverage ratio. NaN when the report is undefined.
func (r *Report) Percent() float64 {
	return r.percent
}

// Undefined reports whether the coverage ratio is undefined because no
// resources were collected.
func (r *Report) Undefined() bool {
	return r.Total == 0
}

// UntouchedResources returns the untouched identifiers in alphabetical order.
func (r *Report) UntouchedResources() []string {
	var untouched []string
	for identifier, state := range r.Resources {
		if !state.Touched {
			untouched = append(untouched, identifier)
		}
	}
	sort.Strings(untouched)
	return untouched
}

func (r *Report) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total resources:   %d\n", r.Total)
	fmt.Fprintf(&b, "Touched resources: %d\n", r.Touched)
	fmt.Fprintf(&b, "Resource coverage: %s%%\n", r.CoveragePercent)

	if r.Untouched > 0 {
		b.WriteString("\nUntouched resources:\n")
		for _, identifier := range r.UntouchedResources() {
			fmt.Fprintf(&b, "  %s\n", identifier)
		}
	}
	return b.String()
}

// WriteDetail renders a per-resource table, alphabetical by identifier.
func (r *Report) WriteDetail(w io.Writer) error {
	identifiers := make([]string, 0, len(r.Resources))
	for identifier := range r.Resources {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	table := tablewriter.NewWriter(w)
	table.Header("Resource", "Touched")
	for _, identifier := range identifiers {
		touched := "no"
		if r.Resources[identifier].Touched {
			touched = "yes"
		}
		if err := table.Append([]string{identifier, touched}); err != nil {
			return fmt.Errorf("failed to append report row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render report table: %w", err)
	}
	return nil
}
