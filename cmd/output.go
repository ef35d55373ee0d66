package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
	"github.com/sells-group/prospect-intel/internal/resilience"
)

// eventPrinter writes progress events to out, one per line. Sinks are
// called from several goroutines, so writes are serialized.
type eventPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool
}

func (p *eventPrinter) sink(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		_ = json.NewEncoder(p.out).Encode(ev)
		return
	}
	_, _ = fmt.Fprintln(p.out, formatEvent(ev))
}

// formatEvent renders an event as a single human-readable line.
func formatEvent(ev model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s", ev.Kind)
	switch {
	case ev.GlobalProgress != nil:
		fmt.Fprintf(&b, " %5.1f%%", float64(*ev.GlobalProgress))
	case ev.Percentage != nil:
		fmt.Fprintf(&b, " %5.1f%%", float64(*ev.Percentage))
	default:
		b.WriteString("       ")
	}
	if ev.Company != "" {
		b.WriteString(" " + ev.Company + ":")
	}
	if ev.Message != "" {
		b.WriteString(" " + ev.Message)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, " [%s] %s", ev.ErrorKind, ev.Error)
	}
	return b.String()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBatch writes the batch summary and its failures to w.
func formatBatch(out io.Writer, res *orchestrator.BatchResult, failures *resilience.FailureLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Analysis:\t%d\n", res.AnalysisID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", res.Rows)
	_, _ = fmt.Fprintf(w, "Companies:\t%d\n", res.Saved)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", res.Duplicates)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", res.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", res.Failed)
	_, _ = fmt.Fprintf(w, "Warnings:\t%d\n", len(res.Warnings))
	_, _ = fmt.Fprintf(w, "Duration:\t%.1fs\n", res.Duration)
	_ = w.Flush()

	if failures == nil || failures.Len() == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tSTAGE\tKIND\tRETRY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t-----\t----\t-----\t-----")
	for _, f := range failures.Entries() {
		retry := ""
		if f.Transient {
			retry = "yes"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.CompanyID, truncate(f.Company, 30), f.Stage, f.Kind, retry, truncate(f.Error, 60))
	}
	_ = w.Flush()
}

// recordFailures copies failed outcomes into a failure log.
func recordFailures(outcomes []orchestrator.Outcome) *resilience.FailureLog {
	log := &resilience.FailureLog{}
	for _, out := range outcomes {
		if out.Err != nil {
			log.Record(out.CompanyID, out.Name, string(out.Err.Stage), out.Err.Kind, out.Err.Err)
		}
	}
	return log
}

// formatOutcome writes a single-company result to w.
func formatOutcome(out io.Writer, o orchestrator.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Company:\t%d %s\n", o.CompanyID, o.Name)
	_, _ = fmt.Fprintf(w, "Stage:\t%s\n", o.Stage)
	if o.Opportunity != nil {
		_, _ = fmt.Fprintf(w, "Opportunity:\t%s (%d)\n", o.Opportunity.Grade, o.Opportunity.Score)
		if len(o.Opportunity.Indicators) > 0 {
			_, _ = fmt.Fprintf(w, "Indicators:\t%s\n", strings.Join(o.Opportunity.Indicators, "; "))
		}
	}
	if o.Err != nil {
		_, _ = fmt.Fprintf(w, "Error:\t[%s] %v\n", o.Err.Kind, o.Err.Err)
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", o.Duration.Round(time.Millisecond))
	_ = w.Flush()
}

// formatCompanies writes a tabular company list to w.
func formatCompanies(out io.Writer, companies []model.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSECTOR\tSTATUS\tOPPORTUNITY\tSECURITY\tPENTEST\tWEBSITE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t-----------\t--------\t-------\t-------")
	for _, c := range companies {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.Name, 30),
			truncate(c.Sector, 20),
			c.Status,
			opportunity(c),
			intOrDash(c.SecurityScore),
			intOrDash(c.PentestScore),
			c.Website,
		)
	}
	_ = w.Flush()
}

// formatNearby writes companies with their distances to w.
func formatNearby(out io.Writer, companies []model.NearbyCompany) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSECTOR\tDISTANCE\tRATING\tREVIEWS")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t------\t-------")
	for _, c := range companies {
		rating := "-"
		if c.Rating != nil {
			rating = fmt.Sprintf("%.1f", *c.Rating)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.2f km\t%s\t%s\n",
			c.ID, truncate(c.Name, 30), truncate(c.Sector, 20), c.DistanceKM, rating, intOrDash(c.ReviewsCount))
	}
	_ = w.Flush()
}

// formatStats writes corpus statistics to w.
func formatStats(out io.Writer, s *model.Statistics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Companies:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Favorites:\t%d\n", s.Favorites)
	_, _ = fmt.Fprintf(w, "With email:\t%d\n", s.WithEmail)
	_, _ = fmt.Fprintf(w, "With website:\t%d\n", s.WithWebsite)
	_, _ = fmt.Fprintf(w, "Scraped:\t%d\n", s.ScrapedCompanies)
	_, _ = fmt.Fprintf(w, "Analyzed:\t%d\n", s.AnalyzedCompanies)
	if s.AvgSecurityScore != nil {
		_, _ = fmt.Fprintf(w, "Avg security:\t%.1f\n", *s.AvgSecurityScore)
	}
	if s.AvgPentestScore != nil {
		_, _ = fmt.Fprintf(w, "Avg pentest:\t%.1f\n", *s.AvgPentestScore)
	}
	for _, g := range []struct {
		name   string
		counts map[string]int
	}{
		{"By opportunity", s.ByOpportunity},
		{"By status", s.ByStatus},
		{"By sector", s.BySector},
	} {
		if len(g.counts) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:\t\n", g.name)
		for _, k := range sortedKeys(g.counts) {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", k, g.counts[k])
		}
	}
	_ = w.Flush()
}

func opportunity(c model.Company) string {
	if c.Opportunity == "" {
		return "-"
	}
	if c.OpportunityScore == nil {
		return string(c.Opportunity)
	}
	return fmt.Sprintf("%s (%d)", c.Opportunity, *c.OpportunityScore)
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
