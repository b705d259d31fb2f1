package routing

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/storage"
)

// CoverageEntry is one barangay with its published AIP per requested year.
type CoverageEntry struct {
	Barangay storage.LGU
	AIPs     map[int]*storage.AIP
}

// CoverageReport records which barangays published an AIP for each year.
type CoverageReport struct {
	Years   []int
	Entries []CoverageEntry
}

// Covered returns the entries with a published AIP for year.
func (c *CoverageReport) Covered(year int) []CoverageEntry {
	var out []CoverageEntry
	for _, e := range c.Entries {
		if e.AIPs[year] != nil {
			out = append(out, e)
		}
	}
	return out
}

// Missing returns the entries without a published AIP for year.
func (c *CoverageReport) Missing(year int) []CoverageEntry {
	var out []CoverageEntry
	for _, e := range c.Entries {
		if e.AIPs[year] == nil {
			out = append(out, e)
		}
	}
	return out
}

// Complete reports whether every barangay published for every year.
func (c *CoverageReport) Complete() bool {
	for _, y := range c.Years {
		if len(c.Missing(y)) > 0 {
			return false
		}
	}
	return len(c.Entries) > 0
}

// Empty reports whether no barangay published for any year.
func (c *CoverageReport) Empty() bool {
	for _, y := range c.Years {
		if len(c.Covered(y)) > 0 {
			return false
		}
	}
	return true
}

func entryNames(entries []CoverageEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, compose.ShortBarangayName(e.Barangay.Name))
	}
	return out
}

func entryIDs(entries []CoverageEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Barangay.ID)
	}
	return out
}

// expandCoverage looks up the published AIP of every barangay for every year.
func (r *Router) expandCoverage(ctx context.Context, barangays []storage.LGU, years []int) (*CoverageReport, error) {
	found := make([][]*storage.AIP, len(barangays))
	for i := range found {
		found[i] = make([]*storage.AIP, len(years))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.CoverageConcurrency)
	for i, b := range barangays {
		for j, y := range years {
			g.Go(func() error {
				aip, err := r.deps.AIPs.FindPublished(gctx, storage.ScopeBarangay, b.ID, intPtr(y))
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("find AIP for barangay %s FY %d: %w", b.ID, y, err)
				}
				found[i][j] = aip
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CoverageReport{Years: years, Entries: make([]CoverageEntry, 0, len(barangays))}
	for i, b := range barangays {
		entry := CoverageEntry{Barangay: b, AIPs: make(map[int]*storage.AIP, len(years))}
		for j, y := range years {
			if found[i][j] != nil {
				entry.AIPs[y] = found[i][j]
			}
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}

// aipTotal returns the printed total of an AIP, summing line items when no
// total was extracted.
func (r *Router) aipTotal(ctx context.Context, aipID string) (float64, bool, error) {
	total, err := r.deps.AIPs.GetTotal(ctx, aipID)
	if err == nil {
		return total.TotalInvestmentProgram, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, false, fmt.Errorf("get AIP total: %w", err)
	}
	sum, _, err := r.deps.LineItems.SumByAIP(ctx, aipID)
	if err != nil {
		return 0, false, err
	}
	return sum, false, nil
}
