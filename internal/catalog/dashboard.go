package catalog

import (
	"encoding/csv"
	"io"
	"math"
	"strings"
	"time"

	"conventions/internal/domain"
)

// Filters mirror the dashboard selectors. Empty or "all" disables a selector.
type Filters struct {
	Status string
	Class  string
	Type   string
	Search string
}

func active(v string) bool {
	return v != "" && v != "all"
}

// Match reports whether conv passes every active filter. Search matches the
// student's full name, the company name or the SIREN, case-insensitively.
func (f Filters) Match(conv domain.Convention) bool {
	if active(f.Status) && string(conv.Status) != f.Status {
		return false
	}
	if active(f.Class) && conv.Student.Class != f.Class {
		return false
	}
	if active(f.Type) && string(conv.ConventionType) != f.Type {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(conv.StudentName()), q) ||
			strings.Contains(strings.ToLower(conv.Company.Name), q) ||
			strings.Contains(strings.ToLower(conv.Company.Siren), q)
	}
	return true
}

func Filter(convs []domain.Convention, f Filters) []domain.Convention {
	out := make([]domain.Convention, 0, len(convs))
	for _, c := range convs {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

type Stats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Signed        int `json:"signed"`
	ReadyToPrint  int `json:"ready_to_print"`
	PendingPct    int `json:"pending_percent"`
	SignedPct     int `json:"signed_percent"`
	ReadyPct      int `json:"ready_percent"`
	MinorCount    int `json:"minor_count"`
	DraftCount    int `json:"draft_count"`
	AwaitingCount int `json:"awaiting_signatures_count"`
}

// ComputeStats counts drafts and conventions awaiting signatures together as pending.
func ComputeStats(convs []domain.Convention) Stats {
	var s Stats
	s.Total = len(convs)
	for _, c := range convs {
		switch c.Status {
		case domain.StatusDraft:
			s.Pending++
			s.DraftCount++
		case domain.StatusPendingSignatures:
			s.Pending++
			s.AwaitingCount++
		case domain.StatusSigned:
			s.Signed++
		case domain.StatusReadyToPrint:
			s.ReadyToPrint++
		}
		if c.IsMinor {
			s.MinorCount++
		}
	}
	s.PendingPct = percent(s.Pending, s.Total)
	s.SignedPct = percent(s.Signed, s.Total)
	s.ReadyPct = percent(s.ReadyToPrint, s.Total)
	return s
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}

var csvHeader = []string{"Élève", "Classe", "Entreprise", "SIREN", "Type", "Statut", "Date création", "Mineur"}

// WriteCSV exports conventions with one row per convention.
func WriteCSV(w io.Writer, convs []domain.Convention) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range convs {
		minor := "Non"
		if c.IsMinor {
			minor = "Oui"
		}
		row := []string{
			c.StudentName(),
			c.Student.Class,
			c.Company.Name,
			c.Company.Siren,
			string(c.ConventionType),
			string(c.Status),
			frenchDate(c.CreatedAt),
			minor,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func frenchDate(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Format("02/01/2006")
}

// ExportFilename names an export produced at now.
func ExportFilename(now time.Time) string {
	return "conventions_" + now.UTC().Format("2006-01-02") + ".csv"
}
