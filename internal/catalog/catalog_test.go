package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"conventions/internal/config"
	"conventions/internal/domain"
)

func validConvention() domain.Convention {
	hours := 35
	return domain.Convention{
		Company: domain.Company{
			Name:               "Garage Dupont",
			Siren:              "552100554",
			Phone:              "0590123456",
			Email:              "contact@garage-dupont.fr",
			SignatoryLastname:  "Dupont",
			SignatoryFirstname: "Marc",
			SignatoryTitle:     "Gérant",
			StageLocation:      "12 rue du Port, Saint-Martin",
		},
		Student: domain.Student{
			Lastname:  "Durand",
			Firstname: "Léa",
			Gender:    "F",
			Birthdate: "2009-03-14",
			Address:   "4 allée des Palmiers",
			Phone:     "0690112233",
			Email:     "lea.durand@example.com",
			Class:     "2nde1",
		},
		IsMinor: true,
		Guardian: domain.Guardian{
			Lastname:  "Durand",
			Firstname: "Paul",
			Address:   "4 allée des Palmiers",
			Phone:     "0690445566",
			Email:     "paul.durand@example.com",
		},
		Schedule:        domain.Schedule{WeeklyHours: &hours},
		MainTasks:       "Accueil, diagnostic et entretien courant",
		SigningLocation: "Saint-Martin",
	}
}

func TestTypeTitleCode(t *testing.T) {
	cfg := config.Default("mfr")
	cases := []struct {
		class string
		typ   domain.ConventionType
		code  string
	}{
		{"4ème", domain.TypeStageInitiation, "SEN-ANSE-SI-03"},
		{"2nde2", domain.TypePFMPSeconde, "SEN-ANSE-REA-54"},
		{"term2", domain.TypePFMPPremiereTerminale, "SEN-ANSE-REA-25"},
		{"Inconnue", domain.TypeStageInitiation, "SEN-ANSE-SI-03"},
	}
	for _, tc := range cases {
		typ := TypeForClass(cfg, tc.class)
		if typ != tc.typ {
			t.Errorf("class %s: type %s, want %s", tc.class, typ, tc.typ)
		}
		if got := Code(cfg, typ); got != tc.code {
			t.Errorf("class %s: code %s, want %s", tc.class, got, tc.code)
		}
		if Title(cfg, typ) == fallbackTitle {
			t.Errorf("class %s: expected configured title", tc.class)
		}
	}
	if Code(cfg, "unknown") != fallbackCode || Title(cfg, "unknown") != fallbackTitle {
		t.Fatalf("expected fallbacks for unknown type")
	}
	if TypeForClass(nil, "2nde1") != domain.TypeStageInitiation {
		t.Fatalf("nil config should fall back to stage_initiation")
	}
}

func TestValidateAccepts(t *testing.T) {
	periods := []domain.StagePeriod{{PeriodNumber: 1, StartDate: "2024-10-01", EndDate: "2024-10-12"}}
	if err := Validate(validConvention(), periods); err != nil {
		t.Fatalf("expected valid convention, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Convention)
		field  string
	}{
		{"siren", func(c *domain.Convention) { c.Company.Siren = "12345" }, "company.siren"},
		{"phone", func(c *domain.Convention) { c.Company.Phone = "0012345678" }, "company.phone"},
		{"email", func(c *domain.Convention) { c.Student.Email = "not-an-email" }, "student.email"},
		{"gender", func(c *domain.Convention) { c.Student.Gender = "X" }, "student.gender"},
		{"guardian", func(c *domain.Convention) { c.Guardian.Phone = "" }, "guardian.phone"},
		{"hours", func(c *domain.Convention) { h := 41; c.Schedule.WeeklyHours = &h }, "schedule.weekly_hours"},
		{"tasks", func(c *domain.Convention) { c.MainTasks = "court" }, "main_tasks"},
		{"signing", func(c *domain.Convention) { c.SigningLocation = "SM" }, "signing_location"},
		{"tutor email", func(c *domain.Convention) { c.Tutor.Email = "bad@" }, "tutor.email"},
		{"birthdate", func(c *domain.Convention) { c.Student.Birthdate = "" }, "student.birthdate"},
		{"type", func(c *domain.Convention) { c.ConventionType = "apprentissage" }, "convention_type"},
	}
	for _, tc := range cases {
		conv := validConvention()
		tc.mutate(&conv)
		err := Validate(conv, nil)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if _, ok := ve.Fields[tc.field]; !ok {
			t.Errorf("%s: expected field %s in %v", tc.name, tc.field, ve.Fields)
		}
	}
}

func TestValidateAdultSkipsGuardian(t *testing.T) {
	conv := validConvention()
	conv.IsMinor = false
	conv.Guardian = domain.Guardian{}
	if err := Validate(conv, nil); err != nil {
		t.Fatalf("adult without guardian should be valid: %v", err)
	}
}

func TestValidatePeriods(t *testing.T) {
	bad := []domain.StagePeriod{{PeriodNumber: 1, StartDate: "2024-10-12", EndDate: "2024-10-01"}}
	var ve ValidationError
	if err := Validate(validConvention(), bad); !errors.As(err, &ve) || ve.Fields["periods[0]"] == "" {
		t.Fatalf("expected period error, got %v", err)
	}
	many := make([]domain.StagePeriod, MaxPeriods+1)
	for i := range many {
		many[i] = domain.StagePeriod{PeriodNumber: i + 1, StartDate: "2024-10-01", EndDate: "2024-10-02"}
	}
	if err := Validate(validConvention(), many); !errors.As(err, &ve) || ve.Fields["periods"] == "" {
		t.Fatalf("expected too many periods, got %v", err)
	}
}

func dashboardFixture() []domain.Convention {
	mk := func(id string, status domain.Status, class, first, last, company, siren string, minor bool) domain.Convention {
		return domain.Convention{
			ID: id, Status: status, ConventionType: domain.TypePFMPSeconde, CreatedAt: "2024-09-05T10:00:00Z",
			Student: domain.Student{Firstname: first, Lastname: last, Class: class},
			Company: domain.Company{Name: company, Siren: siren}, IsMinor: minor,
		}
	}
	return []domain.Convention{
		mk("1", domain.StatusDraft, "2nde1", "Léa", "Durand", "Garage Dupont", "552100554", true),
		mk("2", domain.StatusPendingSignatures, "2nde1", "Hugo", "Martin", "Boulangerie", "111222333", false),
		mk("3", domain.StatusReadyToPrint, "Term1", "Inès", "Petit", "Hôtel de la Plage", "999888777", false),
	}
}

func TestFilter(t *testing.T) {
	convs := dashboardFixture()
	cases := []struct {
		name string
		f    Filters
		want int
	}{
		{"none", Filters{}, 3},
		{"all keyword", Filters{Status: "all", Class: "all", Type: "all"}, 3},
		{"status", Filters{Status: "draft"}, 1},
		{"class", Filters{Class: "2nde1"}, 2},
		{"search name", Filters{Search: "hugo mar"}, 1},
		{"search company", Filters{Search: "PLAGE"}, 1},
		{"search siren", Filters{Search: "5521"}, 1},
		{"combined", Filters{Class: "2nde1", Search: "plage"}, 0},
	}
	for _, tc := range cases {
		if got := len(Filter(convs, tc.f)); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats(dashboardFixture())
	if s.Total != 3 || s.Pending != 2 || s.ReadyToPrint != 1 || s.Signed != 0 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.PendingPct != 67 || s.ReadyPct != 33 || s.SignedPct != 0 {
		t.Fatalf("unexpected percentages %+v", s)
	}
	if empty := ComputeStats(nil); empty.PendingPct != 0 || empty.Total != 0 {
		t.Fatalf("empty stats should be zero: %+v", empty)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, dashboardFixture()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
	if records[0][0] != "Élève" || records[0][7] != "Mineur" {
		t.Fatalf("unexpected header %v", records[0])
	}
	first := records[1]
	if first[0] != "Léa Durand" || first[6] != "05/09/2024" || first[7] != "Oui" {
		t.Fatalf("unexpected row %v", first)
	}
	if records[2][7] != "Non" {
		t.Fatalf("expected Non for adult, got %v", records[2])
	}
	if got := ExportFilename(time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)); got != "conventions_2024-09-05.csv" {
		t.Fatalf("unexpected filename %s", got)
	}
}
