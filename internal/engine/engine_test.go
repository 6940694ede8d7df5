package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"conventions/internal/catalog"
	"conventions/internal/config"
	"conventions/internal/db"
	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/engine/signing"
	"conventions/internal/migrate"
	"conventions/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("mfr")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC) }
	eng.Sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()
	if err := eng.Repo.UpsertSchoolConfig(ctx, "mfr", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func fixture(minor bool) domain.Convention {
	hours := 35
	c := domain.Convention{
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
			Birthdate: "2006-03-14",
			Address:   "4 allée des Palmiers",
			Phone:     "0690112233",
			Email:     "lea.durand@example.com",
			Class:     "2nde1",
		},
		IsMinor:         minor,
		Schedule:        domain.Schedule{WeeklyHours: &hours},
		MainTasks:       "Accueil, diagnostic et entretien courant",
		SigningLocation: "Saint-Martin",
	}
	if minor {
		c.Guardian = domain.Guardian{
			Lastname:  "Durand",
			Firstname: "Paul",
			Address:   "4 allée des Palmiers",
			Phone:     "0690445566",
			Email:     "paul.durand@example.com",
		}
	}
	return c
}

func (env testEnv) pending(t *testing.T, minor bool) domain.Convention {
	t.Helper()
	c, _, err := env.Engine.CreateConvention(env.Ctx, engine.CreateConventionInput{
		Convention: fixture(minor),
		Periods:    []domain.StagePeriod{{StartDate: "2024-10-01", EndDate: "2024-10-12"}},
		ActorID:    "admin",
	})
	if err != nil {
		t.Fatalf("create convention: %v", err)
	}
	c, err = env.Engine.SubmitConvention(env.Ctx, c.ID, "admin")
	if err != nil {
		t.Fatalf("submit convention: %v", err)
	}
	return c
}

func (env testEnv) sign(conventionID string, role domain.SignerRole) (engine.SubmitResult, error) {
	return env.Engine.SubmitSignature(env.Ctx, engine.SubmitSignatureRequest{
		ConventionID: conventionID,
		Role:         role,
		SignerName:   string(role) + " signer",
		Image:        "data:image/png;base64,iVBORw0KGgo=",
		ActorID:      "tester",
	})
}

func TestCreateClassifiesAndStartsDraft(t *testing.T) {
	env := newTestEnv(t)
	c, periods, err := env.Engine.CreateConvention(env.Ctx, engine.CreateConventionInput{
		Convention: fixture(true),
		Periods: []domain.StagePeriod{
			{StartDate: "2024-10-01", EndDate: "2024-10-12"},
			{StartDate: "2025-02-03", EndDate: "2025-02-14"},
		},
		ActorID: "admin",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.StatusDraft || c.ConventionType != domain.TypePFMPSeconde || c.CreatedBy != "admin" {
		t.Fatalf("unexpected convention %+v", c)
	}
	if len(periods) != 2 || periods[1].PeriodNumber != 2 || periods[0].ConventionID != c.ID {
		t.Fatalf("unexpected periods %+v", periods)
	}

	bad := fixture(true)
	bad.Company.Siren = "12"
	_, _, err = env.Engine.CreateConvention(env.Ctx, engine.CreateConventionInput{Convention: bad, ActorID: "admin"})
	var ve catalog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLifecycleGuards(t *testing.T) {
	env := newTestEnv(t)
	c, _, err := env.Engine.CreateConvention(env.Ctx, engine.CreateConventionInput{Convention: fixture(false), ActorID: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.sign(c.ID, domain.RoleStudent); !errors.Is(err, signing.ErrNotPending) {
		t.Fatalf("signing a draft should fail with ErrNotPending, got %v", err)
	}
	edit := fixture(false)
	edit.MainTasks = "Vente, mise en rayon et inventaire"
	updated, err := env.Engine.UpdateConvention(env.Ctx, engine.UpdateConventionInput{ID: c.ID, Convention: edit, ActorID: "admin"})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.MainTasks != edit.MainTasks || updated.CreatedBy != "admin" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if _, err := env.Engine.SubmitConvention(env.Ctx, c.ID, "admin"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var te engine.TransitionError
	if _, err := env.Engine.SubmitConvention(env.Ctx, c.ID, "admin"); !errors.As(err, &te) {
		t.Fatalf("second submit should be a transition error, got %v", err)
	}
	if _, err := env.Engine.UpdateConvention(env.Ctx, engine.UpdateConventionInput{ID: c.ID, Convention: edit}); !errors.Is(err, engine.ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	if _, err := env.Engine.SubmitConvention(env.Ctx, "missing", "admin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestScenarioMinorOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, true)
	if _, err := env.sign(c.ID, domain.RoleStudent); err != nil {
		t.Fatalf("student: %v", err)
	}
	_, err := env.sign(c.ID, domain.RoleMaitreStage)
	var ooe signing.OutOfOrderError
	if !errors.As(err, &ooe) {
		t.Fatalf("expected OutOfOrderError, got %v", err)
	}
	if len(ooe.Missing) != 1 || ooe.Missing[0] != domain.RoleParent {
		t.Fatalf("expected parent missing, got %v", ooe.Missing)
	}
	sigs, err := env.Engine.ListSignatures(env.Ctx, c.ID)
	if err != nil || len(sigs) != 1 {
		t.Fatalf("rejected submission must not be stored: %d %v", len(sigs), err)
	}
}

func TestAdultRejectsParent(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, false)
	if _, err := env.sign(c.ID, domain.RoleParent); !errors.Is(err, signing.ErrRoleNotRequired) {
		t.Fatalf("expected ErrRoleNotRequired, got %v", err)
	}
}

func TestScenarioDuplicateDirector(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, false)
	for _, r := range env.Engine.GetRequiredSequence(false) {
		if _, err := env.sign(c.ID, r); err != nil {
			t.Fatalf("sign %s: %v", r, err)
		}
	}
	before, err := env.Engine.Store.GetDirectorSignature(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("director: %v", err)
	}
	if _, err := env.sign(c.ID, domain.RoleChefEtablissement); !errors.Is(err, signing.ErrDuplicateSignature) {
		t.Fatalf("expected ErrDuplicateSignature for a second director signature, got %v", err)
	}
	if got, _ := env.Engine.GetConvention(env.Ctx, c.ID); got.Status != domain.StatusReadyToPrint {
		t.Fatalf("status changed after rejected duplicate: %s", got.Status)
	}
	// Bypass the status guard to hit the store constraint directly.
	if _, err := env.Engine.RecordSignature(env.Ctx, engine.RecordSignatureInput{ConventionID: c.ID, Role: domain.RoleChefEtablissement, SignerName: "Other", Image: "x"}); !errors.Is(err, signing.ErrDuplicateSignature) {
		t.Fatalf("expected ErrDuplicateSignature, got %v", err)
	}
	after, err := env.Engine.Store.GetDirectorSignature(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("director: %v", err)
	}
	if after.ID != before.ID || after.SignerName != before.SignerName {
		t.Fatalf("existing signature changed: %+v -> %+v", before, after)
	}
}

func TestDuplicateWhilePending(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, false)
	if _, err := env.sign(c.ID, domain.RoleStudent); err != nil {
		t.Fatalf("student: %v", err)
	}
	if _, err := env.sign(c.ID, domain.RoleStudent); !errors.Is(err, signing.ErrDuplicateSignature) {
		t.Fatalf("expected ErrDuplicateSignature, got %v", err)
	}
}

func TestScenarioReadyToPrintOnce(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, true)
	seq := env.Engine.GetRequiredSequence(true)
	changes := 0
	for i, r := range seq {
		res, err := env.sign(c.ID, r)
		if err != nil {
			t.Fatalf("sign %s: %v", r, err)
		}
		if res.StatusChanged {
			changes++
		}
		want := domain.StatusPendingSignatures
		if i == len(seq)-1 {
			want = domain.StatusReadyToPrint
		}
		if res.Status != want {
			t.Fatalf("after %s expected %s, got %s", r, want, res.Status)
		}
	}
	if changes != 1 {
		t.Fatalf("expected exactly one status change, got %d", changes)
	}
	for i := 0; i < 3; i++ {
		ok, err := env.Engine.IsReadyToPrint(env.Ctx, c.ID)
		if err != nil || !ok {
			t.Fatalf("IsReadyToPrint call %d: %v %v", i, ok, err)
		}
	}
	got, err := env.Engine.GetConvention(env.Ctx, c.ID)
	if err != nil || got.Status != domain.StatusReadyToPrint {
		t.Fatalf("stored status: %s %v", got.Status, err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "convention.ready_to_print"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one ready_to_print event, got %d %v", len(evts), err)
	}
	st, err := env.Engine.RefreshStatus(env.Ctx, c.ID, "tester")
	if err != nil || st != domain.StatusReadyToPrint {
		t.Fatalf("refresh: %s %v", st, err)
	}
}

func TestEligibility(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, false)
	for _, r := range []domain.SignerRole{domain.RoleStudent, domain.RoleMaitreStage} {
		if _, err := env.sign(c.ID, r); err != nil {
			t.Fatalf("sign %s: %v", r, err)
		}
	}
	el, err := env.Engine.GetSigningEligibility(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !el.CanSign[domain.RoleResponsableClasse] || el.CanSign[domain.RoleChefEtablissement] || el.CanSign[domain.RoleStudent] {
		t.Fatalf("unexpected eligibility %+v", el.CanSign)
	}
	if el.Next != domain.RoleResponsableClasse || !el.Signed[domain.RoleMaitreStage] {
		t.Fatalf("unexpected next/signed %+v", el)
	}
	if _, ok := el.CanSign[domain.RoleParent]; ok {
		t.Fatalf("parent should not appear for an adult")
	}
}

func TestDocumentBundleGating(t *testing.T) {
	env := newTestEnv(t)
	c := env.pending(t, false)
	seq := env.Engine.GetRequiredSequence(false)
	for _, r := range seq[:len(seq)-1] {
		if _, err := env.sign(c.ID, r); err != nil {
			t.Fatalf("sign %s: %v", r, err)
		}
	}
	if ok, err := env.Engine.HasDirectorSigned(env.Ctx, c.ID); err != nil || ok {
		t.Fatalf("director should not have signed yet: %v %v", ok, err)
	}
	if _, err := env.Engine.DocumentBundle(env.Ctx, c.ID); !errors.Is(err, engine.ErrDirectorSignatureMissing) {
		t.Fatalf("expected ErrDirectorSignatureMissing, got %v", err)
	}
	if _, err := env.sign(c.ID, domain.RoleChefEtablissement); err != nil {
		t.Fatalf("director: %v", err)
	}
	b, err := env.Engine.DocumentBundle(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if b.Code != "SEN-ANSE-REA-54" || len(b.Signatures) != 4 || b.Signatures[3].SignerRole != domain.RoleChefEtablissement {
		t.Fatalf("unexpected bundle %+v", b)
	}
	if len(b.Periods) != 1 {
		t.Fatalf("expected one period, got %d", len(b.Periods))
	}
}

func TestListAndDelete(t *testing.T) {
	env := newTestEnv(t)
	a := env.pending(t, false)
	other := fixture(false)
	other.Student.Firstname = "Hugo"
	other.Student.Lastname = "Martin"
	other.Student.Class = "Term1"
	if _, _, err := env.Engine.CreateConvention(env.Ctx, engine.CreateConventionInput{Convention: other, ActorID: "teacher"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	all, err := env.Engine.ListConventions(env.Ctx, engine.ListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
	found, err := env.Engine.ListConventions(env.Ctx, engine.ListOptions{Filters: catalog.Filters{Search: "hugo", Status: "all"}})
	if err != nil || len(found) != 1 || found[0].ConventionType != domain.TypePFMPPremiereTerminale {
		t.Fatalf("search: %+v %v", found, err)
	}
	mine, err := env.Engine.ListConventions(env.Ctx, engine.ListOptions{CreatedBy: "teacher"})
	if err != nil || len(mine) != 1 {
		t.Fatalf("owner filter: %d %v", len(mine), err)
	}
	if _, err := env.sign(a.ID, domain.RoleStudent); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.Engine.DeleteConvention(env.Ctx, a.ID, "admin"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.ListSignatures(env.Ctx, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	sigs, err := env.Engine.Repo.ListSignatures(env.Ctx, a.ID)
	if err != nil || len(sigs) != 0 {
		t.Fatalf("signatures should cascade: %d %v", len(sigs), err)
	}
}
