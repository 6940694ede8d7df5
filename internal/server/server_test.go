package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"conventions/internal/accounts"
	"conventions/internal/config"
	"conventions/internal/db"
	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, opts ...func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("mfr")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertSchoolConfig(context.Background(), cfg.School.ID, cfg); err != nil {
		t.Fatalf("seed school config: %v", err)
	}
	scfg := Config{
		Engine:   e,
		Accounts: accounts.Service{Repo: e.Repo, Events: e.Events, Cost: bcrypt.MinCost},
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	}
	for _, opt := range opts {
		opt(&scfg)
	}
	handler, err := New(scfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, actorID, role string) map[string]string {
	t.Helper()
	tok, err := accounts.IssueToken(testSecret, domain.User{ID: actorID, Role: role}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func conventionBody(minor bool) map[string]any {
	body := map[string]any{
		"company": map[string]any{
			"name":                "Garage Dupont",
			"siren":               "552100554",
			"phone":               "0590123456",
			"email":               "contact@garage-dupont.fr",
			"signatory_lastname":  "Dupont",
			"signatory_firstname": "Marc",
			"signatory_title":     "Gérant",
			"stage_location":      "12 rue du Port, Saint-Martin",
		},
		"student": map[string]any{
			"lastname":  "Durand",
			"firstname": "Léa",
			"gender":    "F",
			"birthdate": "2006-03-14",
			"address":   "4 allée des Palmiers",
			"phone":     "0690112233",
			"email":     "lea.durand@example.com",
			"class":     "2nde1",
		},
		"is_minor":         minor,
		"main_tasks":       "Accueil, diagnostic et entretien courant",
		"signing_location": "Saint-Martin",
		"periods": []map[string]any{
			{"start_date": "2024-10-01", "end_date": "2024-10-12"},
		},
	}
	if minor {
		body["guardian"] = map[string]any{
			"lastname":  "Durand",
			"firstname": "Paul",
			"address":   "4 allée des Palmiers",
			"phone":     "0690445566",
			"email":     "paul.durand@example.com",
		}
	}
	return body
}

func signBody(role string) map[string]any {
	return map[string]any{
		"signer_role":    role,
		"signer_name":    role + " signer",
		"signature_data": "data:image/png;base64,iVBORw0KGgo=",
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func errorCode(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", string(data), err)
	}
	return env
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/conventions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/conventions", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestSigningFlowToDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearer(t, "admin-1", "admin")
	base := srv.URL + "/v0/conventions"

	res, data := doJSON(t, client, http.MethodPost, base, conventionBody(false), admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ConventionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Convention.Status != domain.StatusDraft || created.Convention.ConventionType != domain.TypePFMPSeconde || len(created.Periods) != 1 {
		t.Fatalf("unexpected convention %+v", created)
	}
	id := created.Convention.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("student"), bearer(t, "eleve-1", "eleve"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data).Error.Code != "not_pending" {
		t.Fatalf("draft signing should be refused: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/submit", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("chef_etablissement"), bearer(t, "eleve-1", "eleve"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("student account signing as director: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("student"), bearer(t, "eleve-1", "eleve"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("student sign: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("student"), admin)
	if res.StatusCode != http.StatusConflict || errorCode(t, data).Error.Code != "already_signed" {
		t.Fatalf("duplicate: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("responsable_classe"), admin)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("out of order: %d %s", res.StatusCode, string(data))
	}
	if env := errorCode(t, data); env.Error.Code != "out_of_order" {
		t.Fatalf("expected out_of_order, got %+v", env)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/"+id+"/signatures/eligibility", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("eligibility: %d %s", res.StatusCode, string(data))
	}
	var el engine.Eligibility
	_ = json.Unmarshal(data, &el)
	if !el.CanSign[domain.RoleMaitreStage] || el.CanSign[domain.RoleResponsableClasse] {
		t.Fatalf("unexpected eligibility %+v", el.CanSign)
	}

	for _, step := range []struct{ role, account string }{
		{"maitre_stage", "maitre_stage"},
		{"responsable_classe", "responsable_classe"},
	} {
		res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody(step.role), bearer(t, step.account+"-1", step.account))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("sign %s: %d %s", step.role, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/"+id+"/document", nil, admin)
	if res.StatusCode != http.StatusConflict || errorCode(t, data).Error.Code != "director_signature_required" {
		t.Fatalf("document before director: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("chef_etablissement"), bearer(t, "chef-1", "chef_etablissement"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("director sign: %d %s", res.StatusCode, string(data))
	}
	var signed SignResponse
	_ = json.Unmarshal(data, &signed)
	if signed.Status != domain.StatusReadyToPrint || !signed.StatusChanged || len(signed.Signatures) != 4 {
		t.Fatalf("unexpected sign response %+v", signed)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/"+id+"/signatures", signBody("chef_etablissement"), bearer(t, "chef-2", "chef_etablissement"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data).Error.Code != "already_signed" {
		t.Fatalf("second director signature: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/"+id+"/ready", nil, admin)
	var ready ReadyResponse
	_ = json.Unmarshal(data, &ready)
	if res.StatusCode != http.StatusOK || !ready.ReadyToPrint || !ready.DirectorSigned {
		t.Fatalf("ready: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/"+id+"/document", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("document: %d %s", res.StatusCode, string(data))
	}
	var bundle engine.Bundle
	_ = json.Unmarshal(data, &bundle)
	if bundle.Code != "SEN-ANSE-REA-54" || len(bundle.Signatures) != 4 {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
}

func TestCreateValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := conventionBody(false)
	body["company"].(map[string]any)["siren"] = "1234"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/conventions", body, bearer(t, "admin-1", "admin"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	env := errorCode(t, data)
	if env.Error.Code != "validation_failed" || env.Error.Details["company.siren"] == nil {
		t.Fatalf("expected siren detail, got %+v", env)
	}
}

func TestOwnerScopedListing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/conventions"
	if res, data := doJSON(t, client, http.MethodPost, base, conventionBody(false), bearer(t, "eleve-1", "eleve")); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, client, http.MethodPost, base, conventionBody(true), bearer(t, "admin-1", "admin")); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var mine []domain.Convention
	_, data := doJSON(t, client, http.MethodGet, base, nil, bearer(t, "eleve-1", "eleve"))
	_ = json.Unmarshal(data, &mine)
	if len(mine) != 1 {
		t.Fatalf("student should only see their own convention, got %d", len(mine))
	}
	var all []domain.Convention
	_, data = doJSON(t, client, http.MethodGet, base+"?search=durand", nil, bearer(t, "admin-1", "admin"))
	_ = json.Unmarshal(data, &all)
	if len(all) != 2 {
		t.Fatalf("admin should see both, got %d", len(all))
	}
	res, _ := doJSON(t, client, http.MethodDelete, base+"/"+mine[0].ID, nil, bearer(t, "eleve-1", "eleve"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("student delete should be forbidden, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, base+"/"+mine[0].ID, nil, bearer(t, "admin-1", "admin"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("admin delete: %d", res.StatusCode)
	}
}

func TestUsersLoginAndExport(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := bearer(t, "admin-1", "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"firstname": "Claire",
		"lastname":  "Martin",
		"birthdate": "1980-05-17",
		"role":      "chef_etablissement",
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, string(data))
	}
	var created CreateUserResponse
	_ = json.Unmarshal(data, &created)
	if created.Login != "C.MARTIN" || created.Password != "170580" {
		t.Fatalf("unexpected credentials %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{"login": "c.martin", "password": "wrong"}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{"login": "c.martin", "password": "170580"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	_ = json.Unmarshal(data, &login)

	chef := map[string]string{"Authorization": "Bearer " + login.Token}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, chef)
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if res.StatusCode != http.StatusOK || me.ActorID != created.User.ID || me.SignerRole != "chef_etablissement" {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, chef)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("chef listing users: %d", res.StatusCode)
	}

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/conventions", conventionBody(false), admin); res.StatusCode != http.StatusCreated {
		t.Fatalf("create convention: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard/export.csv", nil, chef)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", res.StatusCode, string(data))
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %s", res.Header.Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Léa Durand") {
		t.Fatalf("unexpected csv %q", string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard/export.csv", nil, bearer(t, "eleve-1", "eleve"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("student export should be forbidden, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard/stats", nil, chef)
	var stats struct {
		Total   int `json:"total"`
		Pending int `json:"pending"`
	}
	_ = json.Unmarshal(data, &stats)
	if res.StatusCode != http.StatusOK || stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookDefaultsToConventionEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	type delivery struct {
		event     string
		signature string
		body      []byte
	}
	var mu sync.Mutex
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{event: r.Header.Get("X-Conventions-Event"), signature: r.Header.Get("X-Conventions-Signature"), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	e := srv.Engine
	cfg := *e.Config
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret"}}
	e.Config = &cfg
	n := newConventionNotifier(e, nil)
	ctx := context.Background()
	n.notifyAll(ctx)

	admin := bearer(t, "admin-1", "admin")
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"firstname": "Lucie",
		"lastname":  "Bernard",
		"birthdate": "2008-09-01",
		"role":      "eleve",
	}, admin); res.StatusCode != http.StatusCreated {
		t.Fatalf("create user: %d %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/conventions", conventionBody(false), admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ConventionResponse
	_ = json.Unmarshal(data, &created)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/conventions/"+created.Convention.ID+"/submit", nil, admin); res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	n.notifyAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	var submitted *delivery
	for i, d := range got {
		if !strings.HasPrefix(d.event, "convention.") && d.event != "signature.recorded" {
			t.Fatalf("hook without an events list received %s", d.event)
		}
		if d.signature != hmacSignature("s3cret", d.body) {
			t.Fatalf("bad signature header on %s", d.event)
		}
		if d.event == "convention.submitted" {
			submitted = &got[i]
		}
	}
	if submitted == nil {
		t.Fatalf("no convention.submitted delivery in %d deliveries", len(got))
	}
	var msg notification
	if err := json.Unmarshal(submitted.body, &msg); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if msg.Convention == nil || msg.Convention.ID != created.Convention.ID || msg.Convention.Status != domain.StatusPendingSignatures || msg.Convention.NextSigner != domain.RoleStudent {
		t.Fatalf("unexpected convention snapshot %+v", msg.Convention)
	}
}

func TestWebhookExplicitEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("X-Conventions-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	e := srv.Engine
	cfg := *e.Config
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"convention.submitted"}}}
	e.Config = &cfg
	n := newConventionNotifier(e, nil)
	ctx := context.Background()
	n.notifyAll(ctx)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/conventions", conventionBody(false), bearer(t, "admin-1", "admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ConventionResponse
	_ = json.Unmarshal(data, &created)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/conventions/"+created.Convention.ID+"/submit", nil, bearer(t, "admin-1", "admin")); res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	n.notifyAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "convention.submitted" {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestEventFilterPatterns(t *testing.T) {
	cases := []struct {
		patterns []string
		event    string
		want     bool
	}{
		{nil, "convention.created", true},
		{nil, "convention.ready_to_print", true},
		{nil, "signature.recorded", true},
		{nil, "user.created", false},
		{nil, "config.imported", false},
		{[]string{" ", ""}, "user.deleted", false},
		{[]string{"*"}, "user.created", true},
		{[]string{"user.*"}, "user.deleted", true},
		{[]string{"user.*"}, "convention.created", false},
		{[]string{"convention.submitted"}, "convention.created", false},
	}
	for _, c := range cases {
		if got := newEventFilter(c.patterns).match(c.event); got != c.want {
			t.Errorf("filter %q on %s = %v, want %v", c.patterns, c.event, got, c.want)
		}
	}
}

func TestConventionReadsScopedToOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/conventions"
	owner := bearer(t, "eleve-1", "eleve")

	res, data := doJSON(t, client, http.MethodPost, base, conventionBody(false), owner)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created ConventionResponse
	_ = json.Unmarshal(data, &created)
	id := created.Convention.ID
	if res, data := doJSON(t, client, http.MethodPost, base+"/"+id+"/submit", nil, owner); res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	paths := []string{
		"/" + id,
		"/" + id + "/periods",
		"/" + id + "/signatures",
		"/" + id + "/signatures/eligibility",
		"/" + id + "/ready",
		"/" + id + "/document",
	}
	other := bearer(t, "eleve-2", "eleve")
	for _, p := range paths {
		res, data := doJSON(t, client, http.MethodGet, base+p, nil, other)
		if res.StatusCode != http.StatusForbidden || errorCode(t, data).Error.Code != "forbidden" {
			t.Fatalf("GET %s as another student: %d %s", p, res.StatusCode, string(data))
		}
	}
	// The document is not ready yet, so only the plain reads are expected to succeed.
	for _, who := range []map[string]string{owner, bearer(t, "prof-1", "responsable_classe")} {
		for _, p := range paths[:5] {
			if res, data := doJSON(t, client, http.MethodGet, base+p, nil, who); res.StatusCode != http.StatusOK {
				t.Fatalf("GET %s: %d %s", p, res.StatusCode, string(data))
			}
		}
	}
	if res, _ := doJSON(t, client, http.MethodGet, base+"/missing", nil, other); res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown convention should stay 404, got %d", res.StatusCode)
	}
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	for _, msg := range []string{"missing field", "invalid state", "value required"} {
		se := handleError(errors.New(msg))
		if se.GetStatus() != http.StatusInternalServerError {
			t.Fatalf("%q mapped to %d", msg, se.GetStatus())
		}
		var ae *apiError
		if !errors.As(se, &ae) || ae.Body.Code != "internal_error" || ae.Body.Message != "internal error" {
			t.Fatalf("%q leaked as %+v", msg, se)
		}
	}
	if se := handleError(fmt.Errorf("create: %w", accounts.ErrInvalidRequest)); se.GetStatus() != http.StatusBadRequest {
		t.Fatalf("invalid account request mapped to %d", se.GetStatus())
	}
}

func TestRequestBodyLimit(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 4096 })
	defer cleanup()
	client := srv.Client()
	admin := bearer(t, "admin-1", "admin")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/conventions", conventionBody(false), admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create under the limit: %d %s", res.StatusCode, string(data))
	}
	var created ConventionResponse
	_ = json.Unmarshal(data, &created)

	body := signBody("student")
	body["signature_data"] = "data:image/png;base64," + strings.Repeat("A", 8192)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conventions/"+created.Convention.ID+"/signatures", body, admin)
	if res.StatusCode != http.StatusRequestEntityTooLarge || errorCode(t, data).Error.Code != "request_too_large" {
		t.Fatalf("oversized signature: %d %s", res.StatusCode, string(data))
	}
}
