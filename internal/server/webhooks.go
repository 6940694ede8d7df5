package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"conventions/internal/config"
	"conventions/internal/domain"
	"conventions/internal/engine"
	"conventions/internal/events"
	"conventions/internal/repo"
)

const (
	notifyInterval = 2 * time.Second
	notifyTimeout  = 5 * time.Second
	notifyBatch    = 100
)

// Hooks without an events list hear about conventions and signatures only.
var defaultHookEvents = []string{"convention.*", events.SignatureRecorded}

// subscription is one configured webhook with its own position in the event log.
type subscription struct {
	hook   config.WebhookConfig
	filter eventFilter
	cursor int64
	primed bool
}

// conventionNotifier posts convention lifecycle events to school webhooks.
type conventionNotifier struct {
	engine engine.Engine
	school string
	subs   []*subscription
	client *http.Client
	logger *log.Logger
}

func newConventionNotifier(e engine.Engine, logger *log.Logger) *conventionNotifier {
	if e.Config == nil {
		return nil
	}
	var subs []*subscription
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		subs = append(subs, &subscription{hook: hook, filter: newEventFilter(hook.Events)})
	}
	if len(subs) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &conventionNotifier{
		engine: e,
		school: e.Config.School.ID,
		subs:   subs,
		client: &http.Client{Timeout: notifyTimeout},
		logger: logger,
	}
}

// StartWebhookDispatcher notifies the school's webhooks of new events until
// ctx is done. Events logged before start-up are not sent.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, logger *log.Logger) {
	n := newConventionNotifier(e, logger)
	if n == nil {
		return
	}
	go n.run(ctx)
}

func (n *conventionNotifier) run(ctx context.Context) {
	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()
	for {
		n.notifyAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *conventionNotifier) notifyAll(ctx context.Context) {
	for _, sub := range n.subs {
		if err := n.prime(ctx, sub); err != nil {
			n.logger.Printf("webhook %s: read log position: %v", sub.hook.URL, err)
			continue
		}
		n.notify(ctx, sub)
	}
}

// prime starts a subscription at the current end of the event log.
func (n *conventionNotifier) prime(ctx context.Context, sub *subscription) error {
	if sub.primed {
		return nil
	}
	latest, err := n.engine.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	sub.cursor, sub.primed = latest, true
	return nil
}

// notify delivers pending events in log order and stops at the first failed
// delivery so it is retried on the next tick.
func (n *conventionNotifier) notify(ctx context.Context, sub *subscription) {
	pending, err := n.engine.Repo.EventsAfter(ctx, notifyBatch, sub.cursor)
	if err != nil {
		n.logger.Printf("webhook %s: fetch events: %v", sub.hook.URL, err)
		return
	}
	for _, evt := range pending {
		if sub.filter.match(evt.Type) {
			if err := n.deliver(ctx, sub.hook, n.notification(ctx, evt)); err != nil {
				n.logger.Printf("webhook %s: deliver %s #%d: %v", sub.hook.URL, evt.Type, evt.ID, err)
				return
			}
		}
		sub.cursor = evt.ID
	}
}

// conventionSnapshot is the state of the convention when the notification is built.
type conventionSnapshot struct {
	ID             string                `json:"id"`
	Status         domain.Status         `json:"status"`
	ConventionType domain.ConventionType `json:"convention_type,omitempty"`
	Student        string                `json:"student"`
	Class          string                `json:"class,omitempty"`
	IsMinor        bool                  `json:"is_minor"`
	NextSigner     domain.SignerRole     `json:"next_signer,omitempty"`
}

type notification struct {
	ID         int64               `json:"id"`
	Type       string              `json:"type"`
	SchoolID   string              `json:"school_id"`
	EntityKind string              `json:"entity_kind"`
	EntityID   string              `json:"entity_id,omitempty"`
	ActorID    string              `json:"actor_id"`
	TS         string              `json:"ts"`
	Payload    json.RawMessage     `json:"payload"`
	Convention *conventionSnapshot `json:"convention,omitempty"`
}

func (n *conventionNotifier) notification(ctx context.Context, evt domain.Event) notification {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	out := notification{
		ID:         evt.ID,
		Type:       evt.Type,
		SchoolID:   n.school,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	}
	if evt.EntityKind == "convention" && evt.EntityID != "" {
		out.Convention = n.snapshot(ctx, evt.EntityID)
	}
	return out
}

// snapshot returns nil for conventions that no longer exist.
func (n *conventionNotifier) snapshot(ctx context.Context, id string) *conventionSnapshot {
	c, err := n.engine.GetConvention(ctx, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			n.logger.Printf("webhook: load convention %s: %v", id, err)
		}
		return nil
	}
	snap := &conventionSnapshot{
		ID:             c.ID,
		Status:         c.Status,
		ConventionType: c.ConventionType,
		Student:        strings.TrimSpace(c.Student.Firstname + " " + c.Student.Lastname),
		Class:          c.Student.Class,
		IsMinor:        c.IsMinor,
	}
	if c.Status == domain.StatusPendingSignatures {
		if el, err := n.engine.GetSigningEligibility(ctx, c.ID); err == nil {
			snap.NextSigner = el.Next
		}
	}
	return snap
}

func (n *conventionNotifier) deliver(ctx context.Context, hook config.WebhookConfig, msg notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client := n.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Conventions-Event", msg.Type)
	req.Header.Set("X-Conventions-Delivery", fmt.Sprintf("%d", msg.ID))
	req.Header.Set("X-Conventions-School", n.school)
	if secret := strings.TrimSpace(hook.Secret); secret != "" {
		req.Header.Set("X-Conventions-Signature", hmacSignature(secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// hmacSignature returns "sha256=" followed by the hex HMAC of body under secret.
func hmacSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// eventFilter matches event types against exact names, "kind.*" prefixes or "*".
type eventFilter struct {
	exact    map[string]bool
	prefixes []string
	all      bool
}

func newEventFilter(patterns []string) eventFilter {
	f := eventFilter{exact: map[string]bool{}}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			f.all = true
		case strings.HasSuffix(p, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(p, "*"))
		default:
			f.exact[p] = true
		}
	}
	if !f.all && len(f.exact) == 0 && len(f.prefixes) == 0 {
		return newEventFilter(defaultHookEvents)
	}
	return f
}

func (f eventFilter) match(evt string) bool {
	if f.all || f.exact[evt] {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(evt, p) {
			return true
		}
	}
	return false
}
