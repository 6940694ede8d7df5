package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"conventions/internal/config"
	"conventions/internal/domain"
	"conventions/internal/engine/signing"
	"conventions/internal/events"
	"conventions/internal/repo"
)

// SignatureStore is the record store the signing workflow talks to. Implementations
// return repo.ErrNotFound for missing rows and wrap repo.ErrDuplicate when the
// (convention, role) uniqueness constraint rejects an insert.
type SignatureStore interface {
	GetConvention(ctx context.Context, id string) (domain.Convention, error)
	ListSignatures(ctx context.Context, conventionID string) ([]domain.Signature, error)
	InsertSignature(ctx context.Context, sig domain.Signature) error
	UpdateConventionStatus(ctx context.Context, id string, status domain.Status, updatedAt string) error
	GetDirectorSignature(ctx context.Context, conventionID string) (domain.Signature, error)
}

// Store adds the convention lifecycle on top of SignatureStore.
type Store interface {
	SignatureStore
	InsertConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error
	UpdateConvention(ctx context.Context, c domain.Convention, periods []domain.StagePeriod) error
	DeleteConvention(ctx context.Context, id string) error
	ListConventions(ctx context.Context, f repo.ConventionFilters) ([]domain.Convention, error)
	ListPeriods(ctx context.Context, conventionID string) ([]domain.StagePeriod, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Store  Store
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	// Sleep waits between read-after-write attempts; nil uses a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Store:  r,
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

// WithStore returns a copy of e that keeps conventions and signatures in s.
func (e Engine) WithStore(s Store) Engine {
	e.Store = s
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// emit records an event after the store write has committed. A failure here
// does not undo the write, so it is logged rather than returned.
func (e Engine) emit(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Events.DB == nil {
		return
	}
	if err := e.Events.AppendDirect(ctx, evtType, entityKind, entityID, actorID, payload); err != nil {
		e.logger().Printf("events: append %s for %s %s failed: %v", evtType, entityKind, entityID, err)
	}
}

// storeErr keeps not-found and cancellation errors as they are and marks every
// other store failure as retriable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return signing.StoreUnavailableError{Op: op, Err: err}
}

func (e Engine) getConvention(ctx context.Context, id string) (domain.Convention, error) {
	c, err := e.Store.GetConvention(ctx, id)
	if err != nil {
		return c, storeErr("get convention", err)
	}
	return c, nil
}

func (e Engine) listSignatures(ctx context.Context, id string) ([]domain.Signature, error) {
	sigs, err := e.Store.ListSignatures(ctx, id)
	if err != nil {
		return nil, storeErr("list signatures", err)
	}
	return sigs, nil
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func ensureConventionTransition(oldStatus, newStatus domain.Status) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.StatusDraft:
		if newStatus == domain.StatusPendingSignatures {
			return nil
		}
	case domain.StatusPendingSignatures:
		if newStatus == domain.StatusReadyToPrint || newStatus == domain.StatusSigned {
			return nil
		}
	case domain.StatusSigned:
		if newStatus == domain.StatusReadyToPrint {
			return nil
		}
	}
	return TransitionError{From: oldStatus, To: newStatus}
}
