package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"conventions/internal/catalog"
	"conventions/internal/domain"
	"conventions/internal/engine/signing"
	"conventions/internal/events"
	"conventions/internal/repo"
)

var (
	// ErrNotEditable means the convention left draft and its content is frozen.
	ErrNotEditable = errors.New("convention can only be edited while draft")
	// ErrDirectorSignatureMissing gates document generation.
	ErrDirectorSignatureMissing = errors.New("head of school has not signed")
	// ErrNotReadyToPrint means some required signatures are still missing.
	ErrNotReadyToPrint = errors.New("convention is not ready to print")
)

type CreateConventionInput struct {
	Convention domain.Convention
	Periods    []domain.StagePeriod
	ActorID    string
}

func (e Engine) CreateConvention(ctx context.Context, in CreateConventionInput) (domain.Convention, []domain.StagePeriod, error) {
	c := in.Convention
	if c.ConventionType == "" {
		c.ConventionType = catalog.TypeForClass(e.Config, c.Student.Class)
	}
	if err := catalog.Validate(c, in.Periods); err != nil {
		return domain.Convention{}, nil, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := e.timestamp()
	c.Status = domain.StatusDraft
	c.CreatedBy = in.ActorID
	c.CreatedAt = now
	c.UpdatedAt = now
	periods := normalizePeriods(c.ID, in.Periods)
	if err := e.Store.InsertConvention(ctx, c, periods); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Convention{}, nil, err
		}
		return domain.Convention{}, nil, storeErr("insert convention", err)
	}
	e.emit(ctx, events.ConventionCreated, "convention", c.ID, in.ActorID, events.EventPayload{
		"convention_type": c.ConventionType,
		"student_class":   c.Student.Class,
		"is_minor":        c.IsMinor,
	})
	return c, periods, nil
}

type UpdateConventionInput struct {
	ID         string
	Convention domain.Convention
	// Periods replaces the stored periods when non-nil.
	Periods []domain.StagePeriod
	ActorID string
}

func (e Engine) UpdateConvention(ctx context.Context, in UpdateConventionInput) (domain.Convention, error) {
	old, err := e.getConvention(ctx, in.ID)
	if err != nil {
		return domain.Convention{}, err
	}
	if old.Status != domain.StatusDraft {
		return domain.Convention{}, ErrNotEditable
	}
	c := in.Convention
	c.ID = old.ID
	c.Status = old.Status
	c.CreatedBy = old.CreatedBy
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = e.timestamp()
	if c.ConventionType == "" {
		c.ConventionType = catalog.TypeForClass(e.Config, c.Student.Class)
	}
	periods := in.Periods
	checkPeriods := periods
	if checkPeriods == nil {
		if checkPeriods, err = e.Store.ListPeriods(ctx, old.ID); err != nil {
			return domain.Convention{}, storeErr("list periods", err)
		}
	}
	if err := catalog.Validate(c, checkPeriods); err != nil {
		return domain.Convention{}, err
	}
	if periods != nil {
		periods = normalizePeriods(c.ID, periods)
	}
	if err := e.Store.UpdateConvention(ctx, c, periods); err != nil {
		return domain.Convention{}, storeErr("update convention", err)
	}
	e.emit(ctx, events.ConventionUpdated, "convention", c.ID, in.ActorID, nil)
	return c, nil
}

// SubmitConvention moves a draft into signature collection.
func (e Engine) SubmitConvention(ctx context.Context, id, actorID string) (domain.Convention, error) {
	c, err := e.getConvention(ctx, id)
	if err != nil {
		return domain.Convention{}, err
	}
	if c.Status != domain.StatusDraft {
		return domain.Convention{}, TransitionError{From: c.Status, To: domain.StatusPendingSignatures}
	}
	if err := e.UpdateConventionStatus(ctx, c.ID, domain.StatusPendingSignatures); err != nil {
		return domain.Convention{}, err
	}
	e.emit(ctx, events.ConventionSubmitted, "convention", c.ID, actorID, events.EventPayload{
		"sequence": signing.RequiredSequence(c.IsMinor),
	})
	e.emitStatusChange(ctx, c.ID, c.Status, domain.StatusPendingSignatures, actorID)
	c.Status = domain.StatusPendingSignatures
	c.UpdatedAt = e.timestamp()
	return c, nil
}

func (e Engine) DeleteConvention(ctx context.Context, id, actorID string) error {
	c, err := e.getConvention(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.DeleteConvention(ctx, id); err != nil {
		return storeErr("delete convention", err)
	}
	e.emit(ctx, events.ConventionDeleted, "convention", id, actorID, events.EventPayload{"status": c.Status})
	return nil
}

func (e Engine) GetConvention(ctx context.Context, id string) (domain.Convention, error) {
	return e.getConvention(ctx, id)
}

func (e Engine) ListPeriods(ctx context.Context, conventionID string) ([]domain.StagePeriod, error) {
	if _, err := e.getConvention(ctx, conventionID); err != nil {
		return nil, err
	}
	ps, err := e.Store.ListPeriods(ctx, conventionID)
	return ps, storeErr("list periods", err)
}

type ListOptions struct {
	Filters   catalog.Filters
	CreatedBy string
	Limit     int
}

// ListConventions pushes the exact-match filters to the store and applies the
// free-text search on the result.
func (e Engine) ListConventions(ctx context.Context, opts ListOptions) ([]domain.Convention, error) {
	f := repo.ConventionFilters{CreatedBy: opts.CreatedBy}
	if opts.Filters.Status != "all" {
		f.Status = opts.Filters.Status
	}
	if opts.Filters.Class != "all" {
		f.Class = opts.Filters.Class
	}
	if opts.Filters.Type != "all" {
		f.Type = opts.Filters.Type
	}
	convs, err := e.Store.ListConventions(ctx, f)
	if err != nil {
		return nil, storeErr("list conventions", err)
	}
	convs = catalog.Filter(convs, opts.Filters)
	if opts.Limit > 0 && len(convs) > opts.Limit {
		convs = convs[:opts.Limit]
	}
	return convs, nil
}

// Bundle carries everything an external renderer needs to produce the document.
type Bundle struct {
	Convention domain.Convention    `json:"convention"`
	Periods    []domain.StagePeriod `json:"periods"`
	Signatures []domain.Signature   `json:"signatures"`
	Sequence   []domain.SignerRole  `json:"sequence"`
	Title      string               `json:"title"`
	Code       string               `json:"code"`
	Template   string               `json:"template,omitempty"`
}

// DocumentBundle is available once the head of school signed and every
// required role has signed.
func (e Engine) DocumentBundle(ctx context.Context, conventionID string) (Bundle, error) {
	c, err := e.getConvention(ctx, conventionID)
	if err != nil {
		return Bundle{}, err
	}
	ok, err := e.HasDirectorSigned(ctx, conventionID)
	if err != nil {
		return Bundle{}, err
	}
	if !ok {
		return Bundle{}, ErrDirectorSignatureMissing
	}
	sigs, err := e.listSignatures(ctx, conventionID)
	if err != nil {
		return Bundle{}, err
	}
	seq := signing.RequiredSequence(c.IsMinor)
	if signing.DeriveStatus(seq, sigs) != domain.StatusReadyToPrint {
		return Bundle{}, ErrNotReadyToPrint
	}
	periods, err := e.Store.ListPeriods(ctx, conventionID)
	if err != nil {
		return Bundle{}, storeErr("list periods", err)
	}
	ordered := orderSignatures(sigs, seq)
	return Bundle{
		Convention: c,
		Periods:    periods,
		Signatures: ordered,
		Sequence:   seq,
		Title:      catalog.Title(e.Config, c.ConventionType),
		Code:       catalog.Code(e.Config, c.ConventionType),
		Template:   catalog.Template(e.Config, c.ConventionType),
	}, nil
}

func orderSignatures(sigs []domain.Signature, seq []domain.SignerRole) []domain.Signature {
	rank := make(map[domain.SignerRole]int, len(seq))
	for i, r := range seq {
		rank[r] = i
	}
	out := append([]domain.Signature(nil), sigs...)
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i].SignerRole] < rank[out[j].SignerRole] })
	return out
}

func normalizePeriods(conventionID string, in []domain.StagePeriod) []domain.StagePeriod {
	out := make([]domain.StagePeriod, 0, len(in))
	for i, p := range in {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.ConventionID = conventionID
		p.PeriodNumber = i + 1
		out = append(out, p)
	}
	return out
}
