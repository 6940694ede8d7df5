package server

import (
	"conventions/internal/domain"
	"conventions/internal/engine"
)

// Request payloads

type PeriodRequest struct {
	StartDate  string `json:"start_date" format:"date"`
	EndDate    string `json:"end_date" format:"date"`
	DailyHours string `json:"daily_hours,omitempty"`
}

type ConventionRequest struct {
	ConventionType       string          `json:"convention_type,omitempty" enum:"stage_initiation,pfmp_seconde,pfmp_premiere_terminale"`
	DiplomePrepare       string          `json:"diplome_prepare,omitempty"`
	DomaineProfessionnel string          `json:"domaine_professionnel,omitempty"`
	AnneeScolaire        string          `json:"annee_scolaire,omitempty"`
	Company              domain.Company  `json:"company"`
	Student              domain.Student  `json:"student"`
	IsMinor              bool            `json:"is_minor,omitempty"`
	Guardian             domain.Guardian `json:"guardian,omitempty"`
	Referent             domain.Person   `json:"referent,omitempty"`
	Tutor                domain.Person   `json:"tutor,omitempty"`
	Schedule             domain.Schedule `json:"schedule,omitempty"`
	MainTasks            string          `json:"main_tasks"`
	PrincipalesTaches    string          `json:"principales_taches,omitempty"`
	SigningLocation      string          `json:"signing_location"`
	SigningDate          string          `json:"signing_date,omitempty"`
	Periods              []PeriodRequest `json:"periods,omitempty"`
}

type SignRequest struct {
	SignerRole    string `json:"signer_role" enum:"student,parent,maitre_stage,responsable_classe,chef_etablissement"`
	SignerName    string `json:"signer_name"`
	SignerEmail   string `json:"signer_email,omitempty"`
	SignatureData string `json:"signature_data"`
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type CreateUserRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Birthdate string `json:"birthdate" format:"date"`
	Role      string `json:"role" enum:"super_admin,admin,chef_etablissement,responsable_classe,maitre_stage,famille,eleve"`
}

// Responses

type ConventionResponse struct {
	Convention domain.Convention    `json:"convention"`
	Periods    []domain.StagePeriod `json:"periods"`
	Title      string               `json:"title"`
	Code       string               `json:"code"`
}

type SignResponse struct {
	Signature     SignatureResponse   `json:"signature"`
	Status        domain.Status       `json:"status"`
	StatusChanged bool                `json:"status_changed"`
	Signatures    []SignatureResponse `json:"signatures"`
}

// SignatureResponse omits the client address; the image is kept for document rendering.
type SignatureResponse struct {
	ID            string            `json:"id"`
	ConventionID  string            `json:"convention_id"`
	SignerRole    domain.SignerRole `json:"signer_role"`
	SignerName    string            `json:"signer_name"`
	SignerEmail   string            `json:"signer_email,omitempty"`
	SignatureData string            `json:"signature_data"`
	SignedAt      string            `json:"signed_at,omitempty"`
}

type ReadyResponse struct {
	ConventionID   string        `json:"convention_id"`
	Status         domain.Status `json:"status"`
	ReadyToPrint   bool          `json:"ready_to_print"`
	DirectorSigned bool          `json:"director_signed"`
}

type SequenceResponse struct {
	IsMinor  bool                `json:"is_minor"`
	Sequence []domain.SignerRole `json:"sequence"`
	Labels   []string            `json:"labels"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	SignerRole  string   `json:"signer_role,omitempty"`
}

type CreateUserResponse struct {
	User     domain.User `json:"user"`
	Login    string      `json:"login"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func (r ConventionRequest) toDomain() (domain.Convention, []domain.StagePeriod) {
	c := domain.Convention{
		ConventionType:       domain.ConventionType(r.ConventionType),
		DiplomePrepare:       r.DiplomePrepare,
		DomaineProfessionnel: r.DomaineProfessionnel,
		AnneeScolaire:        r.AnneeScolaire,
		Company:              r.Company,
		Student:              r.Student,
		IsMinor:              r.IsMinor,
		Guardian:             r.Guardian,
		Referent:             r.Referent,
		Tutor:                r.Tutor,
		Schedule:             r.Schedule,
		MainTasks:            r.MainTasks,
		PrincipalesTaches:    r.PrincipalesTaches,
		SigningLocation:      r.SigningLocation,
		SigningDate:          r.SigningDate,
	}
	var periods []domain.StagePeriod
	if r.Periods != nil {
		periods = make([]domain.StagePeriod, 0, len(r.Periods))
		for _, p := range r.Periods {
			periods = append(periods, domain.StagePeriod{StartDate: p.StartDate, EndDate: p.EndDate, DailyHours: p.DailyHours})
		}
	}
	return c, periods
}

func signatureResponse(s domain.Signature) SignatureResponse {
	out := SignatureResponse{
		ID:            s.ID,
		ConventionID:  s.ConventionID,
		SignerRole:    s.SignerRole,
		SignerName:    s.SignerName,
		SignerEmail:   s.SignerEmail,
		SignatureData: s.SignatureData,
	}
	if s.SignedAt != nil {
		out.SignedAt = *s.SignedAt
	}
	return out
}

func mapSignatures(items []domain.Signature) []SignatureResponse {
	out := make([]SignatureResponse, 0, len(items))
	for _, s := range items {
		out = append(out, signatureResponse(s))
	}
	return out
}

func signResponse(res engine.SubmitResult) SignResponse {
	return SignResponse{
		Signature:     signatureResponse(res.Signature),
		Status:        res.Status,
		StatusChanged: res.StatusChanged,
		Signatures:    mapSignatures(res.Signatures),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
