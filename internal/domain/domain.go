package domain

// Status is the lifecycle state of a convention.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingSignatures Status = "pending_signatures"
	StatusSigned            Status = "signed"
	StatusReadyToPrint      Status = "ready_to_print"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingSignatures, StatusSigned, StatusReadyToPrint:
		return true
	}
	return false
}

// SignerRole tags the party behind a signature.
type SignerRole string

const (
	RoleStudent           SignerRole = "student"
	RoleParent            SignerRole = "parent"
	RoleMaitreStage       SignerRole = "maitre_stage"
	RoleResponsableClasse SignerRole = "responsable_classe"
	RoleChefEtablissement SignerRole = "chef_etablissement"
)

// AllSignerRoles lists every role in canonical order.
var AllSignerRoles = []SignerRole{
	RoleStudent,
	RoleParent,
	RoleMaitreStage,
	RoleResponsableClasse,
	RoleChefEtablissement,
}

func (r SignerRole) Valid() bool {
	for _, known := range AllSignerRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Label is the French display label used on documents and in the UI.
func (r SignerRole) Label() string {
	switch r {
	case RoleStudent:
		return "Stagiaire"
	case RoleParent:
		return "Responsable légal"
	case RoleMaitreStage:
		return "Maître de stage"
	case RoleResponsableClasse:
		return "Responsable de classe"
	case RoleChefEtablissement:
		return "Chef d'établissement"
	}
	return string(r)
}

// ConventionType selects the document template.
type ConventionType string

const (
	TypeStageInitiation       ConventionType = "stage_initiation"
	TypePFMPSeconde           ConventionType = "pfmp_seconde"
	TypePFMPPremiereTerminale ConventionType = "pfmp_premiere_terminale"
)

type Convention struct {
	ID             string         `json:"id"`
	Status         Status         `json:"status" enum:"draft,pending_signatures,signed,ready_to_print"`
	ConventionType ConventionType `json:"convention_type,omitempty" enum:"stage_initiation,pfmp_seconde,pfmp_premiere_terminale"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`

	DiplomePrepare       string `json:"diplome_prepare,omitempty"`
	DomaineProfessionnel string `json:"domaine_professionnel,omitempty"`
	AnneeScolaire        string `json:"annee_scolaire,omitempty"`

	Company  Company  `json:"company"`
	Student  Student  `json:"student"`
	IsMinor  bool     `json:"is_minor"`
	Guardian Guardian `json:"guardian,omitempty"`
	Referent Person   `json:"referent,omitempty"`
	Tutor    Person   `json:"tutor,omitempty"`
	Schedule Schedule `json:"schedule,omitempty"`

	MainTasks         string `json:"main_tasks"`
	PrincipalesTaches string `json:"principales_taches,omitempty"`
	SigningLocation   string `json:"signing_location"`
	SigningDate       string `json:"signing_date,omitempty"`
}

type Company struct {
	Name                 string `json:"name"`
	Siren                string `json:"siren"`
	Phone                string `json:"phone"`
	Email                string `json:"email"`
	SignatoryLastname    string `json:"signatory_lastname"`
	SignatoryFirstname   string `json:"signatory_firstname"`
	SignatoryTitle       string `json:"signatory_title"`
	StageLocation        string `json:"stage_location"`
	QualiteRepresentant  string `json:"qualite_representant,omitempty"`
	LieuStageSiDifferent string `json:"lieu_stage_si_different,omitempty"`
}

type Student struct {
	Lastname  string `json:"lastname"`
	Firstname string `json:"firstname"`
	Gender    string `json:"gender" enum:"M,F"`
	Birthdate string `json:"birthdate" format:"date"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Class     string `json:"class"`
}

type Guardian struct {
	Lastname  string `json:"lastname,omitempty"`
	Firstname string `json:"firstname,omitempty"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Person describes the referent teacher or the company tutor.
type Person struct {
	Lastname  string `json:"lastname,omitempty"`
	Firstname string `json:"firstname,omitempty"`
	Function  string `json:"function,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

type Schedule struct {
	Monday      string `json:"monday,omitempty"`
	Tuesday     string `json:"tuesday,omitempty"`
	Wednesday   string `json:"wednesday,omitempty"`
	Thursday    string `json:"thursday,omitempty"`
	Friday      string `json:"friday,omitempty"`
	Saturday    string `json:"saturday,omitempty"`
	WeeklyHours *int   `json:"weekly_hours,omitempty"`
}

// StudentName returns "Firstname Lastname".
func (c Convention) StudentName() string {
	return c.Student.Firstname + " " + c.Student.Lastname
}

type StagePeriod struct {
	ID           string `json:"id"`
	ConventionID string `json:"convention_id"`
	PeriodNumber int    `json:"period_number"`
	StartDate    string `json:"start_date" format:"date"`
	EndDate      string `json:"end_date" format:"date"`
	DailyHours   string `json:"daily_hours,omitempty"`
}

// Signature is immutable once stored. SignatureData is an opaque image payload
// (usually a data URL) and must never be logged.
type Signature struct {
	ID            string     `json:"id"`
	ConventionID  string     `json:"convention_id"`
	SignerRole    SignerRole `json:"signer_role" enum:"student,parent,maitre_stage,responsable_classe,chef_etablissement"`
	SignerName    string     `json:"signer_name"`
	SignerEmail   string     `json:"signer_email,omitempty"`
	SignatureData string     `json:"signature_data"`
	SignedAt      *string    `json:"signed_at,omitempty" format:"date-time"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
}

// Signed reports whether the signature carries a timestamp.
func (s Signature) Signed() bool {
	return s.SignedAt != nil && *s.SignedAt != ""
}

type User struct {
	ID           string `json:"id"`
	Login        string `json:"login"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	Role         string `json:"role" enum:"super_admin,admin,chef_etablissement,responsable_classe,maitre_stage,famille,eleve"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
