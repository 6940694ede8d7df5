// Package accounts manages school user accounts: generated logins and
// initial passwords, bcrypt hashing, authentication and API tokens.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"conventions/internal/domain"
	"conventions/internal/engine/auth"
	"conventions/internal/events"
	"conventions/internal/repo"
)

const DefaultDomain = "mfr-conventions.local"

var (
	// ErrInvalidCredentials signals an unknown login or a wrong password.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrInvalidRole signals an unknown account role.
	ErrInvalidRole = errors.New("accounts: invalid role")
	// ErrInvalidRequest signals missing or malformed account fields.
	ErrInvalidRequest = errors.New("accounts: invalid request")
)

// Login builds "F.LASTNAME" from the first initial and the upper-cased last name without spaces.
func Login(firstname, lastname string) string {
	initial := ""
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(firstname)); r != utf8.RuneError {
		initial = string(unicode.ToUpper(r))
	}
	nom := strings.Join(strings.Fields(strings.ToUpper(lastname)), "")
	return initial + "." + nom
}

// InitialPassword derives DDMMYY from a YYYY-MM-DD birthdate.
func InitialPassword(birthdate string) (string, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(birthdate))
	if err != nil {
		return "", fmt.Errorf("%w: birthdate %q", ErrInvalidRequest, birthdate)
	}
	return t.Format("020106"), nil
}

// Email returns the account address for login under domain.
func Email(login, domainName string) string {
	if domainName == "" {
		domainName = DefaultDomain
	}
	return login + "@" + domainName
}

type CreateRequest struct {
	Firstname string
	Lastname  string
	Birthdate string
	Role      string
}

// Credentials are returned once at creation; the password is never stored in clear.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type Service struct {
	Repo   repo.Repo
	Events events.Writer
	Domain string
	Cost   int
	Now    func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) cost() int {
	if s.Cost > 0 {
		return s.Cost
	}
	return bcrypt.DefaultCost
}

func (s Service) Create(ctx context.Context, req CreateRequest, actorID string) (domain.User, Credentials, error) {
	if utf8.RuneCountInString(strings.TrimSpace(req.Firstname)) < 1 || utf8.RuneCountInString(strings.TrimSpace(req.Lastname)) < 2 {
		return domain.User{}, Credentials{}, fmt.Errorf("%w: firstname and lastname are required", ErrInvalidRequest)
	}
	if !auth.ValidRole(req.Role) {
		return domain.User{}, Credentials{}, fmt.Errorf("%w %q", ErrInvalidRole, req.Role)
	}
	password, err := InitialPassword(req.Birthdate)
	if err != nil {
		return domain.User{}, Credentials{}, err
	}
	login := Login(req.Firstname, req.Lastname)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		return domain.User{}, Credentials{}, fmt.Errorf("accounts: hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Login:        login,
		Email:        Email(login, s.Domain),
		FullName:     strings.TrimSpace(req.Firstname) + " " + strings.TrimSpace(req.Lastname),
		Role:         req.Role,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, Credentials{}, err
	}
	if err := s.Events.AppendDirect(ctx, events.UserCreated, "user", u.ID, actorID, events.EventPayload{"login": u.Login, "role": u.Role}); err != nil {
		return domain.User{}, Credentials{}, err
	}
	return u, Credentials{Login: login, Password: password, Email: u.Email, Role: u.Role}, nil
}

func (s Service) List(ctx context.Context, role string) ([]domain.User, error) {
	return s.Repo.ListUsers(ctx, role)
}

func (s Service) Delete(ctx context.Context, id, actorID string) error {
	u, err := s.Repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	if err := s.Repo.DeleteAPIKeysForActor(ctx, id); err != nil {
		return err
	}
	return s.Events.AppendDirect(ctx, events.UserDeleted, "user", id, actorID, events.EventPayload{"login": u.Login})
}

// Authenticate accepts the login (case-insensitive) or the account email.
func (s Service) Authenticate(ctx context.Context, login, password string) (domain.User, error) {
	key := strings.ToUpper(strings.TrimSpace(login))
	if at := strings.Index(key, "@"); at > 0 {
		key = key[:at]
	}
	u, err := s.Repo.GetUserByLogin(ctx, key)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// TokenClaims match what the API's bearer authentication expects.
type TokenClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// IssueToken signs an HS256 token for u valid for ttl.
func IssueToken(secret string, u domain.User, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("accounts: jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: []string{u.Role},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
