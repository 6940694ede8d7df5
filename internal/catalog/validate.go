package catalog

import (
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"conventions/internal/domain"
)

// MaxPeriods caps the number of stage periods on one convention.
const MaxPeriods = 7

var (
	sirenRe = regexp.MustCompile(`^\d{9}$`)
	phoneRe = regexp.MustCompile(`^0[1-9]\d{8}$`)
)

// ValidationError carries one message per invalid field, keyed by JSON field path.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid convention: " + strings.Join(parts, "; ")
}

type checker struct {
	fields map[string]string
}

func (c *checker) fail(field, msg string) {
	if _, ok := c.fields[field]; !ok {
		c.fields[field] = msg
	}
}

func (c *checker) minLen(field, value string, n int, msg string) {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < n {
		c.fail(field, msg)
	}
}

func (c *checker) match(field, value string, re *regexp.Regexp, msg string) {
	if !re.MatchString(value) {
		c.fail(field, msg)
	}
}

func (c *checker) email(field, value string, optional bool) {
	if optional && value == "" {
		return
	}
	if !validEmail(value) {
		c.fail(field, "Email invalide")
	}
}

func validEmail(v string) bool {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return false
	}
	return addr.Address == v && strings.Contains(v[strings.LastIndex(v, "@"):], ".")
}

func validDate(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

// Validate checks a convention and its stage periods the way the entry form does.
func Validate(conv domain.Convention, periods []domain.StagePeriod) error {
	c := &checker{fields: map[string]string{}}

	co := conv.Company
	c.minLen("company.name", co.Name, 2, "Nom requis (min 2 caractères)")
	c.match("company.siren", co.Siren, sirenRe, "Le SIREN doit contenir exactement 9 chiffres")
	c.match("company.phone", co.Phone, phoneRe, "Format : 0XXXXXXXXX (10 chiffres)")
	c.email("company.email", co.Email, false)
	c.minLen("company.signatory_lastname", co.SignatoryLastname, 2, "Nom requis")
	c.minLen("company.signatory_firstname", co.SignatoryFirstname, 2, "Prénom requis")
	c.minLen("company.signatory_title", co.SignatoryTitle, 2, "Fonction requise")
	c.minLen("company.stage_location", co.StageLocation, 5, "Lieu du stage requis")

	st := conv.Student
	c.minLen("student.lastname", st.Lastname, 2, "Nom requis")
	c.minLen("student.firstname", st.Firstname, 2, "Prénom requis")
	c.email("student.email", st.Email, false)
	c.match("student.phone", st.Phone, phoneRe, "Format : 0XXXXXXXXX")
	if !validDate(st.Birthdate) {
		c.fail("student.birthdate", "Date de naissance requise")
	}
	c.minLen("student.address", st.Address, 5, "Adresse requise")
	c.minLen("student.class", st.Class, 1, "Classe requise")
	if st.Gender != "M" && st.Gender != "F" {
		c.fail("student.gender", "Sélectionnez un genre")
	}

	if conv.IsMinor {
		g := conv.Guardian
		const msg = "Les informations du représentant légal sont obligatoires pour un mineur"
		c.minLen("guardian.lastname", g.Lastname, 2, msg)
		c.minLen("guardian.firstname", g.Firstname, 2, msg)
		c.minLen("guardian.phone", g.Phone, 1, msg)
		c.minLen("guardian.email", g.Email, 1, msg)
		c.minLen("guardian.address", g.Address, 1, msg)
	}

	c.email("referent.email", conv.Referent.Email, true)
	c.email("tutor.email", conv.Tutor.Email, true)
	if h := conv.Schedule.WeeklyHours; h != nil && (*h < 1 || *h > 40) {
		c.fail("schedule.weekly_hours", "La durée hebdomadaire doit être comprise entre 1 et 40 heures")
	}
	c.minLen("main_tasks", conv.MainTasks, 10, "Description des tâches requise (min 10 caractères)")
	c.minLen("signing_location", conv.SigningLocation, 3, "Lieu de signature requis")
	if conv.ConventionType != "" {
		switch conv.ConventionType {
		case domain.TypeStageInitiation, domain.TypePFMPSeconde, domain.TypePFMPPremiereTerminale:
		default:
			c.fail("convention_type", "Type de convention inconnu")
		}
	}

	if len(periods) > MaxPeriods {
		c.fail("periods", fmt.Sprintf("%d périodes maximum", MaxPeriods))
	}
	for i, p := range periods {
		field := fmt.Sprintf("periods[%d]", i)
		if !validDate(p.StartDate) || !validDate(p.EndDate) {
			c.fail(field, "Dates de début et de fin requises")
			continue
		}
		if p.EndDate < p.StartDate {
			c.fail(field, "La date de fin précède la date de début")
		}
	}

	if len(c.fields) > 0 {
		return ValidationError{Fields: c.fields}
	}
	return nil
}
