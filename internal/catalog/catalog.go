// Package catalog classifies conventions by student class, checks form
// input and builds the dashboard views (filters, counters, CSV export).
package catalog

import (
	"strings"

	"conventions/internal/config"
	"conventions/internal/domain"
)

const (
	fallbackTitle = "CONVENTION DE STAGE"
	fallbackCode  = "SEN-ANSE-XXX"
)

// TypeForClass returns the convention type configured for a student class.
func TypeForClass(cfg *config.Config, class string) domain.ConventionType {
	if cfg == nil {
		return domain.TypeStageInitiation
	}
	return domain.ConventionType(cfg.TypeForClass(class))
}

// Title is the document heading of a convention type.
func Title(cfg *config.Config, typ domain.ConventionType) string {
	if t, ok := lookup(cfg, typ); ok {
		return t.Title
	}
	return fallbackTitle
}

// Code is the administrative reference printed on the document.
func Code(cfg *config.Config, typ domain.ConventionType) string {
	if t, ok := lookup(cfg, typ); ok {
		return t.Code
	}
	return fallbackCode
}

// Template names the document template file for typ, if configured.
func Template(cfg *config.Config, typ domain.ConventionType) string {
	t, _ := lookup(cfg, typ)
	return t.Template
}

// KnownType reports whether typ is configured.
func KnownType(cfg *config.Config, typ domain.ConventionType) bool {
	_, ok := lookup(cfg, typ)
	return ok
}

func lookup(cfg *config.Config, typ domain.ConventionType) (config.ConventionType, bool) {
	if cfg == nil {
		return config.ConventionType{}, false
	}
	t, ok := cfg.ConventionTypes[strings.TrimSpace(string(typ))]
	return t, ok
}
