package base

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// GlobalProperties is the read side of the administration service that other
// services use for runtime configuration.
type GlobalProperties interface {
	GetGlobalPropertyValue(ctx context.Context, name, defaultValue string) string
	GetGlobalPropertyInt(ctx context.Context, name string, defaultValue int) int
	GetGlobalPropertyBool(ctx context.Context, name string, defaultValue bool) bool
}

// Well-known global property names read outside the administration package.
const (
	GPMinSearchCharacters         = "minSearchCharacters"
	GPSearchMaxResults            = "searchWidget.maximumResults"
	GPDefaultLocation             = "default_location"
	GPUnknownProviderUUID         = "provider.unknownProviderUuid"
	GPVisitAssignmentHandler      = "visits.assignmentHandler"
	GPEncounterTypeToVisitType    = "visits.encounterTypeToVisitTypeMapping"
	GPAutoCloseVisitType          = "visits.autoCloseVisitType"
	GPEncounterTypesLocked        = "EncounterType.encounterTypes.locked"
	GPDefaultSerializer           = "serialization.defaultSerializer"
	GPPasswordMinLength           = "security.passwordMinimumLength"
	GPPasswordUpperAndLower       = "security.passwordRequiresUpperAndLowerCase"
	GPPasswordRequiresDigit       = "security.passwordRequiresDigit"
	GPPasswordCannotMatchUsername = "security.passwordCannotMatchUsername"
	GPAllowedFailedLogins         = "security.allowedFailedLoginsBeforeLockout"
	GPImplementationID            = "implementation_id"
)

// StaticProperties is an in-memory GlobalProperties used by tests and by the
// CLI before the database is reachable.
type StaticProperties struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewStaticProperties(values map[string]string) *StaticProperties {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &StaticProperties{values: cp}
}

func (s *StaticProperties) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *StaticProperties) GetGlobalPropertyValue(_ context.Context, name, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (s *StaticProperties) GetGlobalPropertyInt(ctx context.Context, name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.GetGlobalPropertyValue(ctx, name, "")))
	if err != nil {
		return def
	}
	return n
}

func (s *StaticProperties) GetGlobalPropertyBool(ctx context.Context, name string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s.GetGlobalPropertyValue(ctx, name, "")))
	if err != nil {
		return def
	}
	return b
}

// MinSearchCharacters returns the configured minimum query length (default 2).
func MinSearchCharacters(ctx context.Context, gp GlobalProperties) int {
	if gp == nil {
		return 2
	}
	return gp.GetGlobalPropertyInt(ctx, GPMinSearchCharacters, 2)
}

// MaxResults returns the configured page size cap (default 100).
func MaxResults(ctx context.Context, gp GlobalProperties) int {
	if gp == nil {
		return 100
	}
	return gp.GetGlobalPropertyInt(ctx, GPSearchMaxResults, 100)
}
