package administration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

// Listener is notified when a global property it supports is saved or purged.
type Listener interface {
	SupportsPropertyName(name string) bool
	GlobalPropertyChanged(ctx context.Context, gp *GlobalProperty) error
	GlobalPropertyDeleted(ctx context.Context, name string) error
}

type Service struct {
	base.Support
	repo Repository

	mu     sync.RWMutex
	cache  map[string]*GlobalProperty
	loaded bool
	gen    uint64

	lmu       sync.RWMutex
	listeners []Listener

	version   string
	startedAt time.Time
	dbStats   func() interface{}
}

func NewService(repo Repository, version string) *Service {
	return &Service{repo: repo, version: version, startedAt: base.Now()}
}

// SetDatabaseStats installs the pool statistics reported by GetSystemInformation.
func (s *Service) SetDatabaseStats(fn func() interface{}) {
	s.dbStats = fn
}

func (s *Service) AddGlobalPropertyListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) RemoveGlobalPropertyListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns the cached properties. A transaction with uncommitted
// property changes reads the repository and leaves the cache alone.
func (s *Service) snapshot(ctx context.Context) (map[string]*GlobalProperty, error) {
	pending := base.CommitPending(ctx)
	s.mu.RLock()
	if s.loaded && !pending {
		c := s.cache
		s.mu.RUnlock()
		return c, nil
	}
	gen := s.gen
	s.mu.RUnlock()

	all, err := s.repo.List(ctx, "")
	if err != nil {
		return nil, err
	}
	c := make(map[string]*GlobalProperty, len(all))
	for _, gp := range all {
		c[gp.Property] = gp
	}
	if pending {
		return c, nil
	}
	s.mu.Lock()
	if s.gen == gen {
		s.cache, s.loaded = c, true
	}
	s.mu.Unlock()
	return c, nil
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cache, s.loaded = nil, false
	s.gen++
	s.mu.Unlock()
}

func (s *Service) GetGlobalProperty(ctx context.Context, name string) (*GlobalProperty, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	gp, ok := c[name]
	if !ok {
		return nil, apierr.NotFound("globalProperty", name)
	}
	cp := *gp
	return &cp, nil
}

// GetGlobalPropertyValue returns the value of name, or def when the property
// is missing, blank or cannot be read.
func (s *Service) GetGlobalPropertyValue(ctx context.Context, name, def string) string {
	gp, err := s.GetGlobalProperty(ctx, name)
	if err != nil || strings.TrimSpace(gp.PropertyValue) == "" {
		return def
	}
	return gp.PropertyValue
}

func (s *Service) GetGlobalPropertyInt(ctx context.Context, name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.GetGlobalPropertyValue(ctx, name, "")))
	if err != nil {
		return def
	}
	return n
}

func (s *Service) GetGlobalPropertyBool(ctx context.Context, name string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s.GetGlobalPropertyValue(ctx, name, "")))
	if err != nil {
		return def
	}
	return b
}

func (s *Service) GetGlobalPropertyDuration(ctx context.Context, name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s.GetGlobalPropertyValue(ctx, name, "")))
	if err != nil {
		return def
	}
	return d
}

func (s *Service) GetGlobalPropertiesByPrefix(ctx context.Context, prefix string) ([]*GlobalProperty, error) {
	return s.repo.List(ctx, prefix)
}

func (s *Service) GetAllGlobalProperties(ctx context.Context) ([]*GlobalProperty, error) {
	return s.repo.List(ctx, "")
}

func checkDatatype(gp *GlobalProperty) error {
	v := strings.TrimSpace(gp.PropertyValue)
	if v == "" {
		return nil
	}
	var err error
	switch gp.Datatype {
	case "integer":
		_, err = strconv.Atoi(v)
	case "boolean":
		_, err = strconv.ParseBool(v)
	case "duration":
		_, err = time.ParseDuration(v)
	}
	if err != nil {
		return apierr.Invalid("property_value", "GlobalProperty.value.invalid",
			"value %q is not a valid %s", gp.PropertyValue, gp.Datatype)
	}
	return nil
}

func (s *Service) SaveGlobalProperty(ctx context.Context, gp *GlobalProperty) error {
	gp.Property = strings.TrimSpace(gp.Property)
	if err := validate.Struct("GlobalProperty", gp); err != nil {
		return err
	}
	if err := checkDatatype(gp); err != nil {
		return err
	}
	now := base.Now()
	actor := auth.ActorFromContext(ctx)
	gp.DateChanged, gp.ChangedBy = &now, &actor
	if err := s.repo.Upsert(ctx, gp); err != nil {
		return err
	}
	s.Record("globalProperty", "save")
	saved := *gp
	base.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidate()
		s.notify(ctx, saved.Property, func(l Listener) error { return l.GlobalPropertyChanged(ctx, &saved) })
	})
	return nil
}

// SaveGlobalProperties saves every property in one transaction. Listeners
// hear about the changes only once it commits.
func (s *Service) SaveGlobalProperties(ctx context.Context, props []*GlobalProperty) error {
	err := s.InTx(ctx, func(ctx context.Context) error {
		for _, gp := range props {
			if err := s.SaveGlobalProperty(ctx, gp); err != nil {
				return fmt.Errorf("save %s: %w", gp.Property, err)
			}
		}
		return nil
	})
	if err != nil {
		s.invalidate()
	}
	return err
}

// SetGlobalProperty updates the value of name, creating it when missing and
// keeping the existing description and datatype.
func (s *Service) SetGlobalProperty(ctx context.Context, name, value string) error {
	gp, err := s.GetGlobalProperty(ctx, name)
	if err != nil {
		if !errors.Is(err, apierr.ErrNotFound) {
			return err
		}
		gp = &GlobalProperty{Property: name}
	}
	gp.PropertyValue = value
	return s.SaveGlobalProperty(ctx, gp)
}

func (s *Service) PurgeGlobalProperty(ctx context.Context, name string) error {
	if err := s.repo.Delete(ctx, name); err != nil {
		return err
	}
	s.Record("globalProperty", "purge")
	base.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidate()
		s.notify(ctx, name, func(l Listener) error { return l.GlobalPropertyDeleted(ctx, name) })
	})
	return nil
}

func (s *Service) notify(ctx context.Context, name string, call func(Listener) error) {
	s.lmu.RLock()
	ls := append([]Listener(nil), s.listeners...)
	s.lmu.RUnlock()
	for _, l := range ls {
		if !l.SupportsPropertyName(name) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.Log().Error().Interface("panic", r).Str("property", name).Msg("global property listener panicked")
				}
			}()
			if err := call(l); err != nil {
				s.Log().Warn().Err(err).Str("property", name).Msg("global property listener failed")
			}
		}()
	}
}

func (s *Service) GetImplementationID(ctx context.Context) (*ImplementationID, error) {
	raw := s.GetGlobalPropertyValue(ctx, base.GPImplementationID, "")
	if raw == "" {
		return nil, nil
	}
	var id ImplementationID
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, fmt.Errorf("decode implementation id: %w", err)
	}
	return &id, nil
}

func (s *Service) SetImplementationID(ctx context.Context, id *ImplementationID) error {
	if err := validate.Struct("ImplementationId", id); err != nil {
		return err
	}
	if strings.ContainsAny(id.ImplementationID, "^|") {
		return apierr.Invalid("implementation_id", "ImplementationId.implementationId.invalid",
			"implementation id cannot contain '^' or '|'")
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.SaveGlobalProperty(ctx, &GlobalProperty{
		Property:      base.GPImplementationID,
		PropertyValue: string(raw),
		Description:   base.StrPtr("Identifies this installation to other systems"),
	})
}

func (s *Service) GetSystemInformation(ctx context.Context) (*SystemInformation, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	info := &SystemInformation{
		Version:      s.version,
		StartedAt:    s.startedAt,
		Uptime:       base.Now().Sub(s.startedAt).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.HeapAlloc) / (1 << 20),
		NumCPU:       runtime.NumCPU(),
	}
	if s.dbStats != nil {
		info.Database = s.dbStats()
	}
	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	info.PropertyCount = len(c)
	return info, nil
}
