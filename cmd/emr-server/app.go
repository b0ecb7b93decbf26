package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/config"
	"github.com/ehr/emr/internal/domain/administration"
	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/domain/cohort"
	"github.com/ehr/emr/internal/domain/condition"
	"github.com/ehr/emr/internal/domain/diagnosis"
	"github.com/ehr/emr/internal/domain/encounter"
	"github.com/ehr/emr/internal/domain/form"
	"github.com/ehr/emr/internal/domain/location"
	"github.com/ehr/emr/internal/domain/obs"
	"github.com/ehr/emr/internal/domain/order"
	"github.com/ehr/emr/internal/domain/patient"
	"github.com/ehr/emr/internal/domain/person"
	"github.com/ehr/emr/internal/domain/program"
	"github.com/ehr/emr/internal/domain/provider"
	"github.com/ehr/emr/internal/domain/serialization"
	"github.com/ehr/emr/internal/domain/storage"
	"github.com/ehr/emr/internal/domain/user"
	"github.com/ehr/emr/internal/domain/visit"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/internal/platform/metrics"
)

// services is the composition root: every domain service, wired to its
// collaborators and to the cascades of the services it owns.
type services struct {
	admin      *administration.Service
	serial     *serialization.Service
	storage    *storage.Service
	people     *person.Service
	patients   *patient.Service
	providers  *provider.Service
	users      *user.Service
	locations  *location.Service
	visits     *visit.Service
	encounters *encounter.Service
	obs        *obs.Service
	orders     *order.Service
	forms      *form.Service
	programs   *program.Service
	cohorts    *cohort.Service
	conditions *condition.Service
	diagnoses  *diagnosis.Service
}

// supported is implemented by every service through base.Support.
type supported interface {
	SetTxRunner(tx base.TxRunner)
	SetRecorder(rec metrics.Recorder)
	SetLogger(logger zerolog.Logger)
}

func buildServices(pool *pgxpool.Pool, backend storage.Backend, rec metrics.Recorder, logger zerolog.Logger) *services {
	s := &services{}
	s.admin = administration.NewService(administration.NewRepo(pool), version)
	s.admin.SetDatabaseStats(func() interface{} { return db.GetPoolStats(pool) })
	gp := s.admin

	s.serial = serialization.NewService(serialization.NewRepo(pool), gp)
	s.storage = storage.NewService(backend)

	s.people = person.NewService(person.NewPersonRepoPG(pool), person.NewAttributeTypeRepoPG(pool),
		person.NewRelationshipTypeRepoPG(pool), person.NewRelationshipRepoPG(pool))
	s.patients = patient.NewService(s.people, patient.NewPatientRepoPG(pool), patient.NewIdentifierTypeRepoPG(pool),
		patient.NewMergeLogRepoPG(pool), s.serial)
	s.providers = provider.NewService(provider.NewProviderRepoPG(pool), provider.NewAttributeTypeRepoPG(pool), s.people, gp)
	s.users = user.NewService(user.NewUserRepoPG(pool), user.NewRoleRepoPG(pool), user.NewPrivilegeRepoPG(pool), gp)
	s.locations = location.NewService(location.NewLocationRepoPG(pool), location.NewTagRepoPG(pool), gp)

	s.visits = visit.NewService(visit.NewVisitRepoPG(pool), visit.NewVisitTypeRepoPG(pool), visit.NewAttributeTypeRepoPG(pool), gp)
	s.encounters = encounter.NewService(encounter.NewEncounterRepoPG(pool), encounter.NewTypeRepoPG(pool),
		encounter.NewRoleRepoPG(pool), gp, s.visits)
	s.visits.SetEncounterTimes(s.encounters)
	s.visits.SetLocationTree(s.locations)

	s.obs = obs.NewService(obs.NewObsRepoPG(pool), s.storage, s.encounters)
	s.orders = order.NewService(order.NewOrderRepoPG(pool), order.NewOrderTypeRepoPG(pool), order.NewCareSettingRepoPG(pool),
		order.NewFrequencyRepoPG(pool), s.encounters)
	s.forms = form.NewService(form.NewFormRepoPG(pool), form.NewFieldRepoPG(pool), form.NewResourceRepoPG(pool), s.storage)
	s.programs = program.NewService(program.NewProgramRepoPG(pool), program.NewPatientProgramRepoPG(pool))
	s.cohorts = cohort.NewService(cohort.NewCohortRepoPG(pool), cohort.NewMembershipRepoPG(pool))
	s.conditions = condition.NewService(condition.NewRepoPG(pool))
	s.diagnoses = diagnosis.NewService(diagnosis.NewRepoPG(pool), s.encounters)

	tx := db.NewTxManager(pool)
	for name, svc := range s.all() {
		svc.SetTxRunner(tx)
		svc.SetRecorder(rec)
		svc.SetLogger(logger.With().Str("service", name).Logger())
	}

	s.wireHooks()
	return s
}

func (s *services) all() map[string]supported {
	return map[string]supported{
		"administration": s.admin,
		"serialization":  s.serial,
		"storage":        s.storage,
		"person":         s.people,
		"patient":        s.patients,
		"provider":       s.providers,
		"user":           s.users,
		"location":       s.locations,
		"visit":          s.visits,
		"encounter":      s.encounters,
		"obs":            s.obs,
		"order":          s.orders,
		"form":           s.forms,
		"program":        s.programs,
		"cohort":         s.cohorts,
		"condition":      s.conditions,
		"diagnosis":      s.diagnoses,
	}
}

// wireHooks registers the void cascades, merge hooks, purge and transfer
// hooks and death hooks between services.
func (s *services) wireHooks() {
	s.people.AddCascade(s.obs.PersonCascade())

	for _, c := range []base.Cascade{
		s.encounters.PatientCascade(),
		s.visits.PatientCascade(),
		s.orders.PatientCascade(),
		s.programs.PatientCascade(),
		s.cohorts.PatientCascade(),
		s.conditions.PatientCascade(),
		s.diagnoses.PatientCascade(),
	} {
		s.patients.AddCascade(c)
	}
	for _, h := range []base.MergeHook{
		s.encounters.PatientMergeHook(),
		s.visits.PatientMergeHook(),
		s.obs.PersonMergeHook(),
		s.orders.PatientMergeHook(),
		s.programs.PatientMergeHook(),
		s.cohorts.PatientMergeHook(),
		s.conditions.PatientMergeHook(),
		s.diagnoses.PatientMergeHook(),
	} {
		s.patients.AddMergeHook(h)
	}
	s.patients.AddDeathHook(patient.DeathHook{Name: "visits", Fn: s.visits.EndActiveVisits})
	s.patients.AddDeathHook(patient.DeathHook{Name: "programs", Fn: s.programs.CompleteActiveEnrolments})

	s.visits.AddCascade(s.encounters.VisitCascade())

	s.encounters.AddCascade(s.obs.EncounterCascade())
	s.encounters.AddCascade(s.orders.EncounterCascade())
	s.encounters.AddCascade(s.diagnoses.EncounterCascade())
	// obs may point at orders, so they go first.
	s.encounters.AddPurgeHook(s.obs.EncounterPurgeHook())
	s.encounters.AddPurgeHook(s.diagnoses.EncounterPurgeHook())
	s.encounters.AddPurgeHook(s.orders.EncounterPurgeHook())
	s.encounters.AddTransferHook(s.obs.EncounterTransferHook())
	s.encounters.AddTransferHook(s.diagnoses.EncounterTransferHook())
}

func (s *services) registerRoutes(api *echo.Group, issue user.TokenIssuer) {
	gp := s.admin
	user.NewHandler(s.users, gp, issue).RegisterRoutes(api)
	administration.NewHandler(s.admin).RegisterRoutes(api)
	serialization.NewHandler(s.serial).RegisterRoutes(api)
	storage.NewHandler(s.storage).RegisterRoutes(api)
	person.NewHandler(s.people, gp).RegisterRoutes(api)
	patient.NewHandler(s.patients, gp).RegisterRoutes(api)
	provider.NewHandler(s.providers, gp).RegisterRoutes(api)
	location.NewHandler(s.locations, gp).RegisterRoutes(api)
	visit.NewHandler(s.visits, gp).RegisterRoutes(api)
	encounter.NewHandler(s.encounters, gp).RegisterRoutes(api)
	obs.NewHandler(s.obs, gp).RegisterRoutes(api)
	order.NewHandler(s.orders, gp).RegisterRoutes(api)
	form.NewHandler(s.forms).RegisterRoutes(api)
	program.NewHandler(s.programs).RegisterRoutes(api)
	cohort.NewHandler(s.cohorts).RegisterRoutes(api)
	condition.NewHandler(s.conditions).RegisterRoutes(api)
	diagnosis.NewHandler(s.diagnoses).RegisterRoutes(api)
}

// newStorageBackend picks the backend named by STORAGE_BACKEND.
func newStorageBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "s3":
		return storage.NewS3Backend(storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
			Attempts: 3,
		})
	case "local", "":
		key, err := cfg.StorageKey()
		if err != nil {
			return nil, err
		}
		var cipher *storage.Cipher
		if key != nil {
			if cipher, err = storage.NewCipher(key); err != nil {
				return nil, err
			}
		}
		return storage.NewLocalBackend(cfg.StorageDir, cipher)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// logLevelProperty lets administrators raise the log level at runtime.
const logLevelProperty = "log.level"

type logLevelListener struct {
	logger zerolog.Logger
}

func (l *logLevelListener) SupportsPropertyName(name string) bool {
	return name == logLevelProperty
}

func (l *logLevelListener) GlobalPropertyChanged(_ context.Context, gp *administration.GlobalProperty) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(gp.PropertyValue)))
	if err != nil {
		return fmt.Errorf("%s: %w", logLevelProperty, err)
	}
	zerolog.SetGlobalLevel(level)
	l.logger.Info().Str("level", level.String()).Msg("log level changed")
	return nil
}

func (l *logLevelListener) GlobalPropertyDeleted(_ context.Context, _ string) error {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	return nil
}
