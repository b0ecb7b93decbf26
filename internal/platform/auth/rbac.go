package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/apierr"
)

// Core roles.
const (
	SuperUserRole     = "System Developer"
	AnonymousRole     = "Anonymous"
	AuthenticatedRole = "Authenticated"
)

// Privileges, one family per service.
const (
	GetPatients    = "Get Patients"
	AddPatients    = "Add Patients"
	EditPatients   = "Edit Patients"
	DeletePatients = "Delete Patients"
	PurgePatients  = "Purge Patients"
	MergePatients  = "Merge Patients"

	GetPatientIdentifiers      = "Get Patient Identifiers"
	ManageIdentifierTypes      = "Manage Identifier Types"
	GetPeople                  = "Get People"
	AddPeople                  = "Add People"
	EditPeople                 = "Edit People"
	DeletePeople               = "Delete People"
	PurgePeople                = "Purge People"
	ManagePersonAttributeTypes = "Manage Person Attribute Types"
	GetRelationships           = "Get Relationships"
	AddRelationships           = "Add Relationships"
	EditRelationships          = "Edit Relationships"
	DeleteRelationships        = "Delete Relationships"
	PurgeRelationships         = "Purge Relationships"
	ManageRelationshipTypes    = "Manage Relationship Types"

	GetProviders                 = "Get Providers"
	ManageProviders              = "Manage Providers"
	ManageProviderAttributeTypes = "Manage Provider Attribute Types"

	GetUsers          = "Get Users"
	AddUsers          = "Add Users"
	EditUsers         = "Edit Users"
	DeleteUsers       = "Delete Users"
	PurgeUsers        = "Purge Users"
	EditUserPasswords = "Edit User Passwords"
	ManageRoles       = "Manage Roles"
	ManagePrivileges  = "Manage Privileges"

	GetLocations       = "Get Locations"
	ManageLocations    = "Manage Locations"
	ManageLocationTags = "Manage Location Tags"

	GetVisits                 = "Get Visits"
	AddVisits                 = "Add Visits"
	EditVisits                = "Edit Visits"
	DeleteVisits              = "Delete Visits"
	PurgeVisits               = "Purge Visits"
	ManageVisitTypes          = "Manage Visit Types"
	ManageVisitAttributeTypes = "Manage Visit Attribute Types"

	GetEncounters        = "Get Encounters"
	AddEncounters        = "Add Encounters"
	EditEncounters       = "Edit Encounters"
	DeleteEncounters     = "Delete Encounters"
	PurgeEncounters      = "Purge Encounters"
	ManageEncounterTypes = "Manage Encounter Types"
	ManageEncounterRoles = "Manage Encounter Roles"

	GetObservations    = "Get Observations"
	AddObservations    = "Add Observations"
	EditObservations   = "Edit Observations"
	DeleteObservations = "Delete Observations"
	PurgeObservations  = "Purge Observations"

	GetOrders              = "Get Orders"
	AddOrders              = "Add Orders"
	EditOrders             = "Edit Orders"
	DeleteOrders           = "Delete Orders"
	PurgeOrders            = "Purge Orders"
	ManageOrderTypes       = "Manage Order Types"
	ManageCareSettings     = "Manage Care Settings"
	ManageOrderFrequencies = "Manage Order Frequencies"

	GetForms    = "Get Forms"
	ManageForms = "Manage Forms"

	GetPrograms           = "Get Programs"
	ManagePrograms        = "Manage Programs"
	GetPatientPrograms    = "Get Patient Programs"
	AddPatientPrograms    = "Add Patient Programs"
	EditPatientPrograms   = "Edit Patient Programs"
	DeletePatientPrograms = "Delete Patient Programs"
	PurgePatientPrograms  = "Purge Patient Programs"

	GetPatientCohorts = "Get Patient Cohorts"
	AddCohorts        = "Add Cohorts"
	EditCohorts       = "Edit Cohorts"
	DeleteCohorts     = "Delete Cohorts"

	GetConditions    = "Get Conditions"
	EditConditions   = "Edit Conditions"
	DeleteConditions = "Delete Conditions"

	GetDiagnoses    = "Get Diagnoses"
	EditDiagnoses   = "Edit Diagnoses"
	DeleteDiagnoses = "Delete Diagnoses"

	GetGlobalProperties    = "Get Global Properties"
	ManageGlobalProperties = "Manage Global Properties"
	ManageImplementationID = "Manage Implementation Id"
	ViewAdministration     = "View Administration Functions"

	GetStorage    = "Get Storage"
	ManageStorage = "Manage Storage"

	ManageSerializedObjects = "Manage Serialized Objects"
)

// PrivilegeResolver expands role names (including inherited roles) into the
// set of privilege names they grant.
type PrivilegeResolver interface {
	PrivilegesForRoles(ctx context.Context, roles []string) (map[string]bool, error)
}

// IsSuperUser reports whether the caller holds the superuser role.
func IsSuperUser(ctx context.Context) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == SuperUserRole {
			return true
		}
	}
	return false
}

// HasPrivilege reports whether the caller holds privilege p.
func HasPrivilege(ctx context.Context, p string) bool {
	if p == "" || IsSuperUser(ctx) {
		return true
	}
	return PrivilegesFromContext(ctx)[p]
}

// Check returns an apierr forbidden error unless the caller holds p.
// Contexts without an authenticated user (CLI, background jobs) pass.
func Check(ctx context.Context, p string) error {
	if UserIDFromContext(ctx) == "" || HasPrivilege(ctx, p) {
		return nil
	}
	return apierr.Forbidden(p)
}

// LoadPrivileges resolves the caller's roles into privileges once per request.
func LoadPrivileges(resolver PrivilegeResolver, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if UserIDFromContext(ctx) == "" || IsSuperUser(ctx) {
				return next(c)
			}
			roles := append([]string{AuthenticatedRole}, RolesFromContext(ctx)...)
			privs, err := resolver.PrivilegesForRoles(ctx, roles)
			if err != nil {
				logger.Error().Err(err).Str("user", UserIDFromContext(ctx)).Msg("resolve privileges")
				return apierr.HTTPError(err)
			}
			c.SetRequest(c.Request().WithContext(WithPrivileges(ctx, privs)))
			return next(c)
		}
	}
}

// RequirePrivilege returns middleware that checks the caller holds every
// listed privilege.
func RequirePrivilege(privileges ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, p := range privileges {
				if !HasPrivilege(ctx, p) {
					return apierr.HTTPError(apierr.Forbidden(strings.TrimSpace(p)))
				}
			}
			return next(c)
		}
	}
}
