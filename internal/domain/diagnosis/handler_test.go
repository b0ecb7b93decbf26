package diagnosis

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHandler_Queries(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	primary := f.diagnose(t, f.first, "MALARIA", 1, CertaintyConfirmed)
	secondary := f.diagnose(t, f.second, "ANEMIA", 2, CertaintyProvisional)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?primaryOnly=true", nil), rec)
	c.SetParamNames("visit")
	c.SetParamValues(f.visit.String())
	if err := h.ByVisit(c); err != nil {
		t.Fatal(err)
	}
	if body := rec.Body.String(); !strings.Contains(body, primary.ID.String()) || strings.Contains(body, secondary.ID.String()) {
		t.Errorf("expected only the primary diagnosis: %s", body)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/diagnosis?unique=true&patient="+f.patient.String(), nil), rec)
	if err := h.ByPatient(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || strings.Count(rec.Body.String(), `"encounter_id"`) != 2 {
		t.Errorf("unexpected patient diagnoses %d %s", rec.Code, rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/diagnosis?fromdate=yesterday&patient="+f.patient.String(), nil), httptest.NewRecorder())
	if he, ok := h.ByPatient(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad date, got %v", he)
	}
}
