package obs

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/domain/base"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_ObsLifecycle(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc, base.NewStaticProperties(nil)), echo.New()

	at := f.now.Add(-time.Hour).Format(time.RFC3339)
	body := `{"person_id":"` + f.person.String() + `","concept":"WEIGHT","obs_datetime":"` + at + `","value_numeric":70}`
	rec := httptest.NewRecorder()
	if err := h.SaveObs(e.NewContext(jsonRequest(http.MethodPost, "/api/v1/obs", body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var created Obs
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	edit := `{"person_id":"` + f.person.String() + `","concept":"WEIGHT","obs_datetime":"` + at + `","value_numeric":71}`
	c := e.NewContext(jsonRequest(http.MethodPut, "/", edit), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if he, ok := h.SaveObs(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a change message, got %v", he)
	}

	edit = strings.TrimSuffix(edit, "}") + `,"change_message":"typo"}`
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPut, "/", edit), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.SaveObs(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"previous_version_id":"`+created.ID.String()) {
		t.Errorf("expected a new version: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.CountObs(e.NewContext(httptest.NewRequest(http.MethodGet, "/?person="+f.person.String()+"&concept=WEIGHT", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"count":1}` {
		t.Errorf("unexpected count %s", rec.Body.String())
	}
}

func TestHandler_ComplexObs(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc, base.NewStaticProperties(nil)), echo.New()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("obs", `{"person_id":"`+f.person.String()+`","concept":"NOTE"}`)
	part, _ := w.CreateFormFile("file", "note.txt")
	_, _ = part.Write([]byte("scanned note"))
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/obs/complex", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	if err := h.SaveComplexObs(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var o Obs
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(o.ID.String())
	if err := h.GetComplexData(c); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "scanned note" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "note.txt") {
		t.Errorf("expected the filename in the disposition header")
	}
}
