package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/liscrape/internal/adapters/http/api"
	"github.com/okian/liscrape/internal/adapters/mq/queue"
	service "github.com/okian/liscrape/internal/app"
	"github.com/okian/liscrape/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDeps implements api.Dependencies.
type mockDeps struct {
	submitted   []string
	result      model.SubmitResult
	err         error
	stats       service.Stats
	cleared     bool
	removed     bool
	maintainErr error
}

func (m *mockDeps) Submit(ctx context.Context, raw string) (model.SubmitResult, error) {
	m.submitted = append(m.submitted, raw)
	if m.err != nil {
		return model.SubmitResult{}, m.err
	}
	if _, err := model.ParseProfileID(raw); err != nil {
		return model.SubmitResult{}, fmt.Errorf("submit: %w", err)
	}
	return m.result, nil
}

func (m *mockDeps) Stats() service.Stats { return m.stats }

func (m *mockDeps) ClearHistory(ctx context.Context) error {
	m.cleared = true
	return m.maintainErr
}

func (m *mockDeps) RemoveContacts(ctx context.Context) error {
	m.removed = true
	return m.maintainErr
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(rec.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestProfilesEndpoint(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{result: model.SubmitResult{ProfileID: "jdoe", Status: model.Accepted}}
		router := api.NewServer(deps).Router()

		Convey("When a profile url is posted", func() {
			rec := do(router, http.MethodPost, "/profiles", `{"url":"https://www.linkedin.com/in/jdoe/"}`)

			Convey("Then it is accepted", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				body := decode(rec)
				So(body["status"], ShouldEqual, "accepted")
				So(body["profile_id"], ShouldEqual, "jdoe")
				So(deps.submitted, ShouldResemble, []string{"https://www.linkedin.com/in/jdoe/"})
			})
		})

		Convey("When the quota is exhausted", func() {
			deps.result = model.SubmitResult{ProfileID: "jdoe", Status: model.RateLimited, RetryAfter: 42*time.Minute + time.Second}
			rec := do(router, http.MethodPost, "/profiles", `{"url":"jdoe"}`)

			Convey("Then 429 carries the wait in minutes", func() {
				So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
				So(decode(rec)["retry_after_minutes"], ShouldEqual, 43)
				So(rec.Header().Get("Retry-After"), ShouldEqual, "2580")
			})
		})

		Convey("When the body is not JSON", func() {
			rec := do(router, http.MethodPost, "/profiles", `nope`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.submitted, ShouldBeEmpty)
		})

		Convey("When the url has no profile id", func() {
			rec := do(router, http.MethodPost, "/profiles", `{"url":"  "}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(rec)["code"], ShouldEqual, "invalid_profile")
		})

		Convey("When the pipeline is stopping", func() {
			deps.err = fmt.Errorf("enqueue: %w", queue.ErrStopped)
			rec := do(router, http.MethodPost, "/profiles", `{"url":"jdoe"}`)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the controller fails unexpectedly", func() {
			deps.err = errors.New("boom")
			rec := do(router, http.MethodPost, "/profiles", `{"url":"jdoe"}`)
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When using the wrong method", func() {
			rec := do(router, http.MethodGet, "/profiles", "")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestReadEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{stats: service.Stats{Session: 3, Total: 10, Limit: 90, SinkPath: "linkedin_scrape.xlsx", Started: true}}
		router := api.NewServer(deps).Router()

		Convey("When requesting stats", func() {
			rec := do(router, http.MethodGet, "/stats", "")

			Convey("Then the snapshot is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				body := decode(rec)
				So(body["session"], ShouldEqual, 3)
				So(body["total"], ShouldEqual, 10)
				So(body["hourly_limit"], ShouldEqual, 90)
				So(body["sheet_path"], ShouldEqual, "linkedin_scrape.xlsx")
			})
		})

		Convey("When requesting health", func() {
			rec := do(router, http.MethodGet, "/healthz", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["status"], ShouldEqual, "ok")
		})

		Convey("When requesting metrics after some traffic", func() {
			do(router, http.MethodGet, "/healthz", "")
			rec := do(router, http.MethodGet, "/metrics", "")

			Convey("Then the exposition includes HTTP counters", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "liscrape_")
			})
		})
	})
}

func TestMaintenanceEndpoints(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{}
		router := api.NewServer(deps).Router()

		Convey("When clearing history", func() {
			rec := do(router, http.MethodDelete, "/history", "")
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(deps.cleared, ShouldBeTrue)
		})

		Convey("When removing contacts", func() {
			rec := do(router, http.MethodDelete, "/contacts", "")
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(deps.removed, ShouldBeTrue)
		})

		Convey("When maintenance fails", func() {
			deps.maintainErr = errors.New("read-only file system")
			rec := do(router, http.MethodDelete, "/contacts", "")
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}
