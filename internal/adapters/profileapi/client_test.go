package profileapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/liscrape/internal/adapters/profileapi"
	"github.com/okian/liscrape/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func newGateway(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func TestNew(t *testing.T) {
	Convey("Given client settings", t, func() {
		Convey("When no token is configured", func() {
			_, err := profileapi.New("http://127.0.0.1:1")
			So(errors.Is(err, profileapi.ErrAuthFailure), ShouldBeTrue)
		})

		Convey("When the gateway url is not absolute", func() {
			_, err := profileapi.New("not a url", profileapi.WithToken("t"))
			So(errors.Is(err, profileapi.ErrAuthFailure), ShouldBeTrue)
		})

		Convey("When everything is set", func() {
			c, err := profileapi.New("http://127.0.0.1:1/", profileapi.WithToken("t"))
			So(err, ShouldBeNil)
			So(c, ShouldNotBeNil)
		})
	})
}

func TestClientFetch(t *testing.T) {
	Convey("Given a gateway serving jdoe", t, func() {
		var auth atomic.Value
		srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			auth.Store(r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/v1/profiles/jdoe":
				_, _ = w.Write([]byte(`{"firstName":"Jane","lastName":"Doe","profile_id":"jdoe","languages":[{"name":"English"}]}`))
			case "/v1/profiles/jdoe/contact-info":
				_, _ = w.Write([]byte(`{"email_address":"jane@example.com","phone_numbers":[]}`))
			default:
				http.NotFound(w, r)
			}
		})
		Reset(srv.Close)

		c, err := profileapi.New(srv.URL+"/v1", profileapi.WithToken("secret"))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When fetching the profile", func() {
			p, err := c.FetchProfile(ctx, "jdoe")

			Convey("Then the known keys are decoded and the token is sent", func() {
				So(err, ShouldBeNil)
				So(p.FirstName, ShouldResemble, model.Set("Jane"))
				So(p.ProfileID.Value, ShouldEqual, "jdoe")
				So(p.Headline.Present, ShouldBeFalse)
				So(auth.Load(), ShouldEqual, "Bearer secret")
			})
		})

		Convey("When fetching contact info", func() {
			ci, err := c.FetchContactInfo(ctx, "jdoe")
			So(err, ShouldBeNil)
			So(ci.EmailAddress.Value, ShouldEqual, "jane@example.com")
			So(ci.Birthdate.Present, ShouldBeFalse)
		})

		Convey("When the profile does not exist", func() {
			_, err := c.FetchProfile(ctx, "ghost")
			So(errors.Is(err, profileapi.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestClientRetry(t *testing.T) {
	Convey("Given a flaky gateway", t, func() {
		var calls, status atomic.Int32
		status.Store(http.StatusBadGateway)
		srv := newGateway(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(int(status.Load()))
				return
			}
			_, _ = w.Write([]byte(`{"profile_id":"jdoe"}`))
		})
		Reset(srv.Close)
		ctx := context.Background()

		Convey("When retries cover the failures", func() {
			c, _ := profileapi.New(srv.URL, profileapi.WithToken("t"), profileapi.WithRetry(2, time.Millisecond))
			p, err := c.FetchProfile(ctx, "jdoe")

			Convey("Then the call eventually succeeds", func() {
				So(err, ShouldBeNil)
				So(p.ProfileID.Value, ShouldEqual, "jdoe")
				So(calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When retries run out", func() {
			c, _ := profileapi.New(srv.URL, profileapi.WithToken("t"), profileapi.WithRetry(1, time.Millisecond))
			_, err := c.FetchProfile(ctx, "jdoe")

			Convey("Then the upstream error is returned", func() {
				So(errors.Is(err, profileapi.ErrUpstream), ShouldBeTrue)
				So(calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the token is rejected", func() {
			status.Store(http.StatusUnauthorized)
			c, _ := profileapi.New(srv.URL, profileapi.WithToken("t"), profileapi.WithRetry(3, time.Millisecond))
			_, err := c.FetchProfile(ctx, "jdoe")

			Convey("Then it fails at once", func() {
				So(errors.Is(err, profileapi.ErrAuthFailure), ShouldBeTrue)
				So(calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When the body is not JSON", func() {
			bad := newGateway(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("<", 3)))
			})
			defer bad.Close()
			c, _ := profileapi.New(bad.URL, profileapi.WithToken("t"))
			_, err := c.FetchProfile(ctx, "jdoe")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSampleFetcher(t *testing.T) {
	Convey("Given the sample fetcher", t, func() {
		var f profileapi.SampleFetcher
		p, err := f.FetchProfile(context.Background(), "anything")
		So(err, ShouldBeNil)
		So(p.FirstName.Value, ShouldEqual, "SpongeBob")
		So(p.ProfileID.Value, ShouldStartWith, "DEBUG-")

		ci, err := f.FetchContactInfo(context.Background(), "anything")
		So(err, ShouldBeNil)
		So(ci.EmailAddress.Present, ShouldBeTrue)
	})
}
