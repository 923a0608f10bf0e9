package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
	"github.com/angeloszaimis/driftwatch/internal/handler"
	"github.com/angeloszaimis/driftwatch/internal/ratelimit"
	"github.com/angeloszaimis/driftwatch/internal/schema"
	"github.com/angeloszaimis/driftwatch/internal/store"
	"github.com/angeloszaimis/driftwatch/internal/transport"
)

type fakeTarget struct{}

func (fakeTarget) Stats() transport.Stats {
	return transport.Stats{BaseURL: "https://pokeapi.co/api/v2", Healthy: true, Attempts: 7}
}

var _ = Describe("AdminHandler", func() {
	var (
		router   *chi.Mux
		breakers *circuitbreaker.Registry
		st       store.Store
		limiter  *ratelimit.Limiter
		logs     *bytes.Buffer
	)

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, into any) {
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(json.Unmarshal(rec.Body.Bytes(), into)).To(Succeed())
	}

	BeforeEach(func() {
		logs = &bytes.Buffer{}
		log := slog.New(slog.NewTextHandler(logs, nil))

		var err error
		breakers, err = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 0.5,
			Timeout:          time.Hour,
			WindowSize:       1,
			WindowDuration:   time.Hour,
			SuccessThreshold: 1,
		})
		Expect(err).NotTo(HaveOccurred())

		limiter, err = ratelimit.New(60, time.Minute)
		Expect(err).NotTo(HaveOccurred())

		st = store.NewMemory()

		h := handler.NewAdminHandler(log, breakers, limiter, st, fakeTarget{})
		router = chi.NewRouter()
		router.Use(handler.RequestLogger(log))
		router.Get("/healthz", h.Health)
		router.Get("/api/breakers", h.Breakers)
		router.Post("/api/breakers/{endpoint}/reset", h.ResetBreaker)
		router.Get("/api/limiter", h.Limiter)
		router.Get("/api/target", h.Target)
		router.Get("/api/schemas/{endpoint}", h.LatestSchema)
		router.Get("/api/schemas/{endpoint}/history", h.SchemaHistory)
	})

	Describe("GET /healthz", func() {
		It("should report ok with the store driver", func() {
			rec := serve(http.MethodGet, "/healthz")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body handler.HealthResponse
			decode(rec, &body)
			Expect(body.Status).To(Equal("ok"))
			Expect(body.Store).To(Equal(store.DriverMemory))
		})

		It("should log the request", func() {
			serve(http.MethodGet, "/healthz")
			Expect(logs.String()).To(ContainSubstring("Served request"))
			Expect(logs.String()).To(ContainSubstring("status=200"))
		})
	})

	Describe("breakers", func() {
		BeforeEach(func() {
			breakers.GetBreaker("pokemon").RecordFailure()
			breakers.GetBreaker("type").RecordSuccess()
		})

		It("should list breaker stats by endpoint", func() {
			rec := serve(http.MethodGet, "/api/breakers")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]circuitbreaker.Stats
			decode(rec, &body)
			Expect(body).To(HaveKey("type"))
			Expect(body["pokemon"].StateName).To(Equal("OPEN"))
			Expect(body["pokemon"].StateValue).To(Equal(1))
			Expect(body["type"].StateName).To(Equal("CLOSED"))
		})

		It("should reset a known breaker", func() {
			rec := serve(http.MethodPost, "/api/breakers/pokemon/reset")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body handler.ResetResponse
			decode(rec, &body)
			Expect(body).To(Equal(handler.ResetResponse{Endpoint: "pokemon", State: "CLOSED"}))
			Expect(breakers.GetBreaker("pokemon").IsOpen()).To(BeFalse())
		})

		It("should return 404 for an unknown breaker", func() {
			rec := serve(http.MethodPost, "/api/breakers/berry/reset")
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			_, exists := breakers.Lookup("berry")
			Expect(exists).To(BeFalse())
		})

		It("should reject GET on the reset route", func() {
			rec := serve(http.MethodGet, "/api/breakers/pokemon/reset")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("GET /api/limiter", func() {
		It("should report the token bucket", func() {
			rec := serve(http.MethodGet, "/api/limiter")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body handler.LimiterResponse
			decode(rec, &body)
			Expect(body.Capacity).To(Equal(60.0))
			Expect(body.RefillRate).To(BeNumerically("~", 1.0, 1e-9))
			Expect(body.AvailableTokens).To(BeNumerically("~", 60.0, 0.01))
		})
	})

	Describe("GET /api/target", func() {
		It("should report client stats", func() {
			rec := serve(http.MethodGet, "/api/target")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body transport.Stats
			decode(rec, &body)
			Expect(body.Attempts).To(Equal(int64(7)))
			Expect(body.Healthy).To(BeTrue())
		})
	})

	Describe("schemas", func() {
		It("should return 404 when nothing is stored", func() {
			rec := serve(http.MethodGet, "/api/schemas/pokemon")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		Context("with stored versions", func() {
			BeforeEach(func() {
				ctx := context.Background()
				for _, fields := range []map[string]string{
					{"id": "int"},
					{"id": "int", "name": "str"},
					{"id": "str", "name": "str"},
				} {
					_, err := st.StoreSchema(ctx, "pokemon", schema.NewSnapshot(fields))
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("should return the latest version", func() {
				rec := serve(http.MethodGet, "/api/schemas/pokemon")
				Expect(rec.Code).To(Equal(http.StatusOK))

				var body store.SchemaRecord
				decode(rec, &body)
				Expect(body.Endpoint).To(Equal("pokemon"))
				Expect(body.Snapshot.Map()).To(Equal(map[string]string{"id": "str", "name": "str"}))
			})

			It("should return history newest first", func() {
				rec := serve(http.MethodGet, "/api/schemas/pokemon/history")
				Expect(rec.Code).To(Equal(http.StatusOK))

				var body []store.SchemaRecord
				decode(rec, &body)
				Expect(body).To(HaveLen(3))
				Expect(body[0].ID).To(BeNumerically(">", body[2].ID))
			})

			It("should honour the limit parameter", func() {
				rec := serve(http.MethodGet, "/api/schemas/pokemon/history?limit=2")
				Expect(rec.Code).To(Equal(http.StatusOK))

				var body []store.SchemaRecord
				decode(rec, &body)
				Expect(body).To(HaveLen(2))
			})

			It("should reject an invalid limit", func() {
				rec := serve(http.MethodGet, "/api/schemas/pokemon/history?limit=-1")
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})

		It("should return an empty history as an array", func() {
			rec := serve(http.MethodGet, "/api/schemas/berry/history")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
		})
	})
})
