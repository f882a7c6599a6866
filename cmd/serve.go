package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/resilience"
	"github.com/dramcove/catalog-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for processing and catalog queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/process", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL             string `json:"url"`
			ProductTypeHint string `json:"product_type_hint"`
			DiscoverySource string `json:"discovery_source"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}
		if body.DiscoverySource == "" {
			body.DiscoverySource = "api"
		}

		res, err := env.Pipeline.Process(req.Context(), body.URL, pipeline.Context{
			ProductTypeHint: body.ProductTypeHint,
			DiscoverySource: body.DiscoverySource,
		})
		if err != nil {
			zap.L().Error("api: process failed", zap.String("url", body.URL), zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"fingerprint": res.Record.Fingerprint,
			"name":        res.Record.Name,
			"status":      res.Status,
			"score":       res.Record.CompletenessScore,
			"sources":     res.Record.SourceCount,
			"is_new":      res.IsNew,
			"tier_used":   res.TierUsed,
			"conflicts":   len(res.Conflicts),
		})
	})

	r.Post("/records/{fingerprint}/enrich", func(w http.ResponseWriter, req *http.Request) {
		fp := chi.URLParam(req, "fingerprint")
		rec, err := env.Store.GetByFingerprint(req.Context(), fp)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
			return
		}

		res, err := env.Enricher.Enrich(req.Context(), rec)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		minScore, _ := strconv.Atoi(q.Get("min_score"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		records, err := env.Store.ListRecords(req.Context(), store.RecordFilter{
			Status:      model.Status(q.Get("status")),
			Brand:       q.Get("brand"),
			ProductType: q.Get("type"),
			MinScore:    minScore,
			Limit:       limit,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	r.Get("/records/{fingerprint}", func(w http.ResponseWriter, req *http.Request) {
		fp := chi.URLParam(req, "fingerprint")
		rec, err := env.Store.GetByFingerprint(req.Context(), fp)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
			return
		}
		conflicts, err := env.Store.ListConflicts(req.Context(), fp)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		rec.Conflicts = conflicts
		writeJSON(w, http.StatusOK, rec)
	})

	r.Get("/dlq", func(w http.ResponseWriter, req *http.Request) {
		entries, err := env.Store.ListDLQ(req.Context(), resilience.DLQFilter{
			ErrorType: req.URL.Query().Get("error_type"),
			Domain:    req.URL.Query().Get("domain"),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
