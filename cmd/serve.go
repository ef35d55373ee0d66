package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-intel/internal/broker"
	"github.com/sells-group/prospect-intel/internal/export"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/monitoring"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
	"github.com/sells-group/prospect-intel/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job-state HTTP API",
	Long: `Serve the job API: queue analyses from uploaded spreadsheets, queue
scrape and probe jobs, poll job states, and read companies, statistics,
and competition around a company. With an in-process broker the server
also runs the jobs itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, dir := range []string{cfg.Server.UploadFolder, cfg.Server.ExportFolder} {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return eris.Wrapf(err, "serve: create %s", dir)
			}
		}

		bus := orchestrator.NewBus(cfg.Orchestrator.EventBuffer)
		registry := orchestrator.NewRegistry(bus.Sink())

		runWorker, _ := cmd.Flags().GetBool("worker")
		if cfg.Broker.URL == "" {
			runWorker = true
		}
		workerDone := make(chan struct{})
		if runWorker {
			w := &orchestrator.Worker{
				Broker:      env.Broker,
				Orch:        env.Orch,
				Registry:    registry,
				Name:        workerName("serve"),
				Poll:        cfg.Broker.PollInterval(),
				Concurrency: 1,
				Sink:        bus.Sink(),
			}
			go func() {
				defer close(workerDone)
				_ = w.Run(ctx)
			}()
		} else {
			close(workerDone)
		}

		collector := monitoring.NewCollector(env.Store, env.Fetcher.Breakers())
		go monitoring.NewRefresher(collector, env.Metrics, time.Minute).Run(ctx)

		srv := &server{
			store:     env.Store,
			broker:    env.Broker,
			metrics:   env.Metrics,
			registry:  registry,
			collector: collector,
			secret:    cfg.Server.SecretKey,
			uploadDir: cfg.Server.UploadFolder,
			exportDir: cfg.Server.ExportFolder,
			maxUpload: cfg.Server.MaxUploadBytes,
			localOnly: cfg.Server.RestrictToLocalNetwork,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Bool("worker", runWorker),
			zap.Bool("local_only", srv.localOnly),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &orchestrator.InfraError{Err: eris.Wrap(err, "server listen")}
		}
		<-workerDone
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().Bool("worker", false, "also execute queued jobs in this process (always on with the in-process broker)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the HTTP handlers' dependencies.
type server struct {
	store     store.Store
	broker    broker.Broker
	metrics   *monitoring.Metrics
	registry  *orchestrator.Registry
	collector *monitoring.Collector
	secret    string
	uploadDir string
	exportDir string
	maxUpload int64
	localOnly bool
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.localOnly {
		r.Use(localNetworkOnly)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.requireAdmin).Post("/jobs", s.handleEnqueue)
		r.With(s.requireAdmin).Post("/uploads", s.handleUpload)
		r.With(s.requireAdmin).Delete("/jobs/{id}", s.handleRevoke)
		r.With(s.requireAdmin).Get("/tasks", s.handleActive)
		r.Get("/jobs/{id}", s.handleJobState)

		r.With(s.requireCap(func(c model.TokenCaps) bool { return c.ReadCompanies })).Group(func(r chi.Router) {
			r.Get("/companies", s.handleCompanies)
			r.Get("/companies/export", s.handleExport)
			r.Get("/companies/{id}", s.handleCompany)
			r.Get("/companies/{id}/competition", s.handleCompetition)
		})
		r.With(s.requireCap(func(c model.TokenCaps) bool { return c.ReadStats })).Get("/stats", s.handleStats)
		r.With(s.requireCap(func(c model.TokenCaps) bool { return c.ReadGroups })).Get("/groups", s.handleGroups)
	})
	return r
}

// -- auth --

type ctxKey int

const principalKey ctxKey = iota

// principal is the authenticated caller: the admin holding the secret
// key, or an API token with its capabilities.
type principal struct {
	admin bool
	token *model.APIToken
}

func (p principal) can(check func(model.TokenCaps) bool) bool {
	return p.admin || (p.token != nil && check(p.token.Caps))
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		var p principal
		if s.secret != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(s.secret)) == 1 {
			p.admin = true
		} else {
			tok, err := s.store.ValidateToken(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					zap.L().Error("serve: validate token", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "token validation failed")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			p.token = tok
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func principalFrom(r *http.Request) principal {
	p, _ := r.Context().Value(principalKey).(principal)
	return p
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r).admin {
			writeError(w, http.StatusForbidden, "admin key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requireCap(check func(model.TokenCaps) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !principalFrom(r).can(check) {
				writeError(w, http.StatusForbidden, "token lacks capability")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// localNetworkOnly rejects clients outside loopback and private ranges.
func localNetworkOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalAddr(r.RemoteAddr) {
			writeError(w, http.StatusForbidden, "access restricted to the local network")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalAddr(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

// -- handlers --

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.store != nil {
		if _, err := s.store.Statistics(r.Context(), nil); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
		}
	}
	writeJSONResponse(w, http.StatusOK, status)
}

type enqueueRequest struct {
	Kind      model.JobKind `json:"kind"`
	CompanyID int64         `json:"company_id"`
	Probes    []string      `json:"probes"`
	// Filename names a spreadsheet already in the upload folder.
	Filename string `json:"filename"`
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var payload map[string]any
	switch req.Kind {
	case model.JobAnalyze:
		name := filepath.Base(req.Filename)
		if req.Filename == "" || name != req.Filename {
			writeError(w, http.StatusBadRequest, "filename must name a file in the upload folder")
			return
		}
		path := filepath.Join(s.uploadDir, name)
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusBadRequest, "unknown upload "+name)
			return
		}
		payload = orchestrator.AnalyzePayload(path)
	case model.JobScrape, model.JobProbe:
		if req.CompanyID <= 0 {
			writeError(w, http.StatusBadRequest, "company_id is required")
			return
		}
		if _, err := s.store.GetCompany(r.Context(), req.CompanyID); err != nil {
			writeStoreError(w, err)
			return
		}
		probes, err := orchestrator.ParseProbes(req.Probes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload = orchestrator.CompanyPayload(req.CompanyID, probes)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job kind %q", req.Kind))
		return
	}

	s.enqueue(w, r, req.Kind, payload)
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, kind model.JobKind, payload map[string]any) {
	job, err := s.broker.Enqueue(r.Context(), kind, payload)
	if err != nil {
		zap.L().Error("serve: enqueue", zap.String("kind", string(kind)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"kind":   job.Kind,
		"state":  job.State.State,
	})
}

var uploadExts = map[string]bool{".xlsx": true, ".csv": true}

// handleUpload stores a multipart "file" in the upload folder and queues
// its analysis.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !uploadExts[ext] {
		writeError(w, http.StatusBadRequest, "only .xlsx and .csv files are accepted")
		return
	}
	name := uuid.NewString() + "_" + sanitizeFilename(hdr.Filename)
	path := filepath.Join(s.uploadDir, name)
	out, err := os.Create(path)
	if err != nil {
		zap.L().Error("serve: create upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		writeError(w, http.StatusBadRequest, "upload interrupted")
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot store upload")
		return
	}
	s.enqueue(w, r, model.JobAnalyze, orchestrator.AnalyzePayload(path))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

func (s *server) handleJobState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.broker.State(r.Context(), id)
	if err != nil {
		if errors.Is(err, broker.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		zap.L().Error("serve: job state", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	if !principalFrom(r).admin {
		st.Meta.Result = nil
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"job_id": id, "state": st.State, "meta": st.Meta, "updated_at": st.UpdatedAt})
}

// handleRevoke marks the job REVOKED and stops it when this process runs it.
func (s *server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.broker.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, broker.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}
	stopped := s.registry != nil && s.registry.Stop(id)
	writeJSONResponse(w, http.StatusOK, map[string]any{"job_id": id, "revoked": true, "stopped": stopped})
}

func (s *server) handleActive(w http.ResponseWriter, _ *http.Request) {
	var active []orchestrator.TaskInfo
	if s.registry != nil {
		active = s.registry.Active()
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tasks": active})
}

func (s *server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	filter, err := companyFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	companies, total, err := s.store.ListCompanies(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !principalFrom(r).can(func(c model.TokenCaps) bool { return c.ReadEmails }) {
		for i := range companies {
			redactContacts(&companies[i])
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"companies": companies, "total": total})
}

func (s *server) handleCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	c, err := s.store.GetCompany(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !principalFrom(r).can(func(c model.TokenCaps) bool { return c.ReadEmails }) {
		redactContacts(c)
	}
	writeJSONResponse(w, http.StatusOK, c)
}

// handleExport streams the filtered companies as CSV, or as XLSX with
// ?format=xlsx. XLSX files are written to the export folder first.
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := companyFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	companies, _, err := s.store.ListCompanies(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	opts := export.Options{OmitEmails: !principalFrom(r).can(func(c model.TokenCaps) bool { return c.ReadEmails })}

	if r.URL.Query().Get("format") == "xlsx" {
		path := filepath.Join(s.exportDir, "companies_"+time.Now().UTC().Format("20060102_150405")+"_"+uuid.NewString()[:8]+".xlsx")
		if err := export.WriteXLSX(path, companies, opts); err != nil {
			zap.L().Error("serve: export xlsx", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
		http.ServeFile(w, r, path)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="companies.csv"`)
	if err := export.WriteCSV(w, companies, opts); err != nil {
		zap.L().Warn("serve: export csv", zap.Error(err))
	}
}

func (s *server) handleCompetition(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	radius := 10.0
	if raw := r.URL.Query().Get("radius_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 500 {
			writeError(w, http.StatusBadRequest, "radius_km must be in (0, 500]")
			return
		}
		radius = v
	}
	comp, err := s.store.Competition(r.Context(), id, radius)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !principalFrom(r).can(func(c model.TokenCaps) bool { return c.ReadEmails }) {
		redactContacts(&comp.Reference)
		for i := range comp.Competitors {
			redactContacts(&comp.Competitors[i].Company)
		}
	}
	writeJSONResponse(w, http.StatusOK, comp)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	var analysisID *int64
	if raw := r.URL.Query().Get("analysis_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid analysis_id")
			return
		}
		analysisID = &v
	}
	snap, err := s.collector.Collect(r.Context(), analysisID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, snap)
}

func (s *server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"groups": groups})
}

// -- helpers --

func companyFilterFromQuery(r *http.Request) (store.CompanyFilter, error) {
	q := r.URL.Query()
	f := store.CompanyFilter{
		Sector:      q.Get("sector"),
		Status:      q.Get("status"),
		Opportunity: q.Get("opportunity"),
		Search:      q.Get("search"),
	}
	ints := []struct {
		key string
		dst **int
	}{
		{"security_min", &f.SecurityMin},
		{"security_max", &f.SecurityMax},
		{"pentest_min", &f.PentestMin},
		{"pentest_max", &f.PentestMax},
	}
	for _, p := range ints {
		if raw := q.Get(p.key); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return f, eris.Errorf("invalid %s", p.key)
			}
			*p.dst = &v
		}
	}
	for key, dst := range map[string]**int64{"analysis_id": &f.AnalysisID, "group_id": &f.GroupID} {
		if raw := q.Get(key); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return f, eris.Errorf("invalid %s", key)
			}
			*dst = &v
		}
	}
	if raw := q.Get("favorite"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, eris.New("invalid favorite")
		}
		f.Favorite = &v
	}
	f.Limit = 100
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 1000 {
			return f, eris.New("limit must be in [0, 1000]")
		}
		f.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, eris.New("invalid offset")
		}
		f.Offset = v
	}
	return f, nil
}

func redactContacts(c *model.Company) {
	c.Email = ""
	c.Responsible = ""
	c.Phone = ""
}

func urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, store.ErrNoCoordinates):
		writeError(w, http.StatusUnprocessableEntity, "company has no coordinates")
		return
	}
	zap.L().Error("serve: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func workerName(prefix string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, host, os.Getpid())
}
