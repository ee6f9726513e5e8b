package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/auth"
	"plant-sage/backend/internal/catalog"
	"plant-sage/backend/internal/governor"
	"plant-sage/backend/internal/rules"
	"plant-sage/backend/internal/sage"
	"plant-sage/backend/internal/store"
	"plant-sage/backend/internal/telemetry"
	"plant-sage/backend/internal/throttle"
)

const actorKey = "actor"

// Config defines server dependencies.
type Config struct {
	DatabaseURL       string
	SilentDB          bool
	CatalogSeedPath   string
	AllowedOrigins    []string
	AIConfig          ai.Config
	Policies          ai.Policies
	HTTPClient        ai.Doer
	JWTSecret         string
	JWTIssuer         string
	DevActor          string
	RedisURL          string
	ThrottlePerMinute int
}

// Server wires HTTP handlers with the advisory pipeline and persistence.
type Server struct {
	db             *store.Database
	catalog        *catalog.Service
	client         *ai.Client
	advisor        *sage.Advisor
	recognizer     *sage.Recognizer
	notifier       *telemetry.Notifier
	resolver       auth.Resolver
	limiter        throttle.Limiter
	allowedOrigins []string
	closers        []func() error
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("database url required")
	}
	db, err := store.Open(cfg.DatabaseURL, cfg.SilentDB)
	if err != nil {
		return nil, err
	}
	server := &Server{
		db:             db,
		catalog:        catalog.NewService(db),
		notifier:       telemetry.NewNotifier(),
		allowedOrigins: cfg.AllowedOrigins,
		closers:        []func() error{db.Close},
	}

	if err := server.loadCatalog(cfg.CatalogSeedPath); err != nil {
		_ = server.Close()
		return nil, err
	}

	client, err := ai.NewClient(cfg.AIConfig, ai.NewExecutor(cfg.HTTPClient))
	switch {
	case errors.Is(err, ai.ErrDisabled):
		logrus.Warn("model access not configured; only deterministic answers are available")
	case err != nil:
		_ = server.Close()
		return nil, fmt.Errorf("ai client: %w", err)
	default:
		server.client = client
		logrus.WithField("model", client.Model()).Info("model access enabled")
	}

	if server.resolver, err = buildResolver(cfg); err != nil {
		_ = server.Close()
		return nil, err
	}
	server.limiter = server.buildLimiter(cfg)

	policies := cfg.Policies
	if policies.Advisory.Name == "" || policies.Recognition.Name == "" {
		policies = ai.DefaultPolicies()
	}
	opts := sage.Options{
		Matcher:  rules.MustDefault(),
		Policies: policies,
		Sink:     telemetry.Multi(telemetry.LogSink{}, telemetry.NewStoreSink(db), server.notifier),
		Catalog:  server.catalog,
	}
	if server.client != nil {
		opts.Provider = server.client
	}
	server.advisor = sage.NewAdvisor(opts)
	server.recognizer = sage.NewRecognizer(opts)
	return server, nil
}

func (s *Server) loadCatalog(path string) error {
	if path = strings.TrimSpace(path); path != "" {
		n, err := s.catalog.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		logrus.WithFields(logrus.Fields{"path": path, "plants": n}).Info("catalog imported")
		return nil
	}
	n, err := s.catalog.SeedDefaults()
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logrus.WithFields(logrus.Fields{"seeded": n, "plants": s.catalog.Count()}).Info("catalog ready")
	return nil
}

func buildResolver(cfg Config) (auth.Resolver, error) {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		resolver, err := auth.NewJWTResolver(secret, cfg.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("jwt resolver: %w", err)
		}
		return resolver, nil
	}
	actor := strings.TrimSpace(cfg.DevActor)
	if actor == "" {
		actor = "local"
	}
	logrus.WithField("actor", actor).Warn("AUTH_JWT_SECRET not set; every caller is treated as the dev actor")
	return auth.StaticResolver{Actor: auth.Actor{ID: actor}}, nil
}

func (s *Server) buildLimiter(cfg Config) throttle.Limiter {
	if cfg.ThrottlePerMinute <= 0 {
		return nil
	}
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		client, err := throttle.Connect(context.Background(), url)
		if err == nil {
			s.closers = append(s.closers, client.Close)
			logrus.WithField("per_minute", cfg.ThrottlePerMinute).Info("redis throttle enabled")
			return throttle.NewRedisLimiter(client, cfg.ThrottlePerMinute, time.Minute)
		}
		logrus.WithError(err).Warn("redis unavailable; throttling in process")
	}
	return throttle.NewMemoryLimiter(cfg.ThrottlePerMinute, time.Minute)
}

// Close releases the database and any throttle connection.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.GET("/rules", s.handleRules)
		api.GET("/catalog", s.handleCatalog)
		api.GET("/catalog/match", s.handleCatalogMatch)
		api.GET("/telemetry/events", s.handleEvents)
		api.GET("/telemetry/summary", s.handleSummary)
		api.GET("/telemetry/stream", s.handleTelemetryStream)
	}

	guarded := r.Group("/api", s.authenticate, throttle.Middleware(s.limiter, actorOrIP))
	{
		guarded.POST("/sage/ask", s.handleAsk)
		guarded.POST("/plants/recognize", s.handleRecognize)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{
		ProviderConfigured: s.client.Enabled(),
		Model:              s.client.Model(),
		Policies: []PolicyDTO{
			PolicyFromModel(s.advisor.Policy()),
			PolicyFromModel(s.recognizer.Policy()),
		},
		RuleCount:   len(s.advisor.Matcher().Rules()),
		CatalogSize: s.catalog.Count(),
		Database:    s.db.Driver(),
		Throttled:   s.limiter != nil,
	})
}

func (s *Server) handleRules(c *gin.Context) {
	table := s.advisor.Matcher().Rules()
	dtos := make([]RuleDTO, 0, len(table))
	for _, rule := range table {
		dtos = append(dtos, RuleFromModel(rule))
	}
	c.JSON(http.StatusOK, gin.H{"items": dtos})
}

func (s *Server) handleCatalog(c *gin.Context) {
	page, pageSize := pagination(c, 50)
	rows, total, err := s.db.ListCatalog(page*pageSize, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	dtos := make([]CatalogPlantDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, CatalogPlantFromModel(row))
	}
	c.JSON(http.StatusOK, CatalogResponse{Items: dtos, Total: total})
}

func (s *Server) handleCatalogMatch(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		s.renderError(c, http.StatusBadRequest, "name_required", errors.New("name query parameter is required"))
		return
	}
	m, ok := s.catalog.BestMatch(name)
	if !ok {
		s.renderError(c, http.StatusNotFound, "not_found", fmt.Errorf("no catalog plant matches %q", name))
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleEvents(c *gin.Context) {
	page, pageSize := pagination(c, 25)
	rows, total, err := s.db.ListEvents(store.EventQuery{
		Flow:   c.Query("flow"),
		State:  c.Query("state"),
		Actor:  c.Query("actor"),
		Offset: page * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	items := make([]telemetry.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, telemetry.FromRow(row))
	}
	c.JSON(http.StatusOK, EventsResponse{Items: items, Total: total})
}

func (s *Server) handleSummary(c *gin.Context) {
	counts, err := s.db.CountEventsByState()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if counts == nil {
		counts = []store.StateCount{}
	}
	c.JSON(http.StatusOK, SummaryResponse{States: counts})
}

func (s *Server) handleAsk(c *gin.Context) {
	raw, err := readBody(c, governor.MaxAdvisoryBodyBytes)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, string(governor.KindInvalidBody), err)
		return
	}
	out := s.advisor.Ask(c.Request.Context(), raw, actorID(c))
	c.Header("X-Request-ID", out.RequestID)
	if out.Err == nil {
		c.JSON(http.StatusOK, out.Verdict)
		return
	}

	status, code := statusFor(out.Err)
	resp := ErrorResponse{Error: publicMessage(out.Err), Code: code, RequestID: out.RequestID}
	if out.State != sage.StateRejected {
		fallback := out.Verdict
		resp.Fallback = &fallback
	}
	c.JSON(status, resp)
}

func (s *Server) handleRecognize(c *gin.Context) {
	raw, err := readBody(c, governor.MaxImageContentLength)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, string(governor.KindInvalidBody), err)
		return
	}
	declared := c.Request.ContentLength
	if int64(len(raw)) > declared {
		declared = int64(len(raw))
	}
	out := s.recognizer.Recognize(c.Request.Context(), raw, declared, actorID(c))
	c.Header("X-Request-ID", out.RequestID)
	if out.Err == nil {
		c.JSON(http.StatusOK, RecognizeResponse{Plants: out.Plants})
		return
	}
	status, code := statusFor(out.Err)
	c.JSON(status, ErrorResponse{Error: publicMessage(out.Err), Code: code, RequestID: out.RequestID})
}

func (s *Server) authenticate(c *gin.Context) {
	actor, err := s.resolver.Resolve(c.GetHeader("Authorization"))
	if err != nil {
		logrus.WithError(err).WithField("path", c.FullPath()).Debug("rejected credentials")
		s.renderError(c, http.StatusUnauthorized, "unauthenticated", auth.ErrUnauthenticated)
		c.Abort()
		return
	}
	c.Set(actorKey, actor)
	c.Next()
}

func actorID(c *gin.Context) string {
	if value, ok := c.Get(actorKey); ok {
		if actor, ok := value.(auth.Actor); ok {
			return actor.ID
		}
	}
	return ""
}

func actorOrIP(c *gin.Context) string {
	if id := actorID(c); id != "" {
		return "actor:" + id
	}
	return "ip:" + c.ClientIP()
}

// readBody reads at most limit+1 bytes so the governor can see an oversized
// body without the server buffering all of it.
func readBody(c *gin.Context, limit int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return raw, nil
}

func pagination(c *gin.Context, defaultSize int) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func (s *Server) renderError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
