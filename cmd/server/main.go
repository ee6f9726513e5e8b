package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/api"
)

func main() {
	configureLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		dataDir := filepath.Join(baseDir, "data")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
		databaseURL = filepath.Join(dataDir, "plant-sage.db")
	}

	aiCfg := ai.Config{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       os.Getenv("OPENAI_MODEL"),
		VisionModel: os.Getenv("OPENAI_VISION_MODEL"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
	}
	if temp := os.Getenv("OPENAI_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			aiCfg.Temperature = v
		}
	}
	if maxTokens := os.Getenv("OPENAI_MAX_TOKENS"); maxTokens != "" {
		if v, err := strconv.Atoi(maxTokens); err == nil {
			aiCfg.MaxTokens = v
		}
	}

	policies, err := ai.LoadPolicies(os.Getenv("POLICY_CONFIG"))
	if err != nil {
		logrus.Fatalf("load policies: %v", err)
	}
	policies = applyPolicyEnv(policies, os.Getenv)
	if err := policies.Advisory.Validate(); err != nil {
		logrus.Fatalf("advisory policy: %v", err)
	}
	if err := policies.Recognition.Validate(); err != nil {
		logrus.Fatalf("recognition policy: %v", err)
	}

	throttlePerMinute := 0
	if v := strings.TrimSpace(os.Getenv("THROTTLE_PER_MINUTE")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			throttlePerMinute = val
		}
	}

	cfg := api.Config{
		DatabaseURL:       databaseURL,
		SilentDB:          !strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "debug"),
		CatalogSeedPath:   os.Getenv("CATALOG_SEED_PATH"),
		AllowedOrigins:    splitList(os.Getenv("ALLOWED_ORIGINS")),
		AIConfig:          aiCfg,
		Policies:          policies,
		JWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
		JWTIssuer:         os.Getenv("AUTH_JWT_ISSUER"),
		DevActor:          os.Getenv("AUTH_DEV_ACTOR"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ThrottlePerMinute: throttlePerMinute,
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close server")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.WithFields(logrus.Fields{
		"port":                port,
		"advisory_timeout":    policies.Advisory.Timeout,
		"recognition_timeout": policies.Recognition.Timeout,
	}).Info("starting plant-sage backend")
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}

func configureLogging(level, format string) {
	if parsed, err := logrus.ParseLevel(strings.TrimSpace(level)); err == nil {
		logrus.SetLevel(parsed)
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// applyPolicyEnv lets single fields be overridden without a policy file.
func applyPolicyEnv(p ai.Policies, getenv func(string) string) ai.Policies {
	p.Advisory = overridePolicy(p.Advisory, "SAGE", getenv)
	p.Recognition = overridePolicy(p.Recognition, "RECOGNITION", getenv)
	return p
}

func overridePolicy(p ai.Policy, prefix string, getenv func(string) string) ai.Policy {
	if d, ok := envDuration(getenv(prefix + "_TIMEOUT")); ok {
		p.Timeout = d
	}
	if d, ok := envDuration(getenv(prefix + "_RETRY_DELAY")); ok {
		p.RetryDelay = d
	}
	if v := strings.TrimSpace(getenv(prefix + "_RETRY_COUNT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.RetryCount = n
		}
	}
	if v := strings.TrimSpace(getenv(prefix + "_MAX_REQUEST_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.MaxRequestBytes = n
		}
	}
	return p
}

func envDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithError(err).WithField("value", value).Warn("ignoring invalid duration")
		return 0, false
	}
	return d, true
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
