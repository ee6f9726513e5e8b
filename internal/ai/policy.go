package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ErrProviderTimeout     = errors.New("provider timed out")
	ErrProviderUnreachable = errors.New("provider unreachable")
	ErrRequestTooLarge     = errors.New("provider request exceeds policy size")
)

// maxResponseBytes bounds how much of a provider reply is buffered.
const maxResponseBytes = 4 << 20

// Policy governs one outbound call site.
type Policy struct {
	Name            string        `json:"name"`
	Timeout         time.Duration `json:"timeout"`
	MaxRequestBytes int64         `json:"max_request_bytes"`
	RetryCount      int           `json:"retry_count"`
	RetryDelay      time.Duration `json:"retry_delay"`
}

// Policies holds the per-flow policies loaded at startup.
type Policies struct {
	Advisory    Policy `json:"advisory"`
	Recognition Policy `json:"recognition"`
}

// DefaultPolicies returns the built-in limits. Recognition carries image
// payloads and tolerates slower vision models.
func DefaultPolicies() Policies {
	return Policies{
		Advisory: Policy{
			Name:            "advisory",
			Timeout:         12 * time.Second,
			MaxRequestBytes: 64 << 10,
			RetryCount:      1,
			RetryDelay:      400 * time.Millisecond,
		},
		Recognition: Policy{
			Name:            "recognition",
			Timeout:         25 * time.Second,
			MaxRequestBytes: 8 << 20,
			RetryCount:      1,
			RetryDelay:      800 * time.Millisecond,
		},
	}
}

// Validate reports configuration that would make the executor misbehave.
func (p Policy) Validate() error {
	switch {
	case p.Timeout <= 0:
		return fmt.Errorf("policy %s: timeout must be positive", p.Name)
	case p.MaxRequestBytes <= 0:
		return fmt.Errorf("policy %s: max request bytes must be positive", p.Name)
	case p.RetryCount < 0:
		return fmt.Errorf("policy %s: retry count must not be negative", p.Name)
	case p.RetryDelay < 0:
		return fmt.Errorf("policy %s: retry delay must not be negative", p.Name)
	}
	return nil
}

type policyFields struct {
	TimeoutMs       *int64 `yaml:"timeoutMs"`
	MaxRequestBytes *int64 `yaml:"maxRequestBytes"`
	RetryCount      *int   `yaml:"retryCount"`
	RetryDelayMs    *int64 `yaml:"retryDelayMs"`
}

type policyFile struct {
	Advisory    policyFields `yaml:"advisory"`
	Recognition policyFields `yaml:"recognition"`
}

func (f policyFields) apply(p Policy) Policy {
	if f.TimeoutMs != nil {
		p.Timeout = time.Duration(*f.TimeoutMs) * time.Millisecond
	}
	if f.MaxRequestBytes != nil {
		p.MaxRequestBytes = *f.MaxRequestBytes
	}
	if f.RetryCount != nil {
		p.RetryCount = *f.RetryCount
	}
	if f.RetryDelayMs != nil {
		p.RetryDelay = time.Duration(*f.RetryDelayMs) * time.Millisecond
	}
	return p
}

// LoadPolicies overlays the YAML file at path (if any) on the defaults.
func LoadPolicies(path string) (Policies, error) {
	policies := DefaultPolicies()
	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Policies{}, fmt.Errorf("read policy file: %w", err)
		}
		if err := policies.overlay(raw); err != nil {
			return Policies{}, err
		}
	}
	if err := policies.validate(); err != nil {
		return Policies{}, err
	}
	return policies, nil
}

// ParsePolicies overlays a YAML document on the defaults.
func ParsePolicies(raw []byte) (Policies, error) {
	policies := DefaultPolicies()
	if err := policies.overlay(raw); err != nil {
		return Policies{}, err
	}
	if err := policies.validate(); err != nil {
		return Policies{}, err
	}
	return policies, nil
}

func (p *Policies) overlay(raw []byte) error {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	p.Advisory = file.Advisory.apply(p.Advisory)
	p.Recognition = file.Recognition.apply(p.Recognition)
	return nil
}

func (p Policies) validate() error {
	if err := p.Advisory.Validate(); err != nil {
		return err
	}
	return p.Recognition.Validate()
}

// TimeoutError reports an attempt abandoned after its window elapsed.
type TimeoutError struct {
	Policy  string
	Attempt int
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s attempt %d timed out after %s", e.Policy, e.Attempt, e.After)
}

// Is lets errors.Is(err, ErrProviderTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrProviderTimeout
}

// Call describes an outbound request. Body is re-sent on every attempt.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the raw provider reply after the policy has run its course.
type Result struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Executor runs calls under a Policy.
type Executor struct {
	client Doer
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor wraps client. A nil client uses a fresh http.Client without its
// own timeout; the policy supplies one per attempt.
func NewExecutor(client Doer) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{client: client, sleep: sleepContext}
}

// Do issues the call, retrying 5xx replies after a fixed delay while
// attempts remain. Timeouts and transport failures are never retried.
func (e *Executor) Do(ctx context.Context, policy Policy, call Call) (Result, error) {
	if int64(len(call.Body)) > policy.MaxRequestBytes {
		return Result{}, fmt.Errorf("%w: %d > %d bytes", ErrRequestTooLarge, len(call.Body), policy.MaxRequestBytes)
	}
	method := call.Method
	if method == "" {
		method = http.MethodPost
	}

	for attempt := 1; ; attempt++ {
		status, body, err := e.attempt(ctx, policy, method, call, attempt)
		if err != nil {
			return Result{Attempts: attempt}, err
		}
		if status < 500 || attempt > policy.RetryCount {
			return Result{StatusCode: status, Body: body, Attempts: attempt}, nil
		}
		logrus.WithFields(logrus.Fields{
			"policy":  policy.Name,
			"status":  status,
			"attempt": attempt,
			"delay":   policy.RetryDelay,
		}).Warn("provider server error, retrying")
		if err := e.sleep(ctx, policy.RetryDelay); err != nil {
			return Result{Attempts: attempt}, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, policy Policy, method string, call Call, attempt int) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, call.URL, bytes.NewReader(call.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range call.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, classify(ctx, attemptCtx, policy, attempt, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, classify(ctx, attemptCtx, policy, attempt, err)
	}
	return resp.StatusCode, body, nil
}

func classify(parent, attemptCtx context.Context, policy Policy, attempt int, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Policy: policy.Name, Attempt: attempt, After: policy.Timeout}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
