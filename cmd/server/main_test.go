package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"plant-sage/backend/internal/ai"
)

func TestApplyPolicyEnv(t *testing.T) {
	env := map[string]string{
		"SAGE_TIMEOUT":            "3s",
		"SAGE_RETRY_COUNT":        "0",
		"RECOGNITION_RETRY_DELAY": "2s",
		"RECOGNITION_TIMEOUT":     "soon",
	}
	p := applyPolicyEnv(ai.DefaultPolicies(), func(k string) string { return env[k] })
	defaults := ai.DefaultPolicies()

	assert.Equal(t, 3*time.Second, p.Advisory.Timeout)
	assert.Zero(t, p.Advisory.RetryCount)
	assert.Equal(t, defaults.Advisory.RetryDelay, p.Advisory.RetryDelay)
	assert.Equal(t, 2*time.Second, p.Recognition.RetryDelay)
	assert.Equal(t, defaults.Recognition.Timeout, p.Recognition.Timeout, "invalid durations are ignored")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}
