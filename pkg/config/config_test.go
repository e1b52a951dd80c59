package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ontosys/omscore/pkg/outbox"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := New()
	cfg := Load(v)

	assert.Equal(t, 3, cfg.LockHeartbeatGraceFactor)
	assert.Equal(t, 3, cfg.OutboxMaxRetries)
	assert.Equal(t, 1*time.Hour, cfg.OutboxMaxEventAge)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxBackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.OutboxBackoffMax)
	assert.Equal(t, 10*time.Second, cfg.ShadowSwitchTimeout)
	assert.True(t, cfg.ShadowBackupBeforeSwitch)
	assert.Equal(t, 60*time.Second, cfg.AuthTokenCacheTTL)
	assert.Equal(t, PIIAnonymize, cfg.PIIHandling)
	assert.Equal(t, uint32(5), cfg.CircuitBreakerFailThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreakerOpenDuration)
	assert.Equal(t, uint32(3), cfg.CircuitBreakerHalfOpenProbes)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("JWT_ISSUER", "https://issuer.example")
	t.Setenv("LOCK_SWEEP_TTL_S", "45")
	t.Setenv("PII_HANDLING", "block")

	v := New()
	cfg := Load(v)

	assert.Equal(t, "https://issuer.example", cfg.JWTIssuer)
	assert.Equal(t, 45*time.Second, cfg.LockSweepTTL)
	assert.Equal(t, PIIBlock, cfg.PIIHandling)
}

func TestPIIPolicyMapsToSanitizePolicy(t *testing.T) {
	assert.Equal(t, outbox.PolicyReject, PIIBlock.SanitizePolicy())
	assert.Equal(t, outbox.PolicyAnonymize, PIIAnonymize.SanitizePolicy())
	assert.Equal(t, outbox.PolicyEncrypt, PIIEncrypt.SanitizePolicy())
	assert.Equal(t, outbox.PolicyLog, PIILog.SanitizePolicy())
}
