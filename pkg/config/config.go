/*
Package config loads the environment configuration recognized by the
core, layered the way the teacher layers configuration: a per-process
*viper.Viper with explicit defaults and explicit BindEnv calls (the env
names are flat, not the dot-nested keys viper.AutomaticEnv would
otherwise produce), with cobra flags from cmd/omscore able to override
any of them before Load runs.
*/
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ontosys/omscore/pkg/outbox"
)

// PIIPolicy is the deployment-wide default PII handling policy, bound
// from the PII_HANDLING env var. Its values line up with
// pkg/outbox.SanitizePolicy except "block", which maps to
// outbox.PolicyReject — the two sides simply name the same policy
// differently.
type PIIPolicy string

const (
	PIILog       PIIPolicy = "log"
	PIIAnonymize PIIPolicy = "anonymize"
	PIIEncrypt   PIIPolicy = "encrypt"
	PIIBlock     PIIPolicy = "block"
)

// SanitizePolicy converts the deployment-configured PIIPolicy to the
// pkg/outbox.SanitizePolicy enum.
func (p PIIPolicy) SanitizePolicy() outbox.SanitizePolicy {
	switch p {
	case PIIAnonymize:
		return outbox.PolicyAnonymize
	case PIIEncrypt:
		return outbox.PolicyEncrypt
	case PIIBlock:
		return outbox.PolicyReject
	default:
		return outbox.PolicyLog
	}
}

// Config is every environment option the core recognizes.
type Config struct {
	// Identity (C8)
	JWTIssuer         string
	JWTAudience       string
	JWKSURL           string
	AuthTokenCacheTTL time.Duration

	// Branch Lock Manager (C2)
	LockSweepTTL             time.Duration
	LockSweepHeartbeat       time.Duration
	LockDefaultTimeout       time.Duration
	LockHeartbeatGraceFactor int

	// Outbox + Event Publisher (C3)
	OutboxMaxRetries  int
	OutboxMaxEventAge time.Duration
	OutboxBackoffBase time.Duration
	OutboxBackoffMax  time.Duration

	// Shadow-Index Lifecycle Controller (C5)
	ShadowSwitchTimeout      time.Duration
	ShadowBackupBeforeSwitch bool

	// Audit Recorder (C7) PII handling
	PIIHandling        PIIPolicy
	PIIEncryptionKeyID string

	// Circuit breaker in front of the external indexer RPC (gobreaker)
	CircuitBreakerFailThreshold  uint32
	CircuitBreakerOpenDuration   time.Duration
	CircuitBreakerHalfOpenProbes uint32
}

// setDefaults sets every option that ships with a non-zero default;
// every other field defaults to viper's zero value unless set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("LOCK_HEARTBEAT_GRACE_FACTOR", 3)
	v.SetDefault("OUTBOX_MAX_RETRIES", 3)
	v.SetDefault("OUTBOX_MAX_EVENT_AGE_S", 3600)
	v.SetDefault("OUTBOX_BACKOFF_BASE_MS", 500)
	v.SetDefault("OUTBOX_BACKOFF_MAX_MS", 300000)
	v.SetDefault("SHADOW_SWITCH_TIMEOUT_S", 10)
	v.SetDefault("SHADOW_BACKUP_BEFORE_SWITCH", true)
	v.SetDefault("AUTH_TOKEN_CACHE_TTL_S", 60)
	v.SetDefault("PII_HANDLING", string(PIIAnonymize))
	v.SetDefault("CIRCUIT_BREAKER_FAIL_THRESHOLD", 5)
	v.SetDefault("CIRCUIT_BREAKER_OPEN_MS", 30000)
	v.SetDefault("CIRCUIT_BREAKER_HALF_OPEN_PROBES", 3)
}

// envKeys lists every recognized variable name, bound explicitly so
// AutomaticEnv's default dot-to-underscore nesting never gets in the
// way of the flat names the deployment environment uses.
var envKeys = []string{
	"JWT_ISSUER", "JWT_AUDIENCE", "JWKS_URL", "AUTH_TOKEN_CACHE_TTL_S",
	"LOCK_SWEEP_TTL_S", "LOCK_SWEEP_HEARTBEAT_S", "LOCK_DEFAULT_TIMEOUT_S", "LOCK_HEARTBEAT_GRACE_FACTOR",
	"OUTBOX_MAX_RETRIES", "OUTBOX_MAX_EVENT_AGE_S", "OUTBOX_BACKOFF_BASE_MS", "OUTBOX_BACKOFF_MAX_MS",
	"SHADOW_SWITCH_TIMEOUT_S", "SHADOW_BACKUP_BEFORE_SWITCH",
	"PII_HANDLING", "PII_ENCRYPTION_KEY_ID",
	"CIRCUIT_BREAKER_FAIL_THRESHOLD", "CIRCUIT_BREAKER_OPEN_MS", "CIRCUIT_BREAKER_HALF_OPEN_PROBES",
}

// New builds a viper.Viper with every default set and every recognized
// env var bound, ready for Load or for cmd/omscore to layer cobra flags
// onto via BindPFlag before Load runs.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads every bound key out of v into a Config.
func Load(v *viper.Viper) *Config {
	return &Config{
		JWTIssuer:         v.GetString("JWT_ISSUER"),
		JWTAudience:       v.GetString("JWT_AUDIENCE"),
		JWKSURL:           v.GetString("JWKS_URL"),
		AuthTokenCacheTTL: seconds(v, "AUTH_TOKEN_CACHE_TTL_S"),

		LockSweepTTL:             seconds(v, "LOCK_SWEEP_TTL_S"),
		LockSweepHeartbeat:       seconds(v, "LOCK_SWEEP_HEARTBEAT_S"),
		LockDefaultTimeout:       seconds(v, "LOCK_DEFAULT_TIMEOUT_S"),
		LockHeartbeatGraceFactor: v.GetInt("LOCK_HEARTBEAT_GRACE_FACTOR"),

		OutboxMaxRetries:  v.GetInt("OUTBOX_MAX_RETRIES"),
		OutboxMaxEventAge: seconds(v, "OUTBOX_MAX_EVENT_AGE_S"),
		OutboxBackoffBase: millis(v, "OUTBOX_BACKOFF_BASE_MS"),
		OutboxBackoffMax:  millis(v, "OUTBOX_BACKOFF_MAX_MS"),

		ShadowSwitchTimeout:      seconds(v, "SHADOW_SWITCH_TIMEOUT_S"),
		ShadowBackupBeforeSwitch: v.GetBool("SHADOW_BACKUP_BEFORE_SWITCH"),

		PIIHandling:        PIIPolicy(v.GetString("PII_HANDLING")),
		PIIEncryptionKeyID: v.GetString("PII_ENCRYPTION_KEY_ID"),

		CircuitBreakerFailThreshold:  uint32(v.GetInt("CIRCUIT_BREAKER_FAIL_THRESHOLD")),
		CircuitBreakerOpenDuration:   millis(v, "CIRCUIT_BREAKER_OPEN_MS"),
		CircuitBreakerHalfOpenProbes: uint32(v.GetInt("CIRCUIT_BREAKER_HALF_OPEN_PROBES")),
	}
}

// seconds and millis read a plain integer config value (env vars carry
// bare second/millisecond counts, e.g. "60", not duration strings like
// "60s") and convert to a time.Duration explicitly; viper's own
// GetDuration expects the latter and would silently misparse the
// former.
func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}
