package outbox

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ontosys/omscore/pkg/security"
)

// SanitizePolicy is the per-environment handling strategy for a field
// that matches a PII pattern.
type SanitizePolicy string

const (
	// PolicyLog leaves the field untouched but flags it for audit
	// (dev environments, where redacting would hinder debugging).
	PolicyLog SanitizePolicy = "log"
	// PolicyAnonymize replaces the matched value with a fixed mask.
	PolicyAnonymize SanitizePolicy = "anonymize"
	// PolicyEncrypt replaces the value with an EncryptedField, backed by
	// pkg/security.SecretsManager.
	PolicyEncrypt SanitizePolicy = "encrypt"
	// PolicyReject fails the enclosing transaction entirely.
	PolicyReject SanitizePolicy = "reject"
)

// FieldPattern names a PII field (by exact key match, case-insensitive)
// or a value pattern (regex) to detect it by content regardless of key.
type FieldPattern struct {
	FieldName string
	ValueRE   *regexp.Regexp
}

// DefaultFieldPatterns covers the field families named in the spec:
// email, national IDs, phone, card, API keys.
func DefaultFieldPatterns() []FieldPattern {
	return []FieldPattern{
		{FieldName: "email", ValueRE: regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)},
		{FieldName: "ssn", ValueRE: regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)},
		{FieldName: "national_id", ValueRE: regexp.MustCompile(`^[A-Za-z0-9-]{6,20}$`)},
		{FieldName: "phone", ValueRE: regexp.MustCompile(`^\+?[0-9()\-. ]{7,20}$`)},
		{FieldName: "card_number", ValueRE: regexp.MustCompile(`^\d{13,19}$`)},
		{FieldName: "api_key", ValueRE: regexp.MustCompile(`^[A-Za-z0-9_\-]{20,}$`)},
	}
}

// ErrRejectedPII is returned when a field matches a reject-policy pattern.
type ErrRejectedPII struct {
	Field string
}

func (e *ErrRejectedPII) Error() string {
	return fmt.Sprintf("outbox payload field %q is rejected by PII policy", e.Field)
}

// Sanitizer inspects a JSON-object payload for PII-matching fields and
// applies the configured policy to each match.
type Sanitizer struct {
	patterns []FieldPattern
	policy   map[string]SanitizePolicy // fieldName -> policy; "*" is the default
	secrets  *security.SecretsManager
}

// NewSanitizer creates a Sanitizer. defaultPolicy applies to any matched
// field without a more specific entry in fieldPolicy.
func NewSanitizer(patterns []FieldPattern, defaultPolicy SanitizePolicy, fieldPolicy map[string]SanitizePolicy, secrets *security.SecretsManager) *Sanitizer {
	policy := make(map[string]SanitizePolicy, len(fieldPolicy)+1)
	for k, v := range fieldPolicy {
		policy[k] = v
	}
	policy["*"] = defaultPolicy
	return &Sanitizer{patterns: patterns, policy: policy, secrets: secrets}
}

// Sanitize walks a flat JSON object (map[string]interface{}) produced
// from an entity/payload, applying policy field-by-field. It returns the
// sanitized object, or an *ErrRejectedPII if a reject-policy field matched.
func (s *Sanitizer) Sanitize(data map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		pattern, matched := s.match(key, value)
		if !matched {
			out[key] = value
			continue
		}

		policy, ok := s.policy[pattern.FieldName]
		if !ok {
			policy = s.policy["*"]
		}

		switch policy {
		case PolicyReject:
			return nil, &ErrRejectedPII{Field: key}
		case PolicyAnonymize:
			out[key] = "***REDACTED***"
		case PolicyEncrypt:
			encrypted, err := s.encrypt(key, value)
			if err != nil {
				return nil, err
			}
			out[key] = encrypted
		case PolicyLog:
			out[key] = value
		default:
			out[key] = value
		}
	}
	return out, nil
}

func (s *Sanitizer) match(key string, value interface{}) (FieldPattern, bool) {
	str, ok := value.(string)
	for _, p := range s.patterns {
		if p.FieldName == key {
			return p, true
		}
		if ok && p.ValueRE != nil && p.ValueRE.MatchString(str) {
			return p, true
		}
	}
	return FieldPattern{}, false
}

func (s *Sanitizer) encrypt(name string, value interface{}) (*security.EncryptedField, error) {
	if s.secrets == nil {
		return nil, fmt.Errorf("outbox sanitizer: encrypt policy requires a secrets manager")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return s.secrets.CreateSecret(name, raw)
}
