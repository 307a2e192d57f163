package backend

import "strings"

// Classification is the failure class of a backend invocation, derived
// from its combined output text.
type Classification int

const (
	// ClassSuccess means no failure signature was found.
	ClassSuccess Classification = iota

	// ClassAuthFailure means the backend rejected our credentials.
	ClassAuthFailure

	// ClassQuotaFailure means a usage/rate limit was hit.
	ClassQuotaFailure

	// ClassSchemaFailure means a structured-output request was rejected.
	ClassSchemaFailure

	// ClassOtherFailure means the process failed without a recognized
	// signature (non-zero exit, no matching pattern).
	ClassOtherFailure

	// ClassUnavailable means no backend binary was present to invoke.
	ClassUnavailable
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassAuthFailure:
		return "auth_failure"
	case ClassQuotaFailure:
		return "quota_failure"
	case ClassSchemaFailure:
		return "schema_failure"
	case ClassOtherFailure:
		return "other_failure"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// rule pairs a lowercase substring with the class it signals.
type rule struct {
	pattern string
	class   Classification
}

// Ordered failure signatures. Auth rules come before quota rules: an
// expired credential must not be mistaken for a transient quota issue.
// These patterns track vendor CLI wording and are inherently brittle;
// extend the list rather than reworking the matcher when wording drifts.
var failureRules = []rule{
	// Auth
	{"invalid api key", ClassAuthFailure},
	{"please run /login", ClassAuthFailure},
	{"oauth token has expired", ClassAuthFailure},
	{"authentication_error", ClassAuthFailure},
	{"not authenticated", ClassAuthFailure},
	{"401 unauthorized", ClassAuthFailure},

	// Quota / rate limit
	{"usage limit reached", ClassQuotaFailure},
	{"rate limit", ClassQuotaFailure},
	{"rate_limit_error", ClassQuotaFailure},
	{"too many requests", ClassQuotaFailure},
	{"429", ClassQuotaFailure},
	{"quota exceeded", ClassQuotaFailure},
	{"overloaded_error", ClassQuotaFailure},
}

// schemaRules apply only when structured output was requested from a
// backend that supports it.
var schemaRules = []rule{
	{"output_schema", ClassSchemaFailure},
	{"invalid schema", ClassSchemaFailure},
	{"does not match the expected schema", ClassSchemaFailure},
	{"structured output is not supported", ClassSchemaFailure},
}

// Classify derives the failure class for one invocation.
// structured should be true when the call requested structured output
// from a backend that supports it (claude on review/security passes).
func Classify(output string, exitCode int, structured bool) Classification {
	lower := strings.ToLower(output)

	for _, r := range failureRules {
		if strings.Contains(lower, r.pattern) {
			return r.class
		}
	}

	if structured {
		for _, r := range schemaRules {
			if strings.Contains(lower, r.pattern) {
				return r.class
			}
		}
	}

	if exitCode != 0 {
		return ClassOtherFailure
	}
	return ClassSuccess
}
