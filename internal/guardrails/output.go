// Package guardrails holds the rule-based safety checks applied to user
// input before planning and to synthesized responses before delivery.
// The rules are regex-driven and deterministic; anything needing judgment
// belongs in the safety agent's model call, not here.
package guardrails

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces matched sensitive spans.
const RedactedPlaceholder = "[REDACTED]"

// BlockedMessage replaces an entire response when sensitive phrasing makes
// redaction insufficient.
const BlockedMessage = "I'm not able to share that information. For details about your account or billing, please contact support."

// Finding labels reported alongside redactions.
const (
	FindingCurrency        = "currency"
	FindingSSN             = "ssn"
	FindingCard            = "card"
	FindingLongNumeric     = "long_numeric"
	FindingSensitivePhrase = "sensitive_phrase"
)

var (
	// Dollar amounts: $1, $1.00, $1,000,000.00, "USD 500".
	patternCurrency = regexp.MustCompile(`(?i)\$\s*[\d,]+(?:\.\d{2})?\s*(?:USD|dollars?)?|(?:USD|EUR|GBP)\s*[\d,]+(?:\.\d{2})?`)

	// SSN-style: XXX-XX-XXXX.
	patternSSN = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// Credit-card style: four groups of four digits, optional spaces/dashes.
	patternCard = regexp.MustCompile(`\b(?:\d{4}[\s\-]?){3}\d{4}\b`)

	// Long numeric strings that look like account numbers or internal refs.
	patternLongNumeric = regexp.MustCompile(`\b\d{10,}\b`)

	// Phrases indicating company-internal or confidential content.
	patternSensitive = regexp.MustCompile(`(?i)(?:` +
		`internal\s+only|confidential|proprietary|do\s+not\s+share|` +
		`company\s+revenue|company\s+finances|our\s+revenue|our\s+profit|` +
		`EBITDA|earnings\s+before|net\s+income\s+was|revenue\s+was|` +
		`salary|compensation\s+package|employee\s+pay|` +
		`budget\s+allocation|internal\s+budget|` +
		`margin\s+is\s+\d|growth\s+rate\s+of\s+\d|` +
		`Q[1-4]\s+results|quarterly\s+earnings|` +
		`board\s+meeting|executive\s+session|` +
		`trade\s+secret|NDA|non-?disclosure` +
		`)`)
)

// OutputResult is the verdict on one candidate response.
type OutputResult struct {
	// Passed is false only when the response was blocked outright.
	Passed bool `json:"passed"`
	// Redacted is the text safe to send: the original, a redacted copy,
	// or BlockedMessage.
	Redacted string `json:"redacted"`
	// Modified reports whether any redaction or replacement was applied.
	Modified bool `json:"modified"`
	// Blocked reports whether the whole response was replaced.
	Blocked bool `json:"blocked"`
	// Findings names the rule classes that matched.
	Findings []string `json:"findings,omitempty"`
}

// OutputOptions toggles rule classes. The zero value disables everything;
// use DefaultOutputOptions for the standard posture.
type OutputOptions struct {
	RedactCurrency    bool
	RedactSSNCard     bool
	RedactLongNumeric bool
	RedactSensitive   bool
	BlockOnSensitive  bool
}

// DefaultOutputOptions redacts everything and blocks when company-internal
// phrasing appears: a response quoting internal figures is unsalvageable.
func DefaultOutputOptions() OutputOptions {
	return OutputOptions{
		RedactCurrency:    true,
		RedactSSNCard:     true,
		RedactLongNumeric: true,
		RedactSensitive:   true,
		BlockOnSensitive:  true,
	}
}

// CheckOutput applies the rule classes to a candidate response. Redaction
// order matters: currency and SSN/card run before the long-numeric catch-all
// so their matches are labeled specifically.
func CheckOutput(text string, opts OutputOptions) OutputResult {
	if text == "" {
		return OutputResult{Passed: true, Redacted: ""}
	}

	working := text
	var findings []string

	if opts.RedactCurrency {
		working = redact(working, patternCurrency, FindingCurrency, &findings)
	}
	if opts.RedactSSNCard {
		working = redact(working, patternSSN, FindingSSN, &findings)
		working = redact(working, patternCard, FindingCard, &findings)
	}
	if opts.RedactLongNumeric {
		working = redact(working, patternLongNumeric, FindingLongNumeric, &findings)
	}

	if (opts.RedactSensitive || opts.BlockOnSensitive) && patternSensitive.MatchString(working) {
		findings = append(findings, FindingSensitivePhrase)
		if opts.BlockOnSensitive {
			return OutputResult{
				Passed:   false,
				Redacted: BlockedMessage,
				Modified: true,
				Blocked:  true,
				Findings: findings,
			}
		}
		working = patternSensitive.ReplaceAllString(working, RedactedPlaceholder)
	}

	return OutputResult{
		Passed:   true,
		Redacted: strings.TrimSpace(working),
		Modified: len(findings) > 0,
		Findings: findings,
	}
}

func redact(text string, pattern *regexp.Regexp, label string, findings *[]string) string {
	if !pattern.MatchString(text) {
		return text
	}
	*findings = append(*findings, label)
	return pattern.ReplaceAllString(text, RedactedPlaceholder)
}
