package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// Input length limits.
const (
	DefaultMaxLength = 32000
	DefaultMinLength = 1
)

// Input rejection codes.
const (
	CodeEmpty           = "empty"
	CodeTooLong         = "too_long"
	CodePromptInjection = "prompt_injection"
)

// Patterns commonly seen in prompt-injection and jailbreak attempts.
var patternInjection = regexp.MustCompile(`(?is)(?:` +
	`ignore\s+(?:all\s+)?(?:previous|above|prior)\s+instructions|` +
	`disregard\s+(?:all\s+)?(?:previous|above|prior)|` +
	`forget\s+(?:everything|all)\s+(?:you\s+)?(?:were\s+)?(?:told|trained)|` +
	`you\s+are\s+now\s+in\s+(?:a\s+)?(?:new\s+)?(?:role|mode|character)|` +
	`system\s*:\s*you\s+are|` +
	`\[system\]\s*:|` +
	`<\|?system\|?>|` +
	`\[INST\]\s*.*\s*\[/INST\]|` +
	`override\s+(?:your\s+)?(?:instructions|rules|guidelines)|` +
	`pretend\s+you\s+(?:are|have)\s+no\s+(?:restrictions|limits|guidelines)|` +
	`jailbreak|` +
	`developer\s+mode|` +
	`dan\s+mode|` +
	`//\s*ignore\s+previous` +
	`)`)

var (
	runsOfBlanks   = regexp.MustCompile(`[ \t]+`)
	runsOfNewlines = regexp.MustCompile(`\n{3,}`)
)

// InputResult is the verdict on one raw user message.
type InputResult struct {
	OK        bool   `json:"ok"`
	Sanitized string `json:"sanitized"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ValidateInput sanitizes and vets raw user text: strips control bytes,
// collapses whitespace, enforces length bounds, and rejects instruction
// override attempts. Sanitized holds the cleaned text when OK.
func ValidateInput(text string, maxLength int) InputResult {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	var b strings.Builder
	for _, r := range text {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	working := runsOfBlanks.ReplaceAllString(b.String(), " ")
	working = runsOfNewlines.ReplaceAllString(working, "\n\n")
	working = strings.TrimSpace(working)

	if len(working) < DefaultMinLength {
		return InputResult{
			Code:    CodeEmpty,
			Message: "Your request could not be processed because the message is empty. Please describe your issue and try again.",
		}
	}
	if len(working) > maxLength {
		return InputResult{
			Code:    CodeTooLong,
			Message: fmt.Sprintf("Your request could not be processed because the message is too long (maximum %d characters). Please shorten your message and try again.", maxLength),
		}
	}
	if patternInjection.MatchString(working) {
		return InputResult{
			Code:    CodePromptInjection,
			Message: "Your request could not be processed because it contains instructions this service is not designed to follow. Please describe your support issue directly.",
		}
	}
	return InputResult{OK: true, Sanitized: working}
}
