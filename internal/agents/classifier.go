package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caseflow-io/caseflow/internal/agentclient"
	"github.com/caseflow-io/caseflow/internal/llm"
	"github.com/caseflow-io/caseflow/internal/plan"
	"github.com/caseflow-io/caseflow/internal/policy"
)

const classifierPrompt = `You are an intent classification agent for a support-request system. Classify the ticket below.

Incident Types:
- Payment: payment processing, transactions, billing, refunds
- API: API errors, endpoints not working, rate limits, authentication issues
- Dashboard: UI issues, dashboard not loading, display problems, navigation
- Auth: authentication, authorization, login/logout, password reset, sessions
- Network: connectivity, timeouts, latency, DNS, CDN problems
- Other: anything else

Urgency (P0-P4):
- P0: system down, complete outage, security breach, data loss
- P1: major feature broken, significant user impact
- P2: moderate impact, some users affected
- P3: minor issue, low user impact, cosmetic problems
- P4: enhancement requests, documentation issues

SLA Risk: High (likely to breach), Medium (may breach), Low (within SLA).

Respond with JSON only:
{"incident_type": "Payment|API|Dashboard|Auth|Network|Other", "urgency": "P0|P1|P2|P3|P4", "sla_risk": "High|Medium|Low", "reasoning": "one sentence"}`

// Classifier classifies a request by incident type, urgency, and SLA risk.
// With a provider configured it asks the model in JSON mode; provider
// failures are transient so the executor retries once. Without a provider,
// or when the model returns unusable JSON, a keyword heuristic answers.
func Classifier(provider llm.Provider, model string) agentclient.Func {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "agents.classify")
		defer span.End()

		var in plan.ClassifyInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decoding classify input: %w", err)
		}
		if in.Text == "" {
			return nil, fmt.Errorf("classify input text is empty")
		}

		if provider == nil {
			span.SetAttributes(attribute.String("classifier_mode", "heuristic"))
			return json.Marshal(heuristicClassification(in.Text))
		}

		resp, err := provider.Generate(ctx, &llm.Request{
			Model: model,
			Messages: []llm.Message{
				{Role: "system", Content: classifierPrompt},
				{Role: "user", Content: in.Text},
			},
			Temperature: 0,
			MaxTokens:   256,
			JSONMode:    true,
		})
		if err != nil {
			return nil, agentclient.MarkTransient(fmt.Errorf("classifier model call: %w", err))
		}

		var c plan.Classification
		if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &c); err != nil || !validClassification(c) {
			span.SetAttributes(attribute.Bool("classifier_fallback", true))
			c = heuristicClassification(in.Text)
		}
		span.SetAttributes(
			attribute.String("incident_type", c.IncidentType),
			attribute.String("urgency", c.Urgency),
		)
		return json.Marshal(c)
	}
}

func validClassification(c plan.Classification) bool {
	switch c.IncidentType {
	case policy.CategoryPayment, policy.CategoryAPI, policy.CategoryDashboard,
		policy.CategoryAuth, policy.CategoryNetwork, policy.CategoryOther:
	default:
		return false
	}
	switch c.Urgency {
	case "P0", "P1", "P2", "P3", "P4":
	default:
		return false
	}
	switch c.SLARisk {
	case "High", "Medium", "Low":
	default:
		return false
	}
	return true
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{policy.CategoryPayment, []string{"payment", "billing", "refund", "invoice", "charge", "transaction", "card"}},
	{policy.CategoryAuth, []string{"login", "log in", "password", "sign in", "signin", "logout", "session", "2fa", "mfa", "locked out"}},
	{policy.CategoryAPI, []string{"api", "endpoint", "rate limit", "token", "webhook", "sdk", "http 4", "http 5"}},
	{policy.CategoryDashboard, []string{"dashboard", "widget", "chart", "display", "page", "button", "ui "}},
	{policy.CategoryNetwork, []string{"timeout", "latency", "dns", "cdn", "connect", "unreachable", "network", "slow"}},
}

var urgentKeywords = []string{"outage", "down", "breach", "data loss", "cannot access anything", "all users"}

// heuristicClassification is the deterministic fallback: first keyword
// family to match wins, mirroring the precedence above.
func heuristicClassification(text string) plan.Classification {
	lower := strings.ToLower(text)

	category := policy.CategoryOther
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				category = ck.category
				break
			}
		}
		if category != policy.CategoryOther {
			break
		}
	}

	urgency := "P3"
	slaRisk := "Low"
	for _, w := range urgentKeywords {
		if strings.Contains(lower, w) {
			urgency = "P1"
			slaRisk = "High"
			break
		}
	}

	return plan.Classification{
		IncidentType: category,
		Urgency:      urgency,
		SLARisk:      slaRisk,
		Reasoning:    "keyword heuristic",
	}
}
