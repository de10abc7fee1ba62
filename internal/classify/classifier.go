// Package classify assigns priority tiers, urgency scores and context
// tags to unified messages using deterministic keyword heuristics.
package classify

import (
	"regexp"
	"strings"

	"ghostrider/internal/domain"
)

var (
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// tagRules are evaluated in order; each appends its tag when any of its
// keywords occurs in the lower-cased content.
var tagRules = []struct {
	tag      string
	keywords []string
}{
	{"meeting", []string{"meeting", "call", "zoom", "teams"}},
	{"financial", []string{"payment", "invoice", "bill", "charge"}},
	{"security", []string{"password", "login", "security", "account"}},
	{"delivery", []string{"delivery", "package", "shipped", "tracking"}},
}

// Classifier scores messages against an immutable rule set. It holds no
// mutable state and is safe for concurrent use, provided no two callers
// classify the same message instance at once.
type Classifier struct {
	rules RuleSet
}

// New creates a Classifier with the default keyword tables.
func New() *Classifier {
	return NewWithRules(DefaultRules())
}

// NewWithRules creates a Classifier with custom keyword tables.
func NewWithRules(rules RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// ClassifyPriority returns the priority tier and urgency score for a
// message. The urgent, high and low keyword sets are checked in that
// order and the first match wins; otherwise a baseline score of 0.5 is
// adjusted for SMS length, unknown senders and off-hours delivery, then
// mapped onto a tier.
func (c *Classifier) ClassifyPriority(msg *domain.UnifiedMessage) (domain.Priority, float64) {
	content := strings.ToLower(msg.Content)

	if n := countMatches(content, c.rules.UrgentKeywords); n > 0 {
		return domain.PriorityUrgent, min(1.0, 0.8+0.1*float64(n))
	}
	if n := countMatches(content, c.rules.HighPriorityKeywords); n > 0 {
		return domain.PriorityHigh, min(0.8, 0.6+0.1*float64(n))
	}
	if n := countMatches(content, c.rules.LowPriorityKeywords); n > 0 {
		return domain.PriorityLow, max(0.1, 0.3-0.1*float64(n))
	}

	score := 0.5

	if msg.Platform == domain.PlatformSMS {
		// Short SMS messages tend to be more urgent.
		if len(msg.Content) < 50 {
			score += 0.1
		}
		if msg.SMSMetadata != nil && msg.SMSMetadata.PhoneNumber != "" &&
			!c.isKnownContact(msg.SMSMetadata.PhoneNumber) {
			score -= 0.1
		}
	}

	// Messages outside 8:00-18:00 local time score higher.
	if hour := msg.Timestamp.Hour(); hour < 8 || hour > 18 {
		score += 0.1
	}

	score = max(0.0, min(1.0, score))

	switch {
	case score >= 0.8:
		return domain.PriorityUrgent, score
	case score >= 0.6:
		return domain.PriorityHigh, score
	case score <= 0.3:
		return domain.PriorityLow, score
	default:
		return domain.PriorityMedium, score
	}
}

// ExtractContextTags derives categorical tags from message content. The
// platform tag always comes first; the remaining predicates are checked
// in a fixed order so repeated calls on the same message yield the same
// list.
func (c *Classifier) ExtractContextTags(msg *domain.UnifiedMessage) []string {
	content := strings.ToLower(msg.Content)
	tags := []string{"platform:" + string(msg.Platform)}

	for _, rule := range tagRules {
		if containsAny(content, rule.keywords) {
			tags = append(tags, rule.tag)
		}
	}

	if urlPattern.MatchString(content) {
		tags = append(tags, "contains-link")
	}
	if phonePattern.MatchString(content) {
		tags = append(tags, "contains-phone")
	}
	if containsAny(content, []string{"today", "tomorrow", "asap", "urgent"}) {
		tags = append(tags, "time-sensitive")
	}

	return tags
}

// isKnownContact reports whether a phone number belongs to a known
// contact. There is no contact store yet, so every number is unknown.
func (c *Classifier) isKnownContact(phone string) bool {
	return false
}

func countMatches(content string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			n++
		}
	}
	return n
}

func containsAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}
