package moderation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"kast/internal/models"
	"kast/internal/utils"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Level orders severities; unknown values rank with LOW.
func (s Severity) Level() int {
	switch s {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 1
	}
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Action string

const (
	ActionWarning            Action = "WARNING"
	ActionHideContent        Action = "HIDE_CONTENT"
	ActionSuspendUser        Action = "SUSPEND_USER"
	ActionBanUser            Action = "BAN_USER"
	ActionRemoveFromCampaign Action = "REMOVE_FROM_CAMPAIGN"
)

func (a Action) Valid() bool {
	switch a {
	case ActionWarning, ActionHideContent, ActionSuspendUser, ActionBanUser, ActionRemoveFromCampaign:
		return true
	}
	return false
}

// ShortenerPolicy decides how URL-shortener links are treated by the malicious link rule.
type ShortenerPolicy string

const (
	ShortenerAllow ShortenerPolicy = "allow"
	ShortenerFlag  ShortenerPolicy = "flag"
)

// ParseShortenerPolicy falls back to allow for unknown values.
func ParseShortenerPolicy(s string) ShortenerPolicy {
	if ShortenerPolicy(strings.ToLower(strings.TrimSpace(s))) == ShortenerFlag {
		return ShortenerFlag
	}
	return ShortenerAllow
}

// 规则 ID
const (
	RuleSpam                   = "spam_detection"
	RuleScam                   = "scam_detection"
	RuleProfileVerification    = "profile_verification"
	RuleEngagementManipulation = "engagement_manipulation"
	RuleMaliciousLinks         = "malicious_links"
	RuleRateLimiting           = "rate_limiting"
)

// input is what a rule check sees. Cast is nil when a user is evaluated on its own.
type input struct {
	Cast     *models.Cast
	User     *models.User
	Recent   []models.Cast
	// LastHour is the author's stored casts in the trailing hour, independent of Recent's cap.
	LastHour int
	Now      time.Time
}

type checkFunc func(in *input) (bool, error)

// Rule is one independent moderation predicate with its live configuration.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Reason      string   `json:"-"`
	Enabled     bool     `json:"enabled"`
	Severity    Severity `json:"severity"`
	Action      Action   `json:"action"`
	UserScoped  bool     `json:"userScoped"`
	Version     int      `json:"version"`

	check checkFunc
}

var spamKeywords = []string{
	"crypto scam", "free money", "guaranteed profit", "pump and dump",
	"rug pull", "ponzi", "pyramid scheme", "get rich quick",
	"investment opportunity", "double your money", "risk free",
}

var scamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)guaranteed.*profit`),
	regexp.MustCompile(`(?i)risk.*free.*investment`),
	regexp.MustCompile(`(?i)double.*your.*money`),
	regexp.MustCompile(`(?i)get.*rich.*quick`),
	regexp.MustCompile(`(?i)pump.*and.*dump`),
	regexp.MustCompile(`(?i)rug.*pull`),
}

var bannedDomains = map[string]bool{
	"scam-site.com":     true,
	"fake-crypto.net":   true,
	"phishing-site.org": true,
}

var shortenerDomains = []string{"bit.ly", "tinyurl.com", "t.co"}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

const (
	spamWordMinLen       = 3
	spamWordMaxRepeat    = 5
	spamEmojiRatio       = 0.3
	profileMinAgeDays    = 7
	manipulationMinCasts = 5
	manipulationFactor   = 5.0
	manipulationHourMax  = 10
	rateLimitWindow      = 5 * time.Minute
	rateLimitMax         = 5
)

// defaultRules returns the rules in declaration order.
func defaultRules(policy ShortenerPolicy) []*Rule {
	return []*Rule{
		{
			ID:          RuleSpam,
			Name:        "Spam Detection",
			Description: "Detects spam content and repetitive messages",
			Reason:      "Spam or repetitive content detected",
			Enabled:     true,
			Severity:    SeverityMedium,
			Action:      ActionHideContent,
			check:       checkSpam,
		},
		{
			ID:          RuleScam,
			Name:        "Scam Detection",
			Description: "Detects potential scam content",
			Reason:      "Potential scam content detected",
			Enabled:     true,
			Severity:    SeverityHigh,
			Action:      ActionHideContent,
			check:       checkScam,
		},
		{
			ID:          RuleProfileVerification,
			Name:        "Profile Verification",
			Description: "Checks user profile authenticity",
			Reason:      "Unverified or suspicious profile",
			Enabled:     true,
			Severity:    SeverityLow,
			Action:      ActionWarning,
			UserScoped:  true,
			check:       checkProfile,
		},
		{
			ID:          RuleEngagementManipulation,
			Name:        "Engagement Manipulation",
			Description: "Detects artificial engagement patterns",
			Reason:      "Suspicious engagement patterns",
			Enabled:     true,
			Severity:    SeverityHigh,
			Action:      ActionSuspendUser,
			UserScoped:  true,
			check:       checkManipulation,
		},
		{
			ID:          RuleMaliciousLinks,
			Name:        "Malicious Links",
			Description: "Detects potentially harmful links",
			Reason:      "Potentially harmful links detected",
			Enabled:     true,
			Severity:    SeverityCritical,
			Action:      ActionHideContent,
			check:       maliciousLinks(policy),
		},
		{
			ID:          RuleRateLimiting,
			Name:        "Rate Limiting",
			Description: "Prevents excessive posting",
			Reason:      "Excessive posting rate",
			Enabled:     true,
			Severity:    SeverityMedium,
			Action:      ActionWarning,
			UserScoped:  true,
			check:       checkRateLimit,
		},
	}
}

// DefaultRuleConfigs is the seed content of moderation_rule_configs.
func DefaultRuleConfigs() []models.ModerationRuleConfig {
	rules := defaultRules(ShortenerAllow)
	cfgs := make([]models.ModerationRuleConfig, 0, len(rules))
	for _, r := range rules {
		cfgs = append(cfgs, models.ModerationRuleConfig{
			RuleID:   r.ID,
			Enabled:  r.Enabled,
			Severity: string(r.Severity),
			Action:   string(r.Action),
			Version:  1,
		})
	}
	return cfgs
}

func checkSpam(in *input) (bool, error) {
	if in.Cast == nil {
		return false, nil
	}
	text := strings.ToLower(in.Cast.Text)

	for _, kw := range spamKeywords {
		if strings.Contains(text, kw) {
			return true, nil
		}
	}

	counts := make(map[string]int)
	for _, word := range strings.Split(text, " ") {
		if len([]rune(word)) > spamWordMinLen {
			counts[word]++
			if counts[word] > spamWordMaxRepeat {
				return true, nil
			}
		}
	}

	var total, emoji int
	for _, r := range text {
		total++
		if isEmoji(r) {
			emoji++
		}
	}
	return total > 0 && float64(emoji) > float64(total)*spamEmojiRatio, nil
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F600 && r <= 0x1F64F, // emoticons
		r >= 0x1F300 && r <= 0x1F5FF, // symbols & pictographs
		r >= 0x1F680 && r <= 0x1F6FF, // transport & map
		r >= 0x1F1E0 && r <= 0x1F1FF, // flags
		r >= 0x1F900 && r <= 0x1F9FF,
		r >= 0x2600 && r <= 0x27BF:
		return true
	}
	return false
}

func checkScam(in *input) (bool, error) {
	if in.Cast == nil {
		return false, nil
	}
	for _, p := range scamPatterns {
		if p.MatchString(in.Cast.Text) {
			return true, nil
		}
	}
	return false, nil
}

func checkProfile(in *input) (bool, error) {
	u := in.User
	if u == nil || !u.HasFarcaster() {
		return true, nil
	}
	if len(u.Verifications) == 0 {
		return true, nil
	}
	return utils.AccountAgeDaysAt(u.CreatedAt, in.Now) < profileMinAgeDays, nil
}

func checkManipulation(in *input) (bool, error) {
	recent := in.Recent
	if len(recent) < manipulationMinCasts {
		return false, nil
	}

	if in.Cast != nil {
		var sum float64
		for _, c := range recent {
			sum += c.EngagementScore
		}
		avg := sum / float64(len(recent))
		if in.Cast.EngagementScore > avg*manipulationFactor {
			return true, nil
		}
	}

	return in.LastHour > manipulationHourMax, nil
}

func checkRateLimit(in *input) (bool, error) {
	return countSince(in.Recent, in.Now.Add(-rateLimitWindow)) > rateLimitMax, nil
}

func countSince(casts []models.Cast, since time.Time) int {
	n := 0
	for _, c := range casts {
		if c.PublishedAt.After(since) {
			n++
		}
	}
	return n
}

func maliciousLinks(policy ShortenerPolicy) checkFunc {
	return func(in *input) (bool, error) {
		if in.Cast == nil {
			return false, nil
		}
		for _, raw := range urlPattern.FindAllString(in.Cast.Text, -1) {
			host, err := hostname(raw)
			if err != nil {
				// 无法解析的链接按恶意处理
				return true, nil
			}
			if isBannedHost(host) {
				return true, nil
			}
			if isShortener(host) && policy == ShortenerFlag {
				return true, nil
			}
		}
		return false, nil
	}
}

func hostname(raw string) (string, error) {
	raw = strings.TrimRight(raw, ".,;:!?)")
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return host, nil
}

func isBannedHost(host string) bool {
	return matchDomain(host, func(d string) bool { return bannedDomains[d] })
}

func isShortener(host string) bool {
	return matchDomain(host, func(d string) bool {
		for _, s := range shortenerDomains {
			if d == s {
				return true
			}
		}
		return false
	})
}

// matchDomain checks host and each of its parent domains.
func matchDomain(host string, fn func(string) bool) bool {
	for host != "" {
		if fn(host) {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
	return false
}
