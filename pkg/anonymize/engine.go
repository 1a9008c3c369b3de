package anonymize

import (
	"regexp"

	"github.com/geofora/platform/pkg/common/models"
)

const (
	TokenRedacted     = "[REDACTED]"
	TokenBusinessInfo = "[BUSINESS_INFO]"
	TokenTimestamp    = "[TIMESTAMP]"
	TokenURL          = "[URL]"
	TokenKeyword      = "[KEYWORD]"
)

const (
	LevelBasic    = "basic"
	LevelStandard = "standard"
	LevelStrict   = "strict"
)

type pattern struct {
	label string
	re    *regexp.Regexp
}

// Engine applies the redaction passes in a fixed order. The patterns are
// heuristic on purpose: over- and under-matching is an accepted property of
// this pipeline, not something to fix with smarter parsing.
type Engine struct {
	personal []pattern
	business []pattern
	temporal []pattern
	urls     pattern
}

func NewEngine() *Engine {
	return &Engine{
		personal: []pattern{
			{label: "name", re: regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)},
			{label: "email", re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
			{label: "ssn", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
			{label: "phone", re: regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}`)},
		},
		business: []pattern{
			{label: "company", re: regexp.MustCompile(`\b[A-Z][A-Za-z&]+(?: [A-Z][A-Za-z&]+)* (?:Inc|LLC|Ltd|Corp|Corporation|Co)\.?\b`)},
			{label: "currency", re: regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?`)},
			{label: "number", re: regexp.MustCompile(`\b\d{4,}\b`)},
		},
		temporal: []pattern{
			{label: "iso_date", re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
			{label: "time", re: regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s?(?:[AaPp][Mm])?\b`)},
			{label: "month_date", re: regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2},? \d{4}\b`)},
		},
		urls: pattern{label: "url", re: regexp.MustCompile(`https?://\S+`)},
	}
}

type Result struct {
	Content           string
	RemovedElements   []string
	PreservedElements []string
	Level             string
}

// DefaultPolicy is the engine's hard-coded fallback: every redaction flag on.
func DefaultPolicy() models.DataScopePolicy {
	return models.DataScopePolicy{
		RemovePersonalInfo:      true,
		RemoveBusinessSpecifics: true,
		RemoveTimestamps:        true,
		RemoveUserIDs:           true,
		RemoveURLs:              true,
		PreserveStructure:       true,
		RetentionPeriodDays:     180,
	}
}

// Anonymize runs the redaction passes in order: personal info, business
// specifics, timestamps, URLs, then keyword masking. Each pass is toggled
// independently by the policy. Output is deterministic for a given input and
// policy.
func (e *Engine) Anonymize(content string, policy models.DataScopePolicy) Result {
	result := Result{Content: content}

	if policy.RemovePersonalInfo {
		result.Content = applyPatterns(result.Content, e.personal, TokenRedacted, &result.RemovedElements)
	}
	if policy.RemoveBusinessSpecifics {
		result.Content = applyPatterns(result.Content, e.business, TokenBusinessInfo, &result.RemovedElements)
	}
	if policy.RemoveTimestamps {
		result.Content = applyPatterns(result.Content, e.temporal, TokenTimestamp, &result.RemovedElements)
	}
	if policy.RemoveURLs {
		result.Content = applyPatterns(result.Content, []pattern{e.urls}, TokenURL, &result.RemovedElements)
	}
	for _, keyword := range policy.MaskKeywords {
		if keyword == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
		if err != nil {
			continue
		}
		matches := len(re.FindAllString(result.Content, -1))
		if matches == 0 {
			continue
		}
		result.Content = re.ReplaceAllString(result.Content, TokenKeyword)
		for i := 0; i < matches; i++ {
			result.RemovedElements = append(result.RemovedElements, "keyword:"+keyword)
		}
	}

	// A coarse fixed signal, not computed from the content.
	result.PreservedElements = []string{"content_structure", "topic_context", "technical_terms"}
	result.Level = classify(policy)
	return result
}

func applyPatterns(content string, patterns []pattern, token string, removed *[]string) string {
	for _, p := range patterns {
		matches := len(p.re.FindAllString(content, -1))
		if matches == 0 {
			continue
		}
		content = p.re.ReplaceAllString(content, token)
		for i := 0; i < matches; i++ {
			*removed = append(*removed, p.label)
		}
	}
	return content
}

// classify grades the configuration, not the outcome: it counts enabled
// toggles rather than inspecting what was actually redacted.
func classify(policy models.DataScopePolicy) string {
	enabled := 0
	for _, on := range []bool{
		policy.RemovePersonalInfo,
		policy.RemoveBusinessSpecifics,
		policy.RemoveTimestamps,
		policy.RemoveUserIDs,
		policy.RemoveURLs,
		policy.PreserveStructure,
	} {
		if on {
			enabled++
		}
	}
	switch {
	case enabled >= 6:
		return LevelStrict
	case enabled >= 4:
		return LevelStandard
	default:
		return LevelBasic
	}
}
