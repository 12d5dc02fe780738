package types

import "time"

// Severity classifies how serious a security finding is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyType identifies which behavioral heuristic produced a report.
type AnomalyType string

const (
	AnomalyHighFrequency      AnomalyType = "HIGH_FREQUENCY"
	AnomalyRepeatedAction     AnomalyType = "REPEATED_ACTION"
	AnomalyGeographic         AnomalyType = "GEOGRAPHIC_ANOMALY"
	AnomalyUnusualTimePattern AnomalyType = "UNUSUAL_TIME_PATTERN"
)

// AnomalyReport is an advisory finding produced by a behavioral detector.
// Reports are handed to the caller and to the audit sink; the engine never
// persists them itself.
type AnomalyReport struct {
	Type     AnomalyType            `json:"type"`
	Severity Severity               `json:"severity"`
	Details  map[string]interface{} `json:"details"`
}

// SubjectType distinguishes the two kinds of blockable actors.
type SubjectType string

const (
	SubjectIP   SubjectType = "ip"
	SubjectUser SubjectType = "user"
)

// ActivityEntry is one element of a user's bounded recent-activity log.
type ActivityEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	IP        string                 `json:"ip,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SuspiciousActivity is the accumulated case file kept per IP.
type SuspiciousActivity struct {
	Count   int      `json:"count"`
	Reasons []string `json:"reasons"`
}
