package common

import "time"

// Redis key patterns. Keys are the sole sharding unit in the store; no
// secondary index exists.
const (
	AttemptKeyPattern      = "security:%s:%s"            // security:{domain}:{identifier}
	SuspiciousIPKeyPattern = "security:suspicious_ip:%s" // security:suspicious_ip:{ip}
	UserBehaviorKeyPattern = "security:user_behavior:%s" // security:user_behavior:{userId}
	BlockedIPKeyPattern    = "blocked:ip:%s"             // blocked:ip:{ip}
	BlockedUserKeyPattern  = "blocked:user:%s"           // blocked:user:{userId}
	BlockedKeysGlob        = "blocked:*"
)

const (
	CSRFDomain         = "csrf"
	LoginAttemptDomain = "login:attempts"
)

const (
	CSRFWindowTTL       = 1 * time.Hour
	SuspiciousIPTTL     = 24 * time.Hour
	UserBehaviorTTL     = 24 * time.Hour
	UserBehaviorMaxSize = 100
)
