package domain

// ChallengeReason explains a refused challenge verification.
type ChallengeReason string

const (
	ChallengeMissingToken  ChallengeReason = "missing_token"
	ChallengeProviderError ChallengeReason = "provider_error"
	ChallengeFailed        ChallengeReason = "challenge_failed"
	ChallengeLowScore      ChallengeReason = "low_score"
)

// ChallengeVerification is the verdict of the bot-score gate for one token.
type ChallengeVerification struct {
	Accepted   bool
	Score      float64
	Reason     ChallengeReason
	ErrorCodes []string
}

// SessionContext is the request-scoped view of the caller's session.
type SessionContext struct {
	Present  bool
	Identity *Identity
}
