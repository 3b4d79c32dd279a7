package domain

// RejectionKind classifies why an authentication-related operation was refused.
type RejectionKind string

const (
	RejectInvalidInput          RejectionKind = "invalid_input"
	RejectInvalidCredentials    RejectionKind = "invalid_credentials"
	RejectDuplicateEmail        RejectionKind = "duplicate_email"
	RejectBotCheckFailed        RejectionKind = "bot_check_failed"
	RejectAccountNotLinked      RejectionKind = "account_not_linked"
	RejectProviderMisconfigured RejectionKind = "provider_misconfigured"
	RejectUnexpected            RejectionKind = "unexpected"
)

// Rejection is a refused outcome. Detail refines the kind, e.g. the
// challenge reason for RejectBotCheckFailed.
type Rejection struct {
	Kind   RejectionKind
	Detail string
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ": " + r.Detail
}

// AuthOutcome holds either an authenticated identity or a rejection, never both.
type AuthOutcome struct {
	Identity  *Identity
	Rejection *Rejection
}

// Authenticated builds a successful outcome.
func Authenticated(id Identity) AuthOutcome {
	return AuthOutcome{Identity: &id}
}

// Rejected builds a refused outcome.
func Rejected(kind RejectionKind, detail string) AuthOutcome {
	return AuthOutcome{Rejection: &Rejection{Kind: kind, Detail: detail}}
}

// OK reports whether the outcome carries an identity.
func (o AuthOutcome) OK() bool {
	return o.Identity != nil && o.Rejection == nil
}

// Kind returns the rejection kind, or "" for a successful outcome.
func (o AuthOutcome) Kind() RejectionKind {
	if o.Rejection == nil {
		return ""
	}
	return o.Rejection.Kind
}
