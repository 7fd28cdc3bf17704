package session

// ErrorCode is the outcome of a session decision. Codes are data, not Go errors.
type ErrorCode string

const (
	CodeOk                    ErrorCode = "Ok"
	CodeAccessError           ErrorCode = "AccessError"
	CodeAccessExpired         ErrorCode = "AccessExpired"
	CodeSessionExpired        ErrorCode = "SessionExpired"
	CodeAccessTrafficOverflow ErrorCode = "AccessTrafficOverflow"
	CodePlanRejected          ErrorCode = "PlanRejected"
	CodeRewardedAdRejected    ErrorCode = "RewardedAdRejected"
	CodeSessionSuppressedBy   ErrorCode = "SessionSuppressedBy"
	CodeSessionClosed         ErrorCode = "SessionClosed"
)

// Message is the default human-readable text for c.
func (c ErrorCode) Message() string {
	switch c {
	case CodeOk:
		return ""
	case CodeAccessError:
		return "access denied"
	case CodeAccessExpired:
		return "access token has expired"
	case CodeSessionExpired:
		return "session has expired"
	case CodeAccessTrafficOverflow:
		return "access token traffic limit reached"
	case CodePlanRejected:
		return "connect plan is not supported"
	case CodeRewardedAdRejected:
		return "rewarded ad could not be validated"
	case CodeSessionSuppressedBy:
		return "session was replaced by another session"
	case CodeSessionClosed:
		return "session closed"
	default:
		return string(c)
	}
}

// SuppressType tells who caused (SuppressedBy) or received (SuppressedTo) a suppression.
type SuppressType string

const (
	SuppressNone     SuppressType = "None"
	SuppressYourSelf SuppressType = "YourSelf"
	SuppressOther    SuppressType = "Other"
)

// AdValidation is the result of an ad check reported with a status query.
type AdValidation int

const (
	// AdNotChecked means no ad result accompanies the query.
	AdNotChecked AdValidation = iota
	// AdValidated extends the session: its local expiration is cleared.
	AdValidated
	// AdRejected fails the query with CodeRewardedAdRejected before any quota check.
	AdRejected
)
