package session

import (
	"time"

	"tunnelgate/cmd/internal/access"
)

// ConnectPlan selects how a session is granted.
type ConnectPlan string

const (
	PlanNormal              ConnectPlan = "normal"
	PlanPremiumByTrial      ConnectPlan = "premium_by_trial"
	PlanPremiumByRewardedAd ConnectPlan = "premium_by_rewarded_ad"
)

// normalize maps the empty plan to PlanNormal.
func (p ConnectPlan) normalize() ConnectPlan {
	if p == "" {
		return PlanNormal
	}
	return p
}

// allowed reports whether p may be used under cfg.
// Anything but the normal plan needs test mode.
func (p ConnectPlan) allowed(cfg Config) bool {
	switch p {
	case PlanNormal:
		return true
	case PlanPremiumByTrial, PlanPremiumByRewardedAd:
		return cfg.TestMode
	default:
		return false
	}
}

// apply sets the plan-specific overrides on a new session.
func (p ConnectPlan) apply(cfg Config, now time.Time, s *Session) {
	switch p {
	case PlanPremiumByTrial:
		exp := now.Add(cfg.TrialDuration)
		s.ExpirationTime = &exp
	case PlanPremiumByRewardedAd:
		exp := now.Add(cfg.AdGrace)
		s.ExpirationTime = &exp
		s.AdRequirement = access.AdRequirementRewarded
	case PlanNormal:
	}
}
