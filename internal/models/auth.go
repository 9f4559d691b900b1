package models

// AuthState is the projection of the identity provider's current user that
// the access gate consumes
type AuthState struct {
	IsAuthenticated bool `json:"is_authenticated"`
	IsEmailVerified bool `json:"is_email_verified"`
	HasDisplayName  bool `json:"has_display_name"`
}

// AccessGuards decides which screen group the shell may show. Exactly one
// field is true for any AuthState.
type AccessGuards struct {
	CanAccessTabs        bool `json:"can_access_tabs"`
	CanAccessOnboarding  bool `json:"can_access_onboarding"`
	CanAccessVerifyEmail bool `json:"can_access_verify_email"`
	ShouldShowSignin     bool `json:"should_show_signin"`
}

// ScreenGroup names the top-level screen group a guard unlocks
type ScreenGroup string

const (
	ScreenTabs        ScreenGroup = "tabs"
	ScreenOnboarding  ScreenGroup = "onboarding"
	ScreenVerifyEmail ScreenGroup = "verify_email"
	ScreenSignin      ScreenGroup = "signin"
)

// Screen returns the group whose guard is set, or "" for the zero value
// reported while the identity state is loading.
func (g AccessGuards) Screen() ScreenGroup {
	switch {
	case g.CanAccessTabs:
		return ScreenTabs
	case g.CanAccessOnboarding:
		return ScreenOnboarding
	case g.CanAccessVerifyEmail:
		return ScreenVerifyEmail
	case g.ShouldShowSignin:
		return ScreenSignin
	default:
		return ""
	}
}
