package identity

import "github.com/franckalain/nutritrack/internal/models"

// Provider is the change stream Bind listens to
type Provider interface {
	Current() *User
	Subscribe(fn func(*User)) (unsubscribe func())
}

// Gate receives the projected auth state
type Gate interface {
	Update(s models.AuthState)
	Logout()
}

// Bind pushes the provider's current user into gate and then every change
// after it. Sign-outs go through gate.Logout.
func Bind(p Provider, gate Gate) (unbind func()) {
	apply := func(u *User) {
		if u == nil {
			gate.Logout()
			return
		}
		gate.Update(u.AuthState())
	}
	unbind = p.Subscribe(apply)
	apply(p.Current())
	return unbind
}
