package event

import (
	"time"

	"edu-auth-service/internal/model"
)

type Type string

const (
	TypeLoginSucceeded  Type = "auth.login.succeeded"
	TypeLoginFailed     Type = "auth.login.failed"
	TypeUserRegistered  Type = "auth.user.registered"
	TypeTokenRefreshed  Type = "auth.token.refreshed"
	TypeLogout          Type = "auth.logout"
	TypePasswordChanged Type = "auth.password.changed"
	TypePasswordReset   Type = "auth.password.reset"
	TypeEmailVerified   Type = "auth.email.verified"
	TypeUserActivated   Type = "auth.user.activated"
	TypeUserDeactivated Type = "auth.user.deactivated"
)

type Event struct {
	ID         string           `json:"id"`
	Type       Type             `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Actor      model.AuditActor `json:"actor"`
	Detail     string           `json:"detail,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
