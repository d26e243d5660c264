package model

import "time"

type AuditActor struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IP       string `json:"ip,omitempty"`
}

type AuditEntry struct {
	ID         int64      `json:"id,omitempty"`
	Action     string     `json:"action"`
	OccurredAt time.Time  `json:"occurred_at"`
	Actor      AuditActor `json:"actor"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
}

type AuditQuery struct {
	Action  string
	ActorID int64
	Status  string
	Page    int
	Limit   int
}
