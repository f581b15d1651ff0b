package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenPhase string

const (
	// TokenPhaseRequest is the temporary credential issued before the user authorizes.
	TokenPhaseRequest TokenPhase = "request"
	// TokenPhaseAccess is the token credential used for API calls.
	TokenPhaseAccess TokenPhase = "access"
)

// OAuthToken is unique per (integration, phase).
type OAuthToken struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	IntegrationID uuid.UUID  `db:"integration_id" json:"integration_id"`
	Phase         TokenPhase `db:"phase" json:"phase"`
	Token         string     `db:"token" json:"-"`
	Secret        Secret     `db:"secret" json:"-"`
	ConsumedAt    *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}

func (t *OAuthToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}
