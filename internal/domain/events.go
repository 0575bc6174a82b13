package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifica el tipo de notificación emitida tras un cambio de estado.
type EventType string

const (
	EventOpinionCreated     EventType = "opinion-created"
	EventAnswerSubmitted    EventType = "answer-submitted"
	EventFeesDistributed    EventType = "fees-distributed"
	EventOpinionDeactivated EventType = "opinion-deactivated"
	EventOpinionReactivated EventType = "opinion-reactivated"
	EventQuestionListed     EventType = "question-listed"
	EventQuestionSaleCancel EventType = "question-sale-cancelled"
	EventQuestionSale       EventType = "question-sale"
	EventPoolCreated        EventType = "pool-created"
	EventPoolContributed    EventType = "pool-contributed"
	EventPoolExecuted       EventType = "pool-executed"
	EventPoolExpired        EventType = "pool-expired"
	EventPoolWithdrawn      EventType = "pool-withdrawn"
	EventAnswerModerated    EventType = "answer-moderated"
	EventFundsDeposited     EventType = "funds-deposited"
	EventFundsWithdrawn     EventType = "funds-withdrawn"
	EventFeesClaimed        EventType = "fees-claimed"
	EventRoleGranted        EventType = "role-granted"
	EventRoleRevoked        EventType = "role-revoked"
	EventParamsUpdated      EventType = "params-updated"
	EventTreasuryMoved      EventType = "treasury-moved"
)

// Event es una notificación para indexadores externos. Lleva los IDs afectados,
// la identidad que actúa y los importes, suficiente para reconstruir el estado.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Seq          uint64    `json:"seq"` // posición en el log global, sin huecos
	Type         EventType `json:"type"`
	OpinionID    uint64    `json:"opinion_id,omitempty"`
	PoolID       uint64    `json:"pool_id,omitempty"`
	Actor        Identity  `json:"actor"`
	Counterparty Identity  `json:"counterparty"`
	Amount       Amount    `json:"amount,omitempty"`
	PlatformFee  Amount    `json:"platform_fee,omitempty"`
	CreatorFee   Amount    `json:"creator_fee,omitempty"`
	OwnerAmount  Amount    `json:"owner_amount,omitempty"`
	Price        Amount    `json:"price,omitempty"`
	NextPrice    Amount    `json:"next_price,omitempty"`
	Regime       string    `json:"regime,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// NewEvent crea un evento con ID nuevo.
func NewEvent(t EventType, actor Identity, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, Actor: actor, At: at.UTC()}
}
