package enums

import "fmt"

// EscrowStatus tracks funds held between buyer and seller. The happy path is
// pending -> shipped -> delivered -> released; disputed is terminal and holds
// the funds pending manual review.
type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "pending"
	EscrowShipped   EscrowStatus = "shipped"
	EscrowDelivered EscrowStatus = "delivered"
	EscrowReleased  EscrowStatus = "released"
	EscrowDisputed  EscrowStatus = "disputed"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowPending,
	EscrowShipped,
	EscrowDelivered,
	EscrowReleased,
	EscrowDisputed,
}

// String implements fmt.Stringer.
func (e EscrowStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowStatus.
func (e EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (e EscrowStatus) IsTerminal() bool {
	return e == EscrowReleased || e == EscrowDisputed
}

// ParseEscrowStatus converts raw input into an EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}

// EscrowActor identifies which side of the trade is requesting a transition.
type EscrowActor string

const (
	EscrowActorBuyer  EscrowActor = "buyer"
	EscrowActorSeller EscrowActor = "seller"
)

var validEscrowActors = []EscrowActor{
	EscrowActorBuyer,
	EscrowActorSeller,
}

// IsValid reports whether the value is a known EscrowActor.
func (a EscrowActor) IsValid() bool {
	for _, candidate := range validEscrowActors {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseEscrowActor converts raw input into an EscrowActor.
func ParseEscrowActor(value string) (EscrowActor, error) {
	for _, candidate := range validEscrowActors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow actor %q", value)
}
