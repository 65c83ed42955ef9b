package models

// The status and type enums below mirror the rows of the lookup tables.
// lookup.Validate checks at startup that both sides agree exactly.

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

// EventStatuses lists every EventStatus.
func EventStatuses() []string {
	return []string{string(EventStatusUpcoming), string(EventStatusOngoing), string(EventStatusCompleted), string(EventStatusCancelled)}
}

// RegistrationWindow is whether an event accepts new registrations.
type RegistrationWindow string

const (
	RegistrationOpen   RegistrationWindow = "open"
	RegistrationClosed RegistrationWindow = "closed"
	RegistrationFull   RegistrationWindow = "full"
)

// RegistrationWindows lists every RegistrationWindow.
func RegistrationWindows() []string {
	return []string{string(RegistrationOpen), string(RegistrationClosed), string(RegistrationFull)}
}

// RegistrationStatus is the state of one user's registration for an event.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationAttended  RegistrationStatus = "attended"
	RegistrationRefunded  RegistrationStatus = "refunded"
)

// RegistrationStatuses lists every RegistrationStatus.
func RegistrationStatuses() []string {
	return []string{
		string(RegistrationPending), string(RegistrationConfirmed), string(RegistrationCancelled),
		string(RegistrationAttended), string(RegistrationRefunded),
	}
}

// Active reports whether the registration still holds (or is acquiring) a seat.
func (s RegistrationStatus) Active() bool {
	return s == RegistrationPending || s == RegistrationConfirmed || s == RegistrationAttended
}

// Counted reports whether the registration is included in the event's participant counter.
func (s RegistrationStatus) Counted() bool {
	return s == RegistrationConfirmed || s == RegistrationAttended
}

// PaymentStatus is shared by registrations and payment transactions.
type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentCompleted   PaymentStatus = "completed"
	PaymentFailed      PaymentStatus = "failed"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentExpired     PaymentStatus = "expired"
	PaymentRefunded    PaymentStatus = "refunded"
)

// PaymentStatuses lists every PaymentStatus.
func PaymentStatuses() []string {
	return []string{
		string(PaymentNotRequired), string(PaymentPending), string(PaymentCompleted), string(PaymentFailed),
		string(PaymentCancelled), string(PaymentExpired), string(PaymentRefunded),
	}
}

// CanTransition reports whether a payment transaction may move from s to next.
// pending moves to any terminal state; completed may only be refunded.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		switch next {
		case PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentExpired:
			return true
		}
	case PaymentCompleted:
		return next == PaymentRefunded
	}
	return false
}

// Terminal reports whether no further transition is possible except refund marking.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending && s != PaymentNotRequired
}

// PaymentGateway identifies the payment provider.
type PaymentGateway string

const (
	GatewayUddoktaPay PaymentGateway = "uddoktapay"
	GatewayStripe     PaymentGateway = "stripe"
	GatewayPayPal     PaymentGateway = "paypal"
)

// PaymentGateways lists every PaymentGateway.
func PaymentGateways() []string {
	return []string{string(GatewayUddoktaPay), string(GatewayStripe), string(GatewayPayPal)}
}

// EventMode is how an event is attended.
type EventMode string

const (
	EventModeOnline  EventMode = "online"
	EventModeOffline EventMode = "offline"
	EventModeHybrid  EventMode = "hybrid"
)

// EventModes lists every EventMode.
func EventModes() []string {
	return []string{string(EventModeOnline), string(EventModeOffline), string(EventModeHybrid)}
}

// Role represents user role in the platform.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Roles lists every Role.
func Roles() []string {
	return []string{string(RoleUser), string(RoleAdmin)}
}
