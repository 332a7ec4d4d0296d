package domain

// EventCode is an opaque notification event passed to the dispatcher.
type EventCode string

const (
	EventBalancePaid                  EventCode = "BALANCE_PAID"
	EventPaymentFailedWhenPIF         EventCode = "PAYMENT_FAILED_WHEN_PIF"
	EventPaymentFailedWhenInstallment EventCode = "PAYMENT_FAILED_WHEN_INSTALLMENT"
	EventWelcome                      EventCode = "WELCOME"
	EventNewAccount                   EventCode = "NEW_ACCOUNT"
	EventCreditorRemovedAccount       EventCode = "CREDITOR_REMOVED_ACCOUNT"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Contact is everything the dispatcher needs to decide channel eligibility.
type Contact struct {
	ConsumerID      string
	FirstName       string
	Email           string
	Mobile          string
	EmailPermission bool
	TextPermission  bool
	Unsubscribed    bool
}

// Eligible reports whether ch may be used for this contact.
func (c Contact) Eligible(ch Channel) bool {
	if c.Unsubscribed {
		return false
	}
	switch ch {
	case ChannelEmail:
		return c.EmailPermission && c.Email != ""
	case ChannelSMS:
		return c.TextPermission && c.Mobile != ""
	}
	return false
}
