package domain

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled, BookingCompleted},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns next if the move from s is legal, or an ErrInvalidInput error.
func (s BookingStatus) TransitionTo(next BookingStatus) (BookingStatus, error) {
	if s == next && s == BookingCancelled {
		return s, Invalid("Booking is already cancelled.")
	}
	if !s.CanTransitionTo(next) {
		return s, Invalid("Booking cannot move from %s to %s.", s, next)
	}
	return next, nil
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) TransitionTo(next PaymentStatus) (PaymentStatus, error) {
	if s != PaymentPending || (next != PaymentCompleted && next != PaymentFailed) {
		return s, Invalid("Payment cannot move from %s to %s.", s, next)
	}
	return next, nil
}
