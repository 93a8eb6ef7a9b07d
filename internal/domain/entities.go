package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultBookingCap = 5
	groupBookingCap   = 10

	// DefaultAvailabilitySlots is used when an availability row is written without a count.
	DefaultAvailabilitySlots = 10
)

type Package struct {
	ID             uuid.UUID
	DestinationID  uuid.UUID
	Title          string
	PricePerPerson decimal.Decimal
	DurationDays   int
	MaxGuests      int
	// MaxBookingLimit caps guests per booking; zero means unset.
	MaxBookingLimit int
	IsGroupPackage  bool
	IsActive        bool
	Availability    []Availability
}

// BookingCap is the largest guest count a single booking may request.
func (p Package) BookingCap() int {
	if p.MaxBookingLimit > 0 {
		return p.MaxBookingLimit
	}
	if p.IsGroupPackage {
		return groupBookingCap
	}
	return defaultBookingCap
}

type Availability struct {
	PackageID      uuid.UUID
	Date           time.Time
	AvailableSlots int
}

type AvailabilityCheck struct {
	Available bool
	Reason    string
}

const ReasonNoAvailability = "No availability for this date."

func InsufficientSlots(slots int) string {
	return fmt.Sprintf("Only %d slots available.", slots)
}

type Booking struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	PackageID  uuid.UUID
	Guests     int
	TravelDate time.Time
	ReturnDate *time.Time
	TotalPrice decimal.Decimal
	Notes      string
	Status     BookingStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Display fields joined in by reads.
	PackageTitle    string
	PricePerPerson  decimal.Decimal
	DestinationName string
	Country         string
	UserName        string
	UserEmail       string
}

type Payment struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Method        string
	TransactionID string
	Status        PaymentStatus
	PaidAt        *time.Time
	CreatedAt     time.Time

	PackageTitle string
	TravelDate   *time.Time
}

type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// NewPage turns 1-based page numbers into an offset window. Out-of-range
// values fall back to the defaults.
func NewPage(number, limit int) Page {
	if number < 1 {
		number = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Limit: limit, Offset: (number - 1) * limit}
}

func (p Page) Number() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// TotalPages is the number of pages needed for total rows.
func (p Page) TotalPages(total int) int {
	if p.Limit <= 0 || total <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

const RoleAdmin = "admin"

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccess reports whether the caller may read or change a row owned by ownerID.
func (i Identity) CanAccess(ownerID uuid.UUID) bool {
	return i.IsAdmin() || i.UserID == ownerID
}
