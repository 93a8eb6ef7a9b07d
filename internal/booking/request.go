package booking

import (
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks v's validate tags and reports the first failure as
// an ErrInvalidInput error with a readable message.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Invalid("Invalid request body.")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return domain.Invalid("%s is required.", fe.Field())
	case "uuid":
		return domain.Invalid("%s must be a valid id.", fe.Field())
	case "datetime":
		return domain.Invalid("%s must be a date in YYYY-MM-DD format.", fe.Field())
	case "max":
		return domain.Invalid("%s is too long.", fe.Field())
	case "min", "gte":
		return domain.Invalid("%s must be at least %s.", fe.Field(), fe.Param())
	case "oneof":
		return domain.Invalid("%s must be one of: %s.", fe.Field(), fe.Param())
	default:
		return domain.Invalid("%s is invalid.", fe.Field())
	}
}

// CreateRequest is the POST /bookings body.
type CreateRequest struct {
	PackageID  string  `json:"package_id" validate:"required,uuid"`
	Guests     *int    `json:"guests"`
	TravelDate string  `json:"travel_date" validate:"required,datetime=2006-01-02"`
	ReturnDate *string `json:"return_date" validate:"omitempty,datetime=2006-01-02"`
	Notes      *string `json:"notes" validate:"omitempty,max=2000"`
}

func (r CreateRequest) Validate() (domain.BookingInput, error) {
	if err := ValidateStruct(r); err != nil {
		return domain.BookingInput{}, err
	}

	in := domain.BookingInput{
		PackageID: uuid.MustParse(r.PackageID),
		Guests:    1,
	}
	if r.Guests != nil {
		if *r.Guests < 1 {
			return domain.BookingInput{}, domain.Invalid("guests must be at least 1.")
		}
		in.Guests = *r.Guests
	}

	travel, err := ParseDate(r.TravelDate)
	if err != nil {
		return domain.BookingInput{}, domain.Invalid("travel_date must be a date in YYYY-MM-DD format.")
	}
	in.TravelDate = travel

	if r.ReturnDate != nil && *r.ReturnDate != "" {
		ret, err := ParseDate(*r.ReturnDate)
		if err != nil {
			return domain.BookingInput{}, domain.Invalid("return_date must be a date in YYYY-MM-DD format.")
		}
		if ret.Before(travel) {
			return domain.BookingInput{}, domain.Invalid("return_date cannot be before travel_date.")
		}
		in.ReturnDate = &ret
	}

	if r.Notes != nil {
		in.Notes = strings.TrimSpace(*r.Notes)
	}
	return in, nil
}

// ParseDate reads a calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

type SlotRequest struct {
	AvailableDate  string `json:"available_date" validate:"required,datetime=2006-01-02"`
	AvailableSlots *int   `json:"available_slots"`
}

// ReplaceAvailabilityRequest is the admin body for rewriting a package's dates.
type ReplaceAvailabilityRequest struct {
	Slots []SlotRequest `json:"slots" validate:"dive"`
}

func (r ReplaceAvailabilityRequest) Validate(packageID uuid.UUID) ([]domain.Availability, error) {
	if err := ValidateStruct(r); err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool, len(r.Slots))
	out := make([]domain.Availability, 0, len(r.Slots))
	for _, s := range r.Slots {
		date, err := ParseDate(s.AvailableDate)
		if err != nil {
			return nil, domain.Invalid("available_date must be a date in YYYY-MM-DD format.")
		}
		if seen[date] {
			return nil, domain.Invalid("Duplicate availability for %s.", s.AvailableDate)
		}
		seen[date] = true

		slots := domain.DefaultAvailabilitySlots
		if s.AvailableSlots != nil {
			if *s.AvailableSlots < 0 {
				return nil, domain.Invalid("available_slots cannot be negative.")
			}
			slots = *s.AvailableSlots
		}
		out = append(out, domain.Availability{PackageID: packageID, Date: date, AvailableSlots: slots})
	}
	return out, nil
}

// PaymentRequest is the POST /payments body.
type PaymentRequest struct {
	BookingID string `json:"booking_id" validate:"required,uuid"`
	Method    string `json:"method" validate:"omitempty,max=32"`
}

// SettleRequest is a gateway outcome for a booking.
type SettleRequest struct {
	BookingID     uuid.UUID
	Succeeded     bool
	Method        string
	TransactionID string
}
