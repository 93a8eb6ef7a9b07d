package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

type bookingResponse struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	PackageID       uuid.UUID       `json:"package_id"`
	Guests          int             `json:"guests"`
	TravelDate      string          `json:"travel_date"`
	ReturnDate      *string         `json:"return_date"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Notes           string          `json:"notes,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PackageTitle    string          `json:"package_title,omitempty"`
	PricePerPerson  decimal.Decimal `json:"price_per_person"`
	DestinationName string          `json:"destination_name,omitempty"`
	Country         string          `json:"country,omitempty"`
	UserName        string          `json:"user_name,omitempty"`
	UserEmail       string          `json:"user_email,omitempty"`
}

func toBooking(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:              b.ID,
		UserID:          b.UserID,
		PackageID:       b.PackageID,
		Guests:          b.Guests,
		TravelDate:      b.TravelDate.Format(time.DateOnly),
		TotalPrice:      b.TotalPrice,
		Notes:           b.Notes,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		PackageTitle:    b.PackageTitle,
		PricePerPerson:  b.PricePerPerson,
		DestinationName: b.DestinationName,
		Country:         b.Country,
		UserName:        b.UserName,
		UserEmail:       b.UserEmail,
	}
	if b.ReturnDate != nil {
		d := b.ReturnDate.Format(time.DateOnly)
		resp.ReturnDate = &d
	}
	return resp
}

func toBookings(list []domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBooking(b))
	}
	return out
}

type paymentResponse struct {
	ID            uuid.UUID       `json:"id"`
	BookingID     uuid.UUID       `json:"booking_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"payment_method,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        string          `json:"status"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `json:"created_at"`
	PackageTitle  string          `json:"package_title,omitempty"`
	TravelDate    *string         `json:"travel_date,omitempty"`
}

func toPayment(p domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            p.ID,
		BookingID:     p.BookingID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		TransactionID: p.TransactionID,
		Status:        string(p.Status),
		PaidAt:        p.PaidAt,
		CreatedAt:     p.CreatedAt,
		PackageTitle:  p.PackageTitle,
	}
	if p.TravelDate != nil {
		d := p.TravelDate.Format(time.DateOnly)
		resp.TravelDate = &d
	}
	return resp
}

func toPayments(list []domain.Payment) []paymentResponse {
	out := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPayment(p))
	}
	return out
}

type availabilityResponse struct {
	AvailableDate  string `json:"available_date"`
	AvailableSlots int    `json:"available_slots"`
}

type packageResponse struct {
	ID              uuid.UUID              `json:"id"`
	DestinationID   uuid.UUID              `json:"destination_id"`
	Title           string                 `json:"title"`
	PricePerPerson  decimal.Decimal        `json:"price_per_person"`
	DurationDays    int                    `json:"duration_days"`
	MaxGuests       int                    `json:"max_guests"`
	MaxBookingLimit int                    `json:"max_booking_limit"`
	IsGroupPackage  bool                   `json:"is_group_package"`
	Availability    []availabilityResponse `json:"availability"`
}

func toPackage(p domain.Package) packageResponse {
	resp := packageResponse{
		ID:              p.ID,
		DestinationID:   p.DestinationID,
		Title:           p.Title,
		PricePerPerson:  p.PricePerPerson,
		DurationDays:    p.DurationDays,
		MaxGuests:       p.MaxGuests,
		MaxBookingLimit: p.BookingCap(),
		IsGroupPackage:  p.IsGroupPackage,
		Availability:    make([]availabilityResponse, 0, len(p.Availability)),
	}
	for _, a := range p.Availability {
		resp.Availability = append(resp.Availability, availabilityResponse{
			AvailableDate:  a.Date.Format(time.DateOnly),
			AvailableSlots: a.AvailableSlots,
		})
	}
	return resp
}
