package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPackage_BookingCap(t *testing.T) {
	assert.Equal(t, 5, domain.Package{}.BookingCap())
	assert.Equal(t, 10, domain.Package{IsGroupPackage: true}.BookingCap())
	assert.Equal(t, 3, domain.Package{MaxBookingLimit: 3, IsGroupPackage: true}.BookingCap())
	assert.Equal(t, 12, domain.Package{MaxBookingLimit: 12}.BookingCap())
}

func TestNewBooking_PricesAtCreation(t *testing.T) {
	pkg := domain.Package{ID: uuid.New(), Title: "Bali", PricePerPerson: decimal.RequireFromString("149.99")}
	in := domain.BookingInput{
		PackageID:  pkg.ID,
		Guests:     3,
		TravelDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	now := time.Now()

	b := domain.NewBooking(uuid.New(), pkg, in, now)

	assert.True(t, decimal.RequireFromString("449.97").Equal(b.TotalPrice))
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, pkg.ID, b.PackageID)

	pkg.PricePerPerson = decimal.NewFromInt(1)
	assert.True(t, decimal.RequireFromString("449.97").Equal(b.TotalPrice))

	p := domain.NewPayment(b, "USD", now)
	assert.True(t, b.TotalPrice.Equal(p.Amount))
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Equal(t, b.ID, p.BookingID)
	assert.Equal(t, b.UserID, p.UserID)
}

func TestIdentity_CanAccess(t *testing.T) {
	owner := uuid.New()
	assert.True(t, domain.Identity{UserID: owner}.CanAccess(owner))
	assert.False(t, domain.Identity{UserID: uuid.New()}.CanAccess(owner))
	assert.True(t, domain.Identity{UserID: uuid.New(), Role: domain.RoleAdmin}.CanAccess(owner))
}

func TestNewPage(t *testing.T) {
	p := domain.NewPage(3, 20)
	assert.Equal(t, domain.Page{Limit: 20, Offset: 40}, p)
	assert.Equal(t, 3, p.Number())
	assert.Equal(t, 3, p.TotalPages(41))

	assert.Equal(t, domain.Page{Limit: domain.DefaultPageLimit, Offset: 0}, domain.NewPage(0, 0))
	assert.Equal(t, domain.MaxPageLimit, domain.NewPage(1, 1000).Limit)
	assert.Equal(t, 0, domain.NewPage(1, 10).TotalPages(0))
}
