package booking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/robertarktes/traveland-bookings/internal/domain"
)

type ChargeResult struct {
	Succeeded     bool
	TransactionID string
}

// Gateway charges a booking's total.
type Gateway interface {
	Charge(ctx context.Context, b *domain.Booking, method string) (ChargeResult, error)
}

// SimulatedGateway approves every charge.
type SimulatedGateway struct{}

func (SimulatedGateway) Charge(_ context.Context, _ *domain.Booking, _ string) (ChargeResult, error) {
	return ChargeResult{Succeeded: true, TransactionID: NewTransactionID(time.Now())}, nil
}

// NewTransactionID formats TXN-<unix-ms>-<random>.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN-%d-%09d", now.UnixMilli(), rand.IntN(1_000_000_000))
}
