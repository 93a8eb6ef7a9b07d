// Package bookingtest provides an in-memory implementation of every booking
// storage port. Units of work are serialized and roll back on error, so
// coordinator tests observe the same all-or-nothing behaviour as the
// postgres adapter. Reads outside a unit of work see uncommitted state.
package bookingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

type slotKey struct {
	pkg  uuid.UUID
	date string
}

func keyOf(pkg uuid.UUID, date time.Time) slotKey {
	return slotKey{pkg: pkg, date: date.Format(time.DateOnly)}
}

type user struct {
	name, email string
}

type state struct {
	packages     map[uuid.UUID]domain.Package
	slots        map[slotKey]int
	bookings     map[uuid.UUID]domain.Booking
	bookingOrder []uuid.UUID
	payments     map[uuid.UUID]domain.Payment
	paymentOrder []uuid.UUID
	events       []domain.OutboxEvent
}

func (s state) clone() state {
	c := state{
		packages:     make(map[uuid.UUID]domain.Package, len(s.packages)),
		slots:        make(map[slotKey]int, len(s.slots)),
		bookings:     make(map[uuid.UUID]domain.Booking, len(s.bookings)),
		bookingOrder: append([]uuid.UUID(nil), s.bookingOrder...),
		payments:     make(map[uuid.UUID]domain.Payment, len(s.payments)),
		paymentOrder: append([]uuid.UUID(nil), s.paymentOrder...),
		events:       append([]domain.OutboxEvent(nil), s.events...),
	}
	for k, v := range s.packages {
		c.packages[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

type Store struct {
	txMu sync.Mutex

	mu    sync.Mutex
	st    state
	users map[uuid.UUID]user

	failDecrement  int
	paymentErr     error
	findErr        error
	commits        int
	rollbacks      int
	beforeDecrease func()
}

func NewStore() *Store {
	return &Store{
		st: state{
			packages: map[uuid.UUID]domain.Package{},
			slots:    map[slotKey]int{},
			bookings: map[uuid.UUID]domain.Booking{},
			payments: map[uuid.UUID]domain.Payment{},
		},
		users: map[uuid.UUID]user{},
	}
}

// WithTx runs fn with exclusive access and restores the previous state when
// fn fails. The tx handed to fn is nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.st = snap
		s.rollbacks++
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

// Stores returns per-table views of the store for booking.NewCoordinator.
func (s *Store) Stores() booking.Stores {
	return booking.Stores{
		Catalog:   catalog{s},
		Inventory: inventory{s},
		Bookings:  bookings{s},
		Payments:  payments{s},
		Outbox:    outbox{s},
	}
}

// Seeding and inspection helpers.

func (s *Store) AddPackage(p domain.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.IsActive = true
	s.st.packages[p.ID] = p
}

func (s *Store) SetPrice(pkgID uuid.UUID, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.packages[pkgID]
	p.PricePerPerson = price
	s.st.packages[pkgID] = p
}

func (s *Store) Deactivate(pkgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.packages[pkgID]
	p.IsActive = false
	s.st.packages[pkgID] = p
}

func (s *Store) AddUser(id uuid.UUID, name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = user{name: name, email: email}
}

func (s *Store) SetSlots(pkgID uuid.UUID, date time.Time, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.slots[keyOf(pkgID, date)] = n
}

func (s *Store) Slots(pkgID uuid.UUID, date time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.st.slots[keyOf(pkgID, date)]
	return n, ok
}

func (s *Store) BookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.bookings)
}

func (s *Store) BookingIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.st.bookingOrder...)
}

func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.payments)
}

func (s *Store) PaymentsFor(bookingID uuid.UUID) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, id := range s.st.paymentOrder {
		if p := s.st.payments[id]; p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Events() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.st.events...)
}

// EventTypes lists the outbox event types in insertion order.
func (s *Store) EventTypes() []string {
	var out []string
	for _, ev := range s.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

// Backdate moves a booking's creation time, for expiry tests.
func (s *Store) Backdate(bookingID uuid.UUID, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.st.bookings[bookingID]
	b.CreatedAt = createdAt
	s.st.bookings[bookingID] = b
}

// FailNextDecrements makes the next n guarded decrements report that the
// guard did not hold, as if a concurrent unit of work took the slots first.
func (s *Store) FailNextDecrements(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDecrement = n
}

// FailPaymentCreate makes every payment insert return err until reset with nil.
func (s *Store) FailPaymentCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentErr = err
}

// FailFindByID makes every booking lookup by id return err until reset with nil.
func (s *Store) FailFindByID(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

// BeforeDecrement registers a hook run before each guarded decrement,
// outside the store lock.
func (s *Store) BeforeDecrement(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeDecrease = fn
}

func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

type catalog struct{ s *Store }

func (c catalog) GetPackage(_ context.Context, _ postgres.DBTX, id uuid.UUID) (*domain.Package, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.st.packages[id]
	if !ok || !p.IsActive {
		return nil, domain.NotFound("Package not found.")
	}
	return &p, nil
}

type inventory struct{ s *Store }

func (i inventory) CheckAvailability(_ context.Context, _ postgres.DBTX, pkgID uuid.UUID, date time.Time, guests int) (domain.AvailabilityCheck, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	n, ok := i.s.st.slots[keyOf(pkgID, date)]
	if !ok {
		return domain.AvailabilityCheck{Reason: domain.ReasonNoAvailability}, nil
	}
	if n < guests {
		return domain.AvailabilityCheck{Reason: domain.InsufficientSlots(n)}, nil
	}
	return domain.AvailabilityCheck{Available: true}, nil
}

func (i inventory) DecrementSlots(_ context.Context, _ postgres.DBTX, pkgID uuid.UUID, date time.Time, guests int) (bool, error) {
	i.s.mu.Lock()
	hook := i.s.beforeDecrease
	i.s.mu.Unlock()
	if hook != nil {
		hook()
	}

	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if i.s.failDecrement > 0 {
		i.s.failDecrement--
		return false, nil
	}
	k := keyOf(pkgID, date)
	n, ok := i.s.st.slots[k]
	if !ok || n < guests {
		return false, nil
	}
	i.s.st.slots[k] = n - guests
	return true, nil
}

func (i inventory) ReleaseSlots(_ context.Context, _ postgres.DBTX, pkgID uuid.UUID, date time.Time, guests int) (bool, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	k := keyOf(pkgID, date)
	n, ok := i.s.st.slots[k]
	if !ok {
		return false, nil
	}
	i.s.st.slots[k] = n + guests
	return true, nil
}

func (i inventory) ReplaceAvailability(_ context.Context, _ postgres.DBTX, pkgID uuid.UUID, slots []domain.Availability) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	for k := range i.s.st.slots {
		if k.pkg == pkgID {
			delete(i.s.st.slots, k)
		}
	}
	for _, a := range slots {
		k := keyOf(pkgID, a.Date)
		if _, dup := i.s.st.slots[k]; dup {
			return errors.Newf("duplicate availability for %s", k.date)
		}
		i.s.st.slots[k] = a.AvailableSlots
	}
	return nil
}

func (i inventory) ListAvailability(_ context.Context, _ postgres.DBTX, pkgID uuid.UUID, from time.Time) ([]domain.Availability, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	var out []domain.Availability
	for k, n := range i.s.st.slots {
		if k.pkg != pkgID {
			continue
		}
		d, _ := time.Parse(time.DateOnly, k.date)
		if d.Before(from) {
			continue
		}
		out = append(out, domain.Availability{PackageID: pkgID, Date: d, AvailableSlots: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date.Before(out[b].Date) })
	return out, nil
}

type bookings struct{ s *Store }

func (l bookings) Create(_ context.Context, _ postgres.DBTX, b *domain.Booking) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if _, dup := l.s.st.bookings[b.ID]; dup {
		return errors.Newf("duplicate booking id %s", b.ID)
	}
	l.s.st.bookings[b.ID] = *b
	l.s.st.bookingOrder = append(l.s.st.bookingOrder, b.ID)
	return nil
}

func (l bookings) FindByID(_ context.Context, _ postgres.DBTX, id uuid.UUID) (*domain.Booking, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.findErr != nil {
		return nil, l.s.findErr
	}
	b, ok := l.s.st.bookings[id]
	if !ok {
		return nil, domain.NotFound("Booking not found.")
	}
	v := l.s.view(b)
	return &v, nil
}

func (l bookings) LockByID(_ context.Context, _ postgres.DBTX, id uuid.UUID) (*domain.Booking, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	b, ok := l.s.st.bookings[id]
	if !ok {
		return nil, domain.NotFound("Booking not found.")
	}
	return &b, nil
}

func (l bookings) UpdateStatus(_ context.Context, _ postgres.DBTX, id uuid.UUID, status domain.BookingStatus) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	b, ok := l.s.st.bookings[id]
	if !ok {
		return 0, nil
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	l.s.st.bookings[id] = b
	return 1, nil
}

func (l bookings) ListByUser(_ context.Context, userID uuid.UUID, page domain.Page) ([]domain.Booking, int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var all []domain.Booking
	for i := len(l.s.st.bookingOrder) - 1; i >= 0; i-- {
		b := l.s.st.bookings[l.s.st.bookingOrder[i]]
		if b.UserID == userID {
			all = append(all, l.s.view(b))
		}
	}
	return paginate(all, page), len(all), nil
}

func (l bookings) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var stale []domain.Booking
	for _, id := range l.s.st.bookingOrder {
		b := l.s.st.bookings[id]
		if b.Status == domain.BookingPending && b.CreatedAt.Before(cutoff) {
			stale = append(stale, b)
		}
	}
	sort.SliceStable(stale, func(a, b int) bool { return stale[a].CreatedAt.Before(stale[b].CreatedAt) })
	var ids []uuid.UUID
	for _, b := range stale {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// view fills display fields the way the SQL join does. Caller holds mu.
func (s *Store) view(b domain.Booking) domain.Booking {
	if p, ok := s.st.packages[b.PackageID]; ok {
		b.PackageTitle = p.Title
		b.PricePerPerson = p.PricePerPerson
	}
	if u, ok := s.users[b.UserID]; ok {
		b.UserName = u.name
		b.UserEmail = u.email
	}
	return b
}

type payments struct{ s *Store }

func (l payments) Create(_ context.Context, _ postgres.DBTX, p *domain.Payment) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.paymentErr != nil {
		return l.s.paymentErr
	}
	l.s.st.payments[p.ID] = *p
	l.s.st.paymentOrder = append(l.s.st.paymentOrder, p.ID)
	return nil
}

func (l payments) UpdateStatus(_ context.Context, _ postgres.DBTX, id uuid.UUID, status domain.PaymentStatus, paidAt *time.Time) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	p, ok := l.s.st.payments[id]
	if !ok {
		return 0, nil
	}
	p.Status = status
	p.PaidAt = paidAt
	l.s.st.payments[id] = p
	return 1, nil
}

func (l payments) SetGatewayReference(_ context.Context, _ postgres.DBTX, id uuid.UUID, method, transactionID string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	p, ok := l.s.st.payments[id]
	if !ok {
		return domain.NotFound("Payment not found.")
	}
	p.Method = method
	p.TransactionID = transactionID
	l.s.st.payments[id] = p
	return nil
}

func (l payments) LockPendingByBooking(_ context.Context, _ postgres.DBTX, bookingID uuid.UUID) (*domain.Payment, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for i := len(l.s.st.paymentOrder) - 1; i >= 0; i-- {
		p := l.s.st.payments[l.s.st.paymentOrder[i]]
		if p.BookingID == bookingID && p.Status == domain.PaymentPending {
			return &p, nil
		}
	}
	return nil, domain.NotFound("Payment not found.")
}

func (l payments) FailPending(_ context.Context, _ postgres.DBTX, bookingID uuid.UUID) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var n int64
	for id, p := range l.s.st.payments {
		if p.BookingID == bookingID && p.Status == domain.PaymentPending {
			p.Status = domain.PaymentFailed
			l.s.st.payments[id] = p
			n++
		}
	}
	return n, nil
}

func (l payments) GetByBookingID(_ context.Context, bookingID uuid.UUID) ([]domain.Payment, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []domain.Payment
	for i := len(l.s.st.paymentOrder) - 1; i >= 0; i-- {
		if p := l.s.st.payments[l.s.st.paymentOrder[i]]; p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (l payments) ListByUser(_ context.Context, userID uuid.UUID, page domain.Page) ([]domain.Payment, int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var all []domain.Payment
	for i := len(l.s.st.paymentOrder) - 1; i >= 0; i-- {
		p := l.s.st.payments[l.s.st.paymentOrder[i]]
		if p.UserID != userID {
			continue
		}
		if b, ok := l.s.st.bookings[p.BookingID]; ok {
			d := b.TravelDate
			p.TravelDate = &d
			if pkg, ok := l.s.st.packages[b.PackageID]; ok {
				p.PackageTitle = pkg.Title
			}
		}
		all = append(all, p)
	}
	return paginate(all, page), len(all), nil
}

type outbox struct{ s *Store }

func (o outbox) Insert(_ context.Context, _ postgres.DBTX, ev domain.OutboxEvent) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, existing := range o.s.st.events {
		if existing.DedupeKey == ev.DedupeKey {
			return errors.Newf("duplicate outbox dedupe key %s", ev.DedupeKey)
		}
	}
	o.s.st.events = append(o.s.st.events, ev)
	return nil
}

func paginate[T any](all []T, page domain.Page) []T {
	if page.Offset >= len(all) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[page.Offset:end]
}
