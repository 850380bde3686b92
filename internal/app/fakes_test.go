package app

import (
	"context"
	"sync"
	"time"

	"github.com/bullionclear/clearing/internal/domain"
	"github.com/bullionclear/clearing/internal/events"
	"github.com/bullionclear/clearing/internal/rail"
)

// fakeCheckoutRepo keeps everything in maps. WithTx serializes callers
// and restores a snapshot on error, mirroring transactional rollback.
// Repo methods themselves do not lock; they run under WithTx or in
// single-goroutine test code.
type fakeCheckoutRepo struct {
	mu           sync.Mutex
	listings     map[string]domain.Listing
	positions    map[string]domain.InventoryPosition
	reservations map[string]domain.Reservation
	orders       map[string]domain.Order
}

func newFakeCheckoutRepo() *fakeCheckoutRepo {
	return &fakeCheckoutRepo{
		listings:     make(map[string]domain.Listing),
		positions:    make(map[string]domain.InventoryPosition),
		reservations: make(map[string]domain.Reservation),
		orders:       make(map[string]domain.Order),
	}
}

func (f *fakeCheckoutRepo) addListing(l domain.Listing, totalGrams int64, now time.Time) {
	f.listings[l.ID] = l
	f.positions[l.ID] = domain.NewInventoryPosition(l.ID, totalGrams, now)
}

func (f *fakeCheckoutRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	listings := cloneMap(f.listings)
	positions := cloneMap(f.positions)
	reservations := cloneMap(f.reservations)
	orders := cloneMap(f.orders)

	if err := fn(ctx); err != nil {
		f.listings = listings
		f.positions = positions
		f.reservations = reservations
		f.orders = orders
		return err
	}
	return nil
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (f *fakeCheckoutRepo) GetListingForUpdate(_ context.Context, listingID string) (domain.Listing, error) {
	l, ok := f.listings[listingID]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return l, nil
}

func (f *fakeCheckoutRepo) GetPosition(_ context.Context, listingID string) (domain.InventoryPosition, error) {
	p, ok := f.positions[listingID]
	if !ok {
		return domain.InventoryPosition{}, domain.ErrListingNotFound
	}
	return p, nil
}

func (f *fakeCheckoutRepo) UpdatePosition(_ context.Context, pos domain.InventoryPosition) error {
	current, ok := f.positions[pos.ListingID]
	if !ok {
		return domain.ErrListingNotFound
	}
	if current.Version != pos.Version {
		return domain.ErrVersionConflict
	}
	pos.Version++
	f.positions[pos.ListingID] = pos
	return nil
}

func (f *fakeCheckoutRepo) FindReservationByIdempotencyKey(_ context.Context, listingID, buyerID, key string) (*domain.Reservation, error) {
	for _, r := range f.reservations {
		if r.ListingID == listingID && r.BuyerID == buyerID && r.IdempotencyKey == key {
			res := r
			return &res, nil
		}
	}
	return nil, nil
}

func (f *fakeCheckoutRepo) GetReservationForUpdate(_ context.Context, reservationID string) (domain.Reservation, error) {
	r, ok := f.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r, nil
}

func (f *fakeCheckoutRepo) CreateReservation(_ context.Context, res domain.Reservation) error {
	for _, existing := range f.reservations {
		if existing.ListingID == res.ListingID && existing.BuyerID == res.BuyerID &&
			existing.IdempotencyKey == res.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	f.reservations[res.ID] = res
	return nil
}

func (f *fakeCheckoutRepo) UpdateReservationState(_ context.Context, reservationID string, from, to domain.ReservationState) error {
	r, ok := f.reservations[reservationID]
	if !ok || r.State != from {
		return domain.ErrVersionConflict
	}
	r.State = to
	f.reservations[reservationID] = r
	return nil
}

func (f *fakeCheckoutRepo) ListExpiredActiveReservations(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.State == domain.ReservationActive && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCheckoutRepo) CreateOrder(_ context.Context, order domain.Order) error {
	for _, existing := range f.orders {
		if existing.ReservationID == order.ReservationID {
			return domain.ErrIdempotencyConflict
		}
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeCheckoutRepo) GetOrderByReservationID(_ context.Context, reservationID string) (*domain.Order, error) {
	for _, o := range f.orders {
		if o.ReservationID == reservationID {
			order := o
			return &order, nil
		}
	}
	return nil, nil
}

// fakeSettlementRepo tracks write counts so tests can assert that
// refused transitions touched nothing.
type fakeSettlementRepo struct {
	cases  map[string]domain.SettlementCase
	orders map[string]domain.Order

	statusWrites int
	gateWrites   int
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{
		cases:  make(map[string]domain.SettlementCase),
		orders: make(map[string]domain.Order),
	}
}

func (f *fakeSettlementRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeSettlementRepo) CreateCase(_ context.Context, sc domain.SettlementCase) error {
	for _, existing := range f.cases {
		if existing.OrderID == sc.OrderID || existing.IdempotencyKey == sc.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	f.cases[sc.ID] = sc
	return nil
}

func (f *fakeSettlementRepo) GetCase(_ context.Context, caseID string) (domain.SettlementCase, error) {
	sc, ok := f.cases[caseID]
	if !ok {
		return domain.SettlementCase{}, domain.ErrCaseNotFound
	}
	return sc, nil
}

func (f *fakeSettlementRepo) GetCaseByOrderID(_ context.Context, orderID string) (*domain.SettlementCase, error) {
	for _, sc := range f.cases {
		if sc.OrderID == orderID {
			found := sc
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeSettlementRepo) UpdateStatus(_ context.Context, caseID string, from, to domain.CaseStatus) error {
	sc, ok := f.cases[caseID]
	if !ok || sc.Status != from {
		return domain.ErrStatusConflict
	}
	sc.Status = to
	f.cases[caseID] = sc
	f.statusWrites++
	return nil
}

func (f *fakeSettlementRepo) SetGate(_ context.Context, caseID string, gate domain.Gate) error {
	sc, ok := f.cases[caseID]
	if !ok {
		return domain.ErrCaseNotFound
	}
	f.cases[caseID] = sc.GateSet(gate)
	f.gateWrites++
	return nil
}

func (f *fakeSettlementRepo) SetEscrowReleased(_ context.Context, caseID string) error {
	sc, ok := f.cases[caseID]
	if !ok {
		return domain.ErrCaseNotFound
	}
	sc.EscrowReleased = true
	f.cases[caseID] = sc
	return nil
}

func (f *fakeSettlementRepo) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeSettlementRepo) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	f.orders[orderID] = o
	return nil
}

type fakePayoutRepo struct {
	attempts []domain.PayoutAttempt
	finality map[string]domain.FinalityRecord
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{finality: make(map[string]domain.FinalityRecord)}
}

func finalityKey(caseID, railName string) string { return caseID + "|" + railName }

func (f *fakePayoutRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakePayoutRepo) FindAttemptByKey(_ context.Context, key string) (*domain.PayoutAttempt, error) {
	for i := range f.attempts {
		if f.attempts[i].IdempotencyKey == key {
			a := f.attempts[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakePayoutRepo) FindLatestAttemptByCase(_ context.Context, caseID string) (*domain.PayoutAttempt, error) {
	for i := len(f.attempts) - 1; i >= 0; i-- {
		if f.attempts[i].SettlementCaseID == caseID {
			a := f.attempts[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakePayoutRepo) CreateAttempt(_ context.Context, a domain.PayoutAttempt) error {
	for i := range f.attempts {
		if f.attempts[i].IdempotencyKey == a.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakePayoutRepo) UpdateAttemptStatus(_ context.Context, attemptID string, status domain.AttemptStatus, externalID string) error {
	for i := range f.attempts {
		if f.attempts[i].ID == attemptID {
			f.attempts[i].Status = status
			f.attempts[i].ExternalTransferID = externalID
			return nil
		}
	}
	return domain.ErrAttemptNotFound
}

func (f *fakePayoutRepo) FindFinality(_ context.Context, caseID, railName string) (*domain.FinalityRecord, error) {
	rec, ok := f.finality[finalityKey(caseID, railName)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakePayoutRepo) RecordFinality(_ context.Context, rec domain.FinalityRecord) error {
	f.finality[finalityKey(rec.SettlementCaseID, rec.Rail)] = rec
	return nil
}

type fakeJournalRepo struct {
	journals    map[string]domain.ClearingJournal
	insertCalls int
}

func newFakeJournalRepo() *fakeJournalRepo {
	return &fakeJournalRepo{journals: make(map[string]domain.ClearingJournal)}
}

func (f *fakeJournalRepo) InsertJournal(_ context.Context, journal domain.ClearingJournal) (bool, error) {
	f.insertCalls++
	if _, exists := f.journals[journal.IdempotencyKey]; exists {
		return false, nil
	}
	f.journals[journal.IdempotencyKey] = journal
	return true, nil
}

func (f *fakeJournalRepo) GetJournalByIdempotencyKey(_ context.Context, key string) (*domain.ClearingJournal, error) {
	j, ok := f.journals[key]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (f *fakeJournalRepo) FindJournalByType(_ context.Context, caseID string, typ domain.JournalType) (*domain.ClearingJournal, error) {
	for _, j := range f.journals {
		if j.SettlementCaseID == caseID && j.Type == typ {
			found := j
			return &found, nil
		}
	}
	return nil, nil
}

type fakeCertificateRepo struct {
	certs       map[string]domain.ClearingCertificate
	insertCalls int
}

func newFakeCertificateRepo() *fakeCertificateRepo {
	return &fakeCertificateRepo{certs: make(map[string]domain.ClearingCertificate)}
}

func (f *fakeCertificateRepo) GetBySettlementID(_ context.Context, caseID string) (*domain.ClearingCertificate, error) {
	c, ok := f.certs[caseID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCertificateRepo) Insert(_ context.Context, cert domain.ClearingCertificate) error {
	f.insertCalls++
	if _, exists := f.certs[cert.SettlementCaseID]; exists {
		return domain.ErrIdempotencyConflict
	}
	f.certs[cert.SettlementCaseID] = cert
	return nil
}

// fakeRail is scripted per test: executeErr controls ExecutePayout,
// verdict controls CheckFinality.
type fakeRail struct {
	name       string
	externalID string
	executeErr error
	verdict    rail.Verdict
	calls      int
}

func (f *fakeRail) Name() string { return f.name }

func (f *fakeRail) ExecutePayout(_ context.Context, _ rail.PayoutRequest) (rail.PayoutResult, error) {
	f.calls++
	if f.executeErr != nil {
		return rail.PayoutResult{}, f.executeErr
	}
	return rail.PayoutResult{ExternalIDs: []string{f.externalID}}, nil
}

func (f *fakeRail) CheckFinality(_ context.Context, _ string) (rail.Verdict, error) {
	if f.verdict == "" {
		return rail.Unknown, nil
	}
	return f.verdict, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// allowAllPolicy approves everything with an empty snapshot.
type allowAllPolicy struct{}

func (allowAllPolicy) Evaluate(_ context.Context, _ PolicyInput) (domain.PolicySnapshot, error) {
	return domain.PolicySnapshot{ApprovalTier: "standard"}, nil
}

// blockingPolicy refuses everything with a block-severity blocker.
type blockingPolicy struct{}

func (blockingPolicy) Evaluate(_ context.Context, _ PolicyInput) (domain.PolicySnapshot, error) {
	return domain.PolicySnapshot{
		ApprovalTier: "blocked",
		Blockers: []domain.PolicyBlocker{
			{Code: "sanctions_hit", Severity: domain.SeverityBlock},
		},
	}, nil
}
