package services_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mktdigital/marketplace-backend/models"
	"github.com/mktdigital/marketplace-backend/repository"

	"github.com/google/uuid"
)

// In-memory repositories mirroring the constraint behavior of the gorm-backed
// ones: unique reference on sessions, unique payload digest on responses,
// unique payment-response linkage on orders, and the conditional order stamp.

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.PaymentSession
	// forcedCollisions makes the next N creates fail with a duplicate
	// reference, regardless of the stored data.
	forcedCollisions int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*models.PaymentSession)}
}

func (r *memSessionRepo) Create(_ context.Context, session *models.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedCollisions > 0 {
		r.forcedCollisions--
		return repository.ErrDuplicateReference
	}
	if _, ok := r.sessions[session.Reference]; ok {
		return repository.ErrDuplicateReference
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.sessions[session.Reference] = session
	return nil
}

func (r *memSessionRepo) FindByReference(_ context.Context, reference string, now time.Time) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[reference]
	if !ok || session.Expired(now) {
		return nil, nil
	}
	return session, nil
}

func (r *memSessionRepo) FindByPrefix(_ context.Context, prefix string, now time.Time) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prefix == "" {
		return nil, nil
	}
	var best *models.PaymentSession
	for ref, session := range r.sessions {
		if !strings.HasPrefix(ref, prefix) || session.Expired(now) {
			continue
		}
		if best == nil || session.CreatedAt.After(best.CreatedAt) {
			best = session
		}
	}
	return best, nil
}

func (r *memSessionRepo) MostRecentSince(_ context.Context, cutoff, now time.Time) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.PaymentSession
	for _, session := range r.sessions {
		if session.CreatedAt.Before(cutoff) || session.Expired(now) {
			continue
		}
		if best == nil || session.CreatedAt.After(best.CreatedAt) {
			best = session
		}
	}
	return best, nil
}

func (r *memSessionRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for ref, session := range r.sessions {
		if session.Expired(now) {
			delete(r.sessions, ref)
			count++
		}
	}
	return count, nil
}

type memResponseRepo struct {
	mu        sync.Mutex
	responses []*models.PaymentResponse
	// staleActionedReads makes HasOrderForReference report nothing actioned,
	// the view a reconciliation racing ahead of another's commit would see.
	staleActionedReads bool
}

func newMemResponseRepo() *memResponseRepo {
	return &memResponseRepo{}
}

func (r *memResponseRepo) Record(_ context.Context, response *models.PaymentResponse) (bool, *models.PaymentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.responses {
		if existing.PayloadDigest == response.PayloadDigest {
			return false, existing, nil
		}
	}
	if response.ID == uuid.Nil {
		response.ID = uuid.New()
	}
	r.responses = append(r.responses, response)
	return true, response, nil
}

func (r *memResponseRepo) AttachOrder(_ context.Context, responseID, orderID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *models.PaymentResponse
	for _, response := range r.responses {
		if response.ID == responseID {
			target = response
			break
		}
	}
	if target == nil || target.OrderID != nil {
		return false, nil
	}
	// Mirrors the partial unique index: one actioned response per reference.
	for _, response := range r.responses {
		if response.Reference == target.Reference && response.OrderID != nil {
			return false, nil
		}
	}
	id := orderID
	target.OrderID = &id
	return true, nil
}

func (r *memResponseRepo) DetachOrder(_ context.Context, responseID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, response := range r.responses {
		if response.ID == responseID {
			response.OrderID = nil
		}
	}
	return nil
}

func (r *memResponseRepo) HasOrderForReference(_ context.Context, reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleActionedReads {
		return false, nil
	}
	for _, response := range r.responses {
		if response.Reference == reference && response.OrderID != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *memResponseRepo) FindByReference(_ context.Context, reference string) ([]models.PaymentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentResponse
	for i := len(r.responses) - 1; i >= 0; i-- {
		if r.responses[i].Reference == reference {
			out = append(out, *r.responses[i])
		}
	}
	return out, nil
}

func (r *memResponseRepo) LatestByReference(_ context.Context, reference string) (*models.PaymentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.responses) - 1; i >= 0; i-- {
		if r.responses[i].Reference == reference {
			return r.responses[i], nil
		}
	}
	return nil, nil
}

type memOrderRepo struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*models.Order
	byResponse map[uuid.UUID]bool
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders:     make(map[uuid.UUID]*models.Order),
		byResponse: make(map[uuid.UUID]bool),
	}
}

func (r *memOrderRepo) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byResponse[order.PaymentResponseID] {
		return repository.ErrDuplicateOrderForResponse
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.ID] = order
	r.byResponse[order.PaymentResponseID] = true
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id], nil
}

func (r *memOrderRepo) FindByUserID(_ context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, order := range r.orders {
		if order.UserID != nil && *order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memOrderRepo) Cancel(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[id]; ok {
		order.Status = models.OrderStatusCanceled
		order.CancelReason = reason
		canceled := at
		order.CanceledAt = &canceled
	}
	return nil
}

type memCartRepo struct {
	mu    sync.Mutex
	carts map[uuid.UUID]*models.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[uuid.UUID]*models.Cart)}
}

func (r *memCartRepo) Create(_ context.Context, cart *models.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	r.carts[cart.ID] = cart
	return nil
}

func (r *memCartRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carts[id], nil
}

func (r *memCartRepo) AddItem(_ context.Context, item *models.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[item.CartID]
	if !ok {
		return nil
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	cart.Items = append(cart.Items, *item)
	return nil
}

func (r *memCartRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cart, ok := r.carts[id]; ok {
		cart.Status = models.CartStatusCompleted
	}
	return nil
}

func (r *memCartRepo) Reactivate(_ context.Context, id uuid.UUID, newExpiry time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[id]
	if !ok || cart.Status != models.CartStatusCompleted {
		return false, nil
	}
	cart.Status = models.CartStatusActive
	cart.ExpiresAt = newExpiry
	return true, nil
}

// capturingPublisher collects published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (p *capturingPublisher) SendPaymentEvent(_ context.Context, event models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Events() []models.PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.PaymentEvent, len(p.events))
	copy(out, p.events)
	return out
}
