package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mktdigital/marketplace-backend/gateway"
	"github.com/mktdigital/marketplace-backend/models"
	"github.com/mktdigital/marketplace-backend/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type reconcileEnv struct {
	sessions  *memSessionRepo
	responses *memResponseRepo
	orders    *memOrderRepo
	carts     *memCartRepo
	publisher *capturingPublisher
	svc       *services.ReconciliationService
}

func newReconcileEnv(t *testing.T) *reconcileEnv {
	t.Helper()
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)

	env := &reconcileEnv{
		sessions:  newMemSessionRepo(),
		responses: newMemResponseRepo(),
		orders:    newMemOrderRepo(),
		carts:     newMemCartRepo(),
		publisher: &capturingPublisher{},
	}
	env.svc = services.NewReconciliationService(
		env.sessions, env.responses, env.orders, env.carts,
		nil, env.publisher, nil, "", logger,
	)
	return env
}

// seedCheckout stores a cart with two active items and a live session
// referencing it, and returns both.
func (e *reconcileEnv) seedCheckout(t *testing.T, reference string) (*models.Cart, *models.PaymentSession) {
	t.Helper()
	cart := &models.Cart{
		Status:   models.CartStatusActive,
		Currency: "MXN",
		Items: []models.CartItem{
			{ProductID: uuid.New(), Name: "Camiseta", UnitPrice: 11600, Quantity: 2, Active: true},
			{ProductID: uuid.New(), Name: "Gorra", UnitPrice: 5800, Quantity: 1, Active: true},
			{ProductID: uuid.New(), Name: "Removed", UnitPrice: 9900, Quantity: 1, Active: false},
		},
	}
	assert.NoError(t, e.carts.Create(context.Background(), cart))
	for i := range cart.Items {
		cart.Items[i].CartID = cart.ID
	}

	session := &models.PaymentSession{
		Reference: reference,
		CartID:    cart.ID,
		FormHTML:  "<html></html>",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}
	assert.NoError(t, e.sessions.Create(context.Background(), session))
	return cart, session
}

func callbackXML(reference, response, errorCode, errorMessage string) string {
	return fmt.Sprintf(`<CENTEROFPAYMENTS>
  <reference>%s</reference>
  <response>%s</response>
  <foliocpagos>077000111</foliocpagos>
  <auth>654321</auth>
  <cd_error>%s</cd_error>
  <nb_error>%s</nb_error>
  <amount>290.00</amount>
  <cc_number>4111***1111</cc_number>
</CENTEROFPAYMENTS>`, reference, response, errorCode, errorMessage)
}

func reconcile(t *testing.T, env *reconcileEnv, raw string) *services.ReconcileOutcome {
	t.Helper()
	cb, err := gateway.ParseCallback(raw)
	assert.NoError(t, err)
	outcome, err := env.svc.Reconcile(context.Background(), &services.ReconcileInput{Callback: cb, Raw: raw})
	assert.NoError(t, err)
	return outcome
}

func TestReconcile_ApprovedCreatesOrder(t *testing.T) {
	env := newReconcileEnv(t)
	cart, _ := env.seedCheckout(t, "MKT17000000000001AAAA")

	raw := callbackXML("MKT17000000000001AAAA", "approved", "", "")
	outcome := reconcile(t, env, raw)

	assert.Equal(t, services.MatchExact, outcome.Match)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.PaymentStatusApproved, outcome.Response.Status)
	if !assert.NotNil(t, outcome.Order) {
		return
	}

	order := outcome.Order
	assert.Equal(t, "ORD-MKT17000000000001AAAA", order.OrderNumber)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "654321", order.AuthCode)
	assert.Len(t, order.OrderItems, 2) // inactive item excluded

	// 11600 gross at 16% IVA is 10000 pre-tax; 5800 is 5000.
	assert.Equal(t, int64(25000), order.Subtotal)
	assert.Equal(t, int64(4000), order.Tax)
	assert.Equal(t, int64(29000), order.Total)
	assert.Equal(t, cart.Total(), order.Total)

	// Response stamped, cart closed.
	assert.NotNil(t, outcome.Response.OrderID)
	assert.Equal(t, order.ID, *outcome.Response.OrderID)
	stored, _ := env.carts.FindByID(context.Background(), cart.ID)
	assert.Equal(t, models.CartStatusCompleted, stored.Status)

	types := []string{}
	for _, ev := range env.publisher.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"payment_approved", "order_created"}, types)
}

func TestReconcile_DuplicateDeliveryIsNoOp(t *testing.T) {
	env := newReconcileEnv(t)
	env.seedCheckout(t, "MKT17000000000002BBBB")

	raw := callbackXML("MKT17000000000002BBBB", "approved", "", "")
	first := reconcile(t, env, raw)
	assert.NotNil(t, first.Order)

	second := reconcile(t, env, raw)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Order)
	assert.Len(t, env.orders.orders, 1)
	assert.Len(t, env.responses.responses, 1)
}

func TestReconcile_SecondApprovalForReferenceSkipsOrder(t *testing.T) {
	env := newReconcileEnv(t)
	env.seedCheckout(t, "MKT17000000000003CCCC")

	first := reconcile(t, env, callbackXML("MKT17000000000003CCCC", "approved", "", ""))
	assert.NotNil(t, first.Order)

	// Different raw bytes, same reference: recorded, but never a second order.
	second := reconcile(t, env, callbackXML("MKT17000000000003CCCC", "Aprobada", "", ""))
	assert.False(t, second.Duplicate)
	assert.Nil(t, second.Order)
	assert.Len(t, env.orders.orders, 1)
	assert.Len(t, env.responses.responses, 2)
}

func TestReconcile_ConcurrentApprovalsYieldOneOrder(t *testing.T) {
	env := newReconcileEnv(t)
	env.seedCheckout(t, "MKT17000000000015QQQQ")

	// Both deliveries observe the reference as not yet actioned, as two
	// reconciliations racing past each other's pre-check would. The stamp
	// constraint is then the only thing standing between them and a second
	// order.
	env.responses.staleActionedReads = true

	first := reconcile(t, env, callbackXML("MKT17000000000015QQQQ", "approved", "", ""))
	second := reconcile(t, env, callbackXML("MKT17000000000015QQQQ", "Aprobada", "", ""))

	assert.NotNil(t, first.Order)
	assert.Nil(t, second.Order)
	assert.Len(t, env.orders.orders, 1)

	// The losing delivery is still recorded, just never stamped.
	assert.False(t, second.Duplicate)
	assert.Nil(t, second.Response.OrderID)
	assert.Len(t, env.responses.responses, 2)
}

func TestReconcile_FolioExactMatch(t *testing.T) {
	env := newReconcileEnv(t)
	_, session := env.seedCheckout(t, "MKT123_ABC")

	// No reference or 3DS echo; the folio alone carries the session
	// reference, and matching it exactly outranks the prefix rule the
	// underscore would otherwise trigger.
	raw := `<CENTEROFPAYMENTS><foliocpagos>MKT123_ABC</foliocpagos><response>approved</response><auth>777</auth></CENTEROFPAYMENTS>`
	outcome := reconcile(t, env, raw)

	assert.Equal(t, services.MatchExact, outcome.Match)
	assert.Equal(t, session.ID, *outcome.Response.SessionID)
	assert.Equal(t, "MKT123_ABC", outcome.Response.Reference)
	assert.NotNil(t, outcome.Order)
}

func TestReconcile_ExactMatchBeatsMoreRecentSession(t *testing.T) {
	env := newReconcileEnv(t)
	_, older := env.seedCheckout(t, "MKT17000000000004DDDD")
	older.CreatedAt = time.Now().Add(-30 * time.Minute)
	env.seedCheckout(t, "MKT17000000000005EEEE")

	outcome := reconcile(t, env, callbackXML("MKT17000000000004DDDD", "approved", "", ""))

	assert.Equal(t, services.MatchExact, outcome.Match)
	assert.Equal(t, older.ID, *outcome.Response.SessionID)
}

func TestReconcile_PrefixMatch(t *testing.T) {
	env := newReconcileEnv(t)
	_, session := env.seedCheckout(t, "MKT17000000000006FFFF")

	// The gateway sometimes suffixes the reference with an attempt counter.
	outcome := reconcile(t, env, callbackXML("MKT17000000000006FFFF_2", "approved", "", ""))

	assert.Equal(t, services.MatchPrefix, outcome.Match)
	assert.Equal(t, session.ID, *outcome.Response.SessionID)
	assert.NotNil(t, outcome.Order)
}

func TestReconcile_RecencyFallback(t *testing.T) {
	env := newReconcileEnv(t)
	_, session := env.seedCheckout(t, "MKT17000000000007GGGG")

	// Callback reference shares nothing with the session.
	outcome := reconcile(t, env, callbackXML("UNRELATED999", "approved", "", ""))

	assert.Equal(t, services.MatchRecency, outcome.Match)
	assert.Equal(t, session.ID, *outcome.Response.SessionID)
}

func TestReconcile_ExpiredSessionIsInvisible(t *testing.T) {
	env := newReconcileEnv(t)
	_, session := env.seedCheckout(t, "MKT17000000000008HHHH")
	session.ExpiresAt = time.Now().Add(-time.Minute)

	outcome := reconcile(t, env, callbackXML("MKT17000000000008HHHH", "approved", "", ""))

	// Degraded mode: recorded for audit, no session, no order.
	assert.Equal(t, services.MatchNone, outcome.Match)
	assert.Nil(t, outcome.Response.SessionID)
	assert.Nil(t, outcome.Order)
	assert.Equal(t, "MKT17000000000008HHHH", outcome.Response.Reference)
}

func TestReconcile_NoSessionAtAll(t *testing.T) {
	env := newReconcileEnv(t)

	outcome := reconcile(t, env, callbackXML("MKT17000000000009JJJJ", "approved", "", ""))

	assert.Equal(t, services.MatchNone, outcome.Match)
	assert.Nil(t, outcome.Order)
	assert.Len(t, env.responses.responses, 1)
}

func TestReconcile_ErrorReactivatesCompletedCart(t *testing.T) {
	env := newReconcileEnv(t)
	cart, _ := env.seedCheckout(t, "MKT17000000000010KKKK")
	assert.NoError(t, env.carts.MarkCompleted(context.Background(), cart.ID))

	outcome := reconcile(t, env, callbackXML("MKT17000000000010KKKK", "error", "05", "FONDOS INSUFICIENTES"))

	assert.Equal(t, models.PaymentStatusError, outcome.Response.Status)
	assert.Nil(t, outcome.Order)
	assert.Empty(t, env.orders.orders)

	stored, _ := env.carts.FindByID(context.Background(), cart.ID)
	assert.Equal(t, models.CartStatusActive, stored.Status)
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(6*24*time.Hour)))

	events := env.publisher.Events()
	if assert.Len(t, events, 1) {
		assert.Equal(t, "payment_failed", events[0].Type)
		assert.Equal(t, "05", events[0].ErrorCode)
	}
}

func TestReconcile_ErrorLeavesActiveCartAlone(t *testing.T) {
	env := newReconcileEnv(t)
	cart, _ := env.seedCheckout(t, "MKT17000000000011LLLL")

	reconcile(t, env, callbackXML("MKT17000000000011LLLL", "denegada", "", ""))

	stored, _ := env.carts.FindByID(context.Background(), cart.ID)
	assert.Equal(t, models.CartStatusActive, stored.Status)
}

func TestReconcile_DeclinedStaysPending(t *testing.T) {
	env := newReconcileEnv(t)
	cart, _ := env.seedCheckout(t, "MKT17000000000012MMMM")

	outcome := reconcile(t, env, callbackXML("MKT17000000000012MMMM", "declined", "", ""))

	assert.Equal(t, models.PaymentStatusPending, outcome.Response.Status)
	assert.Nil(t, outcome.Order)
	assert.Empty(t, env.orders.orders)
	assert.Empty(t, env.publisher.Events())

	stored, _ := env.carts.FindByID(context.Background(), cart.ID)
	assert.Equal(t, models.CartStatusActive, stored.Status)
}

func TestReconcile_EmptyCartAbortsOrder(t *testing.T) {
	env := newReconcileEnv(t)
	cart := &models.Cart{Status: models.CartStatusActive, Currency: "MXN"}
	assert.NoError(t, env.carts.Create(context.Background(), cart))
	session := &models.PaymentSession{
		Reference: "MKT17000000000013NNNN",
		CartID:    cart.ID,
		FormHTML:  "<html></html>",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}
	assert.NoError(t, env.sessions.Create(context.Background(), session))

	outcome := reconcile(t, env, callbackXML("MKT17000000000013NNNN", "approved", "", ""))

	assert.Nil(t, outcome.Order)
	assert.Empty(t, env.orders.orders)
	assert.Len(t, env.responses.responses, 1)
}

func TestReconcile_SuppliedSessionShortCircuits(t *testing.T) {
	env := newReconcileEnv(t)
	_, session := env.seedCheckout(t, "MKT17000000000014PPPP")

	raw := callbackXML("SOMETHING-ELSE", "approved", "", "")
	cb, err := gateway.ParseCallback(raw)
	assert.NoError(t, err)

	outcome, err := env.svc.Reconcile(context.Background(), &services.ReconcileInput{
		Callback: cb,
		Raw:      raw,
		Session:  session,
	})
	assert.NoError(t, err)
	assert.Equal(t, services.MatchExact, outcome.Match)
	assert.NotNil(t, outcome.Order)
}
