package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mktdigital/marketplace-backend/gateway"
	"github.com/mktdigital/marketplace-backend/invoicing"
	"github.com/mktdigital/marketplace-backend/kafka"
	"github.com/mktdigital/marketplace-backend/models"
	"github.com/mktdigital/marketplace-backend/pkg/aws"
	"github.com/mktdigital/marketplace-backend/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Session match sources, recorded in logs and on the outcome. The recency
// fallback is a deliberate best-effort guess and is always flagged
// low-confidence.
const (
	MatchExact   = "exact"
	MatchPrefix  = "prefix"
	MatchRecency = "recency_fallback"
	MatchNone    = "none"
)

// recencyWindow bounds the blast radius of the fallback guess.
const recencyWindow = 2 * time.Hour

// cartRetryExtension is how much longer a reactivated cart stays usable after
// a failed payment.
const cartRetryExtension = 7 * 24 * time.Hour

// callbackDedupTTL covers the provider's retry horizon for the Redis
// fast-path duplicate guard.
const callbackDedupTTL = 48 * time.Hour

// ReconcileInput is a parsed callback plus optional out-of-band hints.
type ReconcileInput struct {
	Callback  *gateway.NormalizedCallback
	Raw       string
	ClientIP  string
	UserAgent string
	// Session short-circuits resolution when the caller already holds one.
	Session *models.PaymentSession
}

// ReconcileOutcome reports what one reconciliation pass did.
type ReconcileOutcome struct {
	Response  *models.PaymentResponse
	Order     *models.Order
	Match     string
	Duplicate bool
}

// ReconciliationService matches gateway callbacks to payment sessions and
// produces exactly one order outcome per approved payment, no matter how many
// times or in what order the callbacks arrive.
type ReconciliationService struct {
	sessions  repository.SessionRepository
	responses repository.PaymentResponseRepository
	orders    repository.OrderRepository
	carts     repository.CartRepository

	// redisClient is the optional fast-path duplicate guard; the database
	// constraints remain authoritative when it is nil or down.
	redisClient *redis.Client
	producer    kafka.EventPublisher
	sns         aws.SNSPublisher
	snsTopicArn string

	logger *zap.Logger
	now    func() time.Time
}

func NewReconciliationService(
	sessions repository.SessionRepository,
	responses repository.PaymentResponseRepository,
	orders repository.OrderRepository,
	carts repository.CartRepository,
	redisClient *redis.Client,
	producer kafka.EventPublisher,
	sns aws.SNSPublisher,
	snsTopicArn string,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		sessions:    sessions,
		responses:   responses,
		orders:      orders,
		carts:       carts,
		redisClient: redisClient,
		producer:    producer,
		sns:         sns,
		snsTopicArn: snsTopicArn,
		logger:      logger,
		now:         time.Now,
	}
}

// Reconcile runs the full pipeline: resolve the session, record the callback
// idempotently, then branch on the outcome. It returns an error only for
// infrastructure failures; business-rule dead ends (missing cart, empty cart)
// are logged and absorbed so the callback endpoint can still acknowledge.
func (s *ReconciliationService) Reconcile(ctx context.Context, in *ReconcileInput) (*ReconcileOutcome, error) {
	cb := in.Callback
	outcome := &ReconcileOutcome{Match: MatchNone}

	// Step 1: session resolution, unless the caller already supplied one.
	session := in.Session
	if session != nil {
		outcome.Match = MatchExact
	} else {
		var err error
		session, outcome.Match, err = s.resolveSession(ctx, cb)
		if err != nil {
			return nil, err
		}
	}
	if session == nil {
		// Degraded mode: the callback is still recorded.
		s.logger.Warn("no session resolved for callback, reconciling degraded",
			zap.Strings("references", cb.References()),
			zap.String("client_ip", in.ClientIP),
		)
	} else if outcome.Match == MatchRecency {
		s.logger.Warn("session matched by recency fallback, low confidence",
			zap.String("session_reference", session.Reference),
			zap.Strings("callback_references", cb.References()),
		)
	}

	// Step 2: idempotent recording.
	response, duplicate, err := s.recordCallback(ctx, in, session)
	if err != nil {
		return nil, err
	}
	outcome.Response = response
	outcome.Duplicate = duplicate

	if duplicate && response.OrderID != nil {
		// Identical redelivery already actioned: full no-op.
		s.logger.Info("duplicate callback already actioned, skipping",
			zap.String("reference", response.Reference),
			zap.String("order_id", response.OrderID.String()),
		)
		return outcome, nil
	}

	// Step 3: outcome branch.
	switch response.Status {
	case models.PaymentStatusApproved:
		order := s.materializeOrder(ctx, response, session)
		outcome.Order = order
	case models.PaymentStatusError:
		s.compensateFailure(ctx, response, session)
	default:
		// Unknown or pending: record only, no order effect, no compensation.
		s.logger.Info("callback recorded with non-terminal status",
			zap.String("reference", response.Reference),
			zap.String("status", response.Status),
		)
	}

	return outcome, nil
}

// resolveSession tries the ordered matcher chain and stops at the first hit.
func (s *ReconciliationService) resolveSession(ctx context.Context, cb *gateway.NormalizedCallback) (*models.PaymentSession, string, error) {
	now := s.now()
	matchers := []struct {
		name string
		fn   func(context.Context) (*models.PaymentSession, error)
	}{
		{MatchExact, func(ctx context.Context) (*models.PaymentSession, error) {
			for _, ref := range cb.References() {
				session, err := s.sessions.FindByReference(ctx, ref, now)
				if err != nil || session != nil {
					return session, err
				}
			}
			return nil, nil
		}},
		{MatchPrefix, func(ctx context.Context) (*models.PaymentSession, error) {
			for _, ref := range cb.References() {
				prefix := strings.SplitN(ref, "_", 2)[0]
				if prefix == "" || prefix == ref {
					continue
				}
				session, err := s.sessions.FindByPrefix(ctx, prefix, now)
				if err != nil || session != nil {
					return session, err
				}
			}
			return nil, nil
		}},
		{MatchRecency, func(ctx context.Context) (*models.PaymentSession, error) {
			return s.sessions.MostRecentSince(ctx, now.Add(-recencyWindow), now)
		}},
	}

	for _, m := range matchers {
		session, err := m.fn(ctx)
		if err != nil {
			return nil, MatchNone, err
		}
		if session != nil {
			return session, m.name, nil
		}
	}
	return nil, MatchNone, nil
}

// recordCallback persists the normalized callback exactly once per raw
// payload. Redis short-circuits byte-identical redeliveries cheaply; the
// unique payload digest in the database is the real guarantee.
func (s *ReconciliationService) recordCallback(ctx context.Context, in *ReconcileInput, session *models.PaymentSession) (*models.PaymentResponse, bool, error) {
	cb := in.Callback
	digest := sha256.Sum256([]byte(in.Raw))
	digestHex := hex.EncodeToString(digest[:])

	if s.redisClient != nil {
		set, err := s.redisClient.SetNX(ctx, "idem:callback:"+digestHex, "1", callbackDedupTTL).Result()
		if err != nil {
			s.logger.Warn("redis duplicate guard unavailable, relying on database constraint", zap.Error(err))
		} else if !set {
			if existing, err := s.responses.LatestByReference(ctx, referenceOf(cb, session)); err == nil && existing != nil && existing.PayloadDigest == digestHex {
				return existing, true, nil
			}
		}
	}

	response := &models.PaymentResponse{
		Reference:     referenceOf(cb, session),
		PayloadDigest: digestHex,
		RawPayload:    in.Raw,
		Status:        statusOf(cb),
		ResponseCode:  cb.ResponseCode,
		AuthCode:      cb.AuthCode,
		ErrorCode:     cb.ErrorCode,
		ErrorMessage:  cb.ErrorMessage,
		Folio:         cb.Folio,
		CardType:      cb.CardType,
		MaskedPAN:     cb.MaskedPAN,
		Amount:        cb.Amount,
		Voucher:       cb.Voucher,
	}
	if session != nil {
		response.SessionID = &session.ID
		cartID := session.CartID
		response.CartID = &cartID
	}

	created, existing, err := s.responses.Record(ctx, response)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return existing, true, nil
	}
	return response, false, nil
}

// materializeOrder runs the approved path. Every dead end logs and returns
// nil without raising: the gateway-facing endpoint must still acknowledge to
// prevent retry storms, and the operational failure surfaces through logs.
func (s *ReconciliationService) materializeOrder(ctx context.Context, response *models.PaymentResponse, session *models.PaymentSession) *models.Order {
	cartID := response.CartID
	if cartID == nil && session != nil {
		id := session.CartID
		cartID = &id
	}
	if cartID == nil {
		s.logger.Error("approved callback has no cart to build an order from",
			zap.String("reference", response.Reference),
		)
		return nil
	}

	// Any response for this reference already actioned into an order makes
	// this pass a no-op.
	actioned, err := s.responses.HasOrderForReference(ctx, response.Reference)
	if err != nil {
		s.logger.Error("failed to check order linkage", zap.String("reference", response.Reference), zap.Error(err))
		return nil
	}
	if actioned {
		s.logger.Info("order already exists for reference, skipping",
			zap.String("reference", response.Reference),
		)
		return nil
	}

	cart, err := s.carts.FindByID(ctx, *cartID)
	if err != nil {
		s.logger.Error("failed to load cart", zap.String("cart_id", cartID.String()), zap.Error(err))
		return nil
	}
	if cart == nil {
		s.logger.Error("cart not found for approved payment",
			zap.String("reference", response.Reference),
			zap.String("cart_id", cartID.String()),
		)
		return nil
	}

	items := cart.ActiveItems()
	if len(items) == 0 {
		s.logger.Error("cart has no active items, aborting order creation",
			zap.String("reference", response.Reference),
			zap.String("cart_id", cart.ID.String()),
		)
		return nil
	}

	order := s.buildOrder(response, session, cart, items)

	// Stamp before inserting. The conditional update plus the partial unique
	// index on actioned references admit exactly one winner per reference,
	// regardless of how many response rows the reference accumulated.
	stamped, err := s.responses.AttachOrder(ctx, response.ID, order.ID)
	if err != nil {
		s.logger.Error("failed to stamp payment response with order",
			zap.String("reference", response.Reference),
			zap.Error(err),
		)
		return nil
	}
	if !stamped {
		s.logger.Info("concurrent reconciliation already actioned this reference",
			zap.String("reference", response.Reference),
		)
		return nil
	}

	if err := s.orders.Create(ctx, order); err != nil {
		// Release the claim so a redelivery can action the reference.
		if derr := s.responses.DetachOrder(ctx, response.ID); derr != nil {
			s.logger.Error("failed to release order stamp",
				zap.String("reference", response.Reference),
				zap.Error(derr),
			)
		}
		s.logger.Error("failed to create order", zap.String("reference", response.Reference), zap.Error(err))
		return nil
	}
	response.OrderID = &order.ID

	if err := s.carts.MarkCompleted(ctx, cart.ID); err != nil {
		s.logger.Error("failed to mark cart completed", zap.String("cart_id", cart.ID.String()), zap.Error(err))
	}

	s.logger.Info("order created from approved payment",
		zap.String("reference", response.Reference),
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total),
	)

	s.publishEvent(ctx, models.PaymentEvent{
		Type:      "payment_approved",
		Reference: response.Reference,
		OrderID:   order.ID.String(),
		CartID:    cart.ID.String(),
		Amount:    response.Amount,
		Currency:  order.Currency,
		AuthCode:  response.AuthCode,
		Timestamp: s.now().UTC(),
	})
	s.publishEvent(ctx, models.PaymentEvent{
		Type:      "order_created",
		Reference: response.Reference,
		OrderID:   order.ID.String(),
		CartID:    cart.ID.String(),
		Currency:  order.Currency,
		Timestamp: s.now().UTC(),
	})

	return order
}

// buildOrder derives the order from the cart's active items, the session's
// billing context, and the callback's authorization metadata. Line amounts
// come from the shared invoicing math so orders and CFDI concepts agree.
func (s *ReconciliationService) buildOrder(response *models.PaymentResponse, session *models.PaymentSession, cart *models.Cart, items []models.CartItem) *models.Order {
	var userID *uuid.UUID
	if session != nil {
		userID = session.UserID
	}
	if userID == nil {
		userID = cart.UserID
	}

	// The id is assigned here because the response is stamped with it before
	// the order row exists.
	order := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       fmt.Sprintf("ORD-%s", response.Reference),
		UserID:            userID,
		CartID:            cart.ID,
		PaymentResponseID: response.ID,
		Currency:          cart.Currency,
		AuthCode:          response.AuthCode,
		Status:            models.OrderStatusPaid,
	}

	for _, it := range items {
		sub, tax, total := invoicing.ConceptAmounts(it.UnitPrice, it.Quantity, invoicing.IVARate)
		order.OrderItems = append(order.OrderItems, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Subtotal:  sub,
			Tax:       tax,
			Total:     total,
		})
		order.Subtotal += sub
		order.Tax += tax
		order.Total += total
	}
	return order
}

// compensateFailure runs the error path: cancel any order the response
// unexpectedly references, and reactivate the session's cart if checkout
// optimistically marked it completed before the outcome was known.
func (s *ReconciliationService) compensateFailure(ctx context.Context, response *models.PaymentResponse, session *models.PaymentSession) {
	if response.OrderID != nil {
		reason := fmt.Sprintf("payment error %s: %s", response.ErrorCode, response.ErrorMessage)
		if err := s.orders.Cancel(ctx, *response.OrderID, reason, s.now()); err != nil {
			s.logger.Error("failed to cancel order on payment error",
				zap.String("order_id", response.OrderID.String()),
				zap.Error(err),
			)
		} else {
			s.logger.Info("canceled order after payment error",
				zap.String("order_id", response.OrderID.String()),
				zap.String("reason", reason),
			)
		}
	}

	if session != nil {
		reactivated, err := s.carts.Reactivate(ctx, session.CartID, s.now().Add(cartRetryExtension))
		if err != nil {
			s.logger.Error("failed to reactivate cart after payment error",
				zap.String("cart_id", session.CartID.String()),
				zap.Error(err),
			)
		} else if reactivated {
			s.logger.Info("reactivated completed cart so the buyer can retry",
				zap.String("cart_id", session.CartID.String()),
			)
		}
	}

	s.publishEvent(ctx, models.PaymentEvent{
		Type:      "payment_failed",
		Reference: response.Reference,
		Amount:    response.Amount,
		ErrorCode: response.ErrorCode,
		Timestamp: s.now().UTC(),
	})
}

// publishEvent fans the event out to Kafka and, best-effort, to SNS. Neither
// failure affects reconciliation.
func (s *ReconciliationService) publishEvent(ctx context.Context, event models.PaymentEvent) {
	if s.producer != nil {
		if err := s.producer.SendPaymentEvent(ctx, event); err != nil {
			s.logger.Error("kafka publish failed",
				zap.String("type", event.Type),
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
		}
	}
	if s.sns != nil && s.snsTopicArn != "" {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		if err := s.sns.Publish(ctx, s.snsTopicArn, payload); err != nil {
			s.logger.Error("sns publish failed",
				zap.String("type", event.Type),
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
		}
	}
}

// referenceOf picks the reference recorded on the PaymentResponse: the first
// callback candidate, or the session's when the callback carried none.
func referenceOf(cb *gateway.NormalizedCallback, session *models.PaymentSession) string {
	if refs := cb.References(); len(refs) > 0 {
		return refs[0]
	}
	if session != nil {
		return session.Reference
	}
	return ""
}

// statusOf maps the parser's derived status onto the stored constants.
func statusOf(cb *gateway.NormalizedCallback) string {
	switch cb.Status() {
	case "approved":
		return models.PaymentStatusApproved
	case "error":
		return models.PaymentStatusError
	default:
		return models.PaymentStatusPending
	}
}
