package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/mktdigital/marketplace-backend/config"
	"github.com/mktdigital/marketplace-backend/gateway"
	"github.com/mktdigital/marketplace-backend/models"
	"github.com/mktdigital/marketplace-backend/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Error kinds carried by InitiatePaymentResult on failure. Validation is the
// only user-correctable kind; everything else is an internal condition.
const (
	ErrKindValidation    = "validation"
	ErrKindConfiguration = "configuration"
	ErrKindEncryption    = "encryption"
	ErrKindReference     = "reference_generation"
	ErrKindStorage       = "storage"
	ErrKindInternal      = "internal"
)

const referenceRetries = 3

var (
	cardNumberRe = regexp.MustCompile(`^\d{13,19}$`)
	expMonthRe   = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
	expYearRe    = regexp.MustCompile(`^\d{2}$`)
	cvvRe        = regexp.MustCompile(`^\d{3,4}$`)
	amountRe     = regexp.MustCompile(`^\d+\.\d{2}$`)

	allowedCurrencies = map[string]bool{"MXN": true, "USD": true}
)

// InitiatePaymentRequest is the normalized initiation input. Card data is
// never persisted and never logged.
type InitiatePaymentRequest struct {
	CartID   string `json:"cart_id" validate:"required,uuid"`
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required"`

	CardHolder string `json:"card_holder" validate:"required"`
	CardNumber string `json:"card_number" validate:"required"`
	ExpMonth   string `json:"exp_month" validate:"required"`
	ExpYear    string `json:"exp_year" validate:"required"`
	CVV        string `json:"cvv" validate:"required"`

	Phone    string `json:"phone"`
	Email    string `json:"email" validate:"omitempty,email"`
	ClientIP string `json:"-"`
	UserID   string `json:"-"`
}

// InitiatePaymentResult is the structured outcome of one initiation attempt.
// Nothing past the service boundary panics or throws; failures come back as
// Success=false with an ErrorKind.
type InitiatePaymentResult struct {
	Success bool `json:"success"`

	TransactionReference string `json:"transaction_reference,omitempty"`
	FormHTML             string `json:"form_html,omitempty"`
	FormXML              string `json:"form_xml,omitempty"`
	ProviderURL          string `json:"provider_url,omitempty"`
	EncryptedPayload     string `json:"encrypted_payload,omitempty"`
	CartID               string `json:"cart_id,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PaymentService runs the initiation pipeline: validate input, build the
// transaction document, encrypt it, persist the expected-outcome session, and
// render the hosted-redirect form.
type PaymentService struct {
	sessions repository.SessionRepository
	carts    repository.CartRepository
	builder  *gateway.PayloadBuilder
	provider config.ProviderConfig

	sessionTTL time.Duration
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

func NewPaymentService(
	sessions repository.SessionRepository,
	carts repository.CartRepository,
	builder *gateway.PayloadBuilder,
	provider config.ProviderConfig,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *PaymentService {
	validate := validator.New()
	// Report violations under the wire field names, not the Go ones.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PaymentService{
		sessions:   sessions,
		carts:      carts,
		builder:    builder,
		provider:   provider,
		sessionTTL: sessionTTL,
		validate:   validate,
		logger:     logger,
		now:        time.Now,
	}
}

// InitiatePayment drives the pipeline. Validation failures are rejected on
// the first violation; a session-store reference collision regenerates the
// reference and retries up to three times.
func (s *PaymentService) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) *InitiatePaymentResult {
	if msg := s.validateInput(req); msg != "" {
		return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindValidation, Message: msg}
	}

	cartID, err := uuid.Parse(req.CartID)
	if err != nil {
		return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindValidation, Message: "cart_id: must be a valid UUID"}
	}

	var userID *uuid.UUID
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindValidation, Message: "user id: must be a valid UUID"}
		}
		userID = &parsed
	}

	clientIP := req.ClientIP
	if s.provider.TestIP != "" {
		clientIP = s.provider.TestIP
	}

	card := gateway.Card{
		Holder:   req.CardHolder,
		Number:   req.CardNumber,
		ExpMonth: req.ExpMonth,
		ExpYear:  req.ExpYear,
		CVV:      req.CVV,
	}
	billing := gateway.Billing{
		Phone: req.Phone,
		Email: req.Email,
		IP:    clientIP,
	}

	for attempt := 0; attempt < referenceRetries; attempt++ {
		reference := s.newReference()

		tx := gateway.Transaction{
			Reference: reference,
			Amount:    req.Amount,
			Currency:  req.Currency,
		}

		txXML, err := s.builder.BuildTransactionXML(tx, card, billing)
		if err != nil {
			return failureFor(err)
		}

		encrypted, err := gateway.Encrypt(txXML, s.provider.EncryptionKey)
		if err != nil {
			return failureFor(err)
		}

		envelope, err := s.builder.BuildEnvelopeXML(encrypted)
		if err != nil {
			return failureFor(err)
		}

		formHTML, err := gateway.RenderRedirectForm(s.provider.ThreeDSURL, envelope)
		if err != nil {
			return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindInternal, Message: "failed to render redirect form"}
		}

		now := s.now()
		session := &models.PaymentSession{
			Reference: reference,
			CartID:    cartID,
			UserID:    userID,
			FormHTML:  formHTML,
			CreatedAt: now,
			ExpiresAt: now.Add(s.sessionTTL),
		}
		if err := s.sessions.Create(ctx, session); err != nil {
			if err == repository.ErrDuplicateReference {
				s.logger.Warn("transaction reference collision, regenerating",
					zap.String("reference", reference),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			s.logger.Error("failed to persist payment session",
				zap.String("reference", reference),
				zap.Error(err),
			)
			return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindStorage, Message: "failed to persist payment session"}
		}

		s.logger.Info("payment initiated",
			zap.String("reference", reference),
			zap.String("cart_id", req.CartID),
			zap.String("card", MaskPAN(req.CardNumber)),
			zap.String("amount", req.Amount),
			zap.String("currency", req.Currency),
		)

		return &InitiatePaymentResult{
			Success:              true,
			TransactionReference: reference,
			FormHTML:             formHTML,
			FormXML:              envelope,
			ProviderURL:          s.provider.ThreeDSURL,
			EncryptedPayload:     encrypted,
			CartID:               req.CartID,
		}
	}

	s.logger.Error("exhausted transaction reference retries")
	return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindReference, Message: "could not generate a unique transaction reference"}
}

// validateInput rejects on the first violation and returns its message, or ""
// when the input passes.
func (s *PaymentService) validateInput(req *InitiatePaymentRequest) string {
	if err := s.validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Sprintf("%s: failed %s validation", strings.ToLower(errs[0].Field()), errs[0].Tag())
		}
		return "invalid input"
	}
	switch {
	case !cardNumberRe.MatchString(req.CardNumber):
		return "card_number: must be 13-19 digits"
	case !expMonthRe.MatchString(req.ExpMonth):
		return "exp_month: must be 01-12"
	case !expYearRe.MatchString(req.ExpYear):
		return "exp_year: must be 2 digits"
	case !cvvRe.MatchString(req.CVV):
		return "cvv: must be 3-4 digits"
	case !amountRe.MatchString(req.Amount):
		return "amount: must match a two-decimal amount"
	case !allowedCurrencies[req.Currency]:
		return "currency: must be one of MXN, USD"
	}
	return ""
}

// newReference combines a nanosecond timestamp with a random component so
// collisions are vanishingly rare; the store-level uniqueness constraint
// catches the remainder. Charset stays alphanumeric, which the gateway
// round-trips safely.
func (s *PaymentService) newReference() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp alone still has nanosecond resolution.
		return fmt.Sprintf("MKT%d", s.now().UnixNano())
	}
	return fmt.Sprintf("MKT%d%s", s.now().UnixNano(), strings.ToUpper(hex.EncodeToString(buf)))
}

// failureFor maps gateway error types to result kinds.
func failureFor(err error) *InitiatePaymentResult {
	switch err.(type) {
	case *gateway.ConfigurationError:
		return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindConfiguration, Message: err.Error()}
	case *gateway.EncryptionError:
		return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindEncryption, Message: err.Error()}
	default:
		return &InitiatePaymentResult{Success: false, ErrorKind: ErrKindInternal, Message: err.Error()}
	}
}

// MaskPAN keeps only the last four digits for logs and audit records.
func MaskPAN(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return strings.Repeat("*", len(pan)-4) + pan[len(pan)-4:]
}
