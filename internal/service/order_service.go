package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxTitleRunes          = 256
	defaultCategory        = "others"
	defaultPayerName       = "Cliente"
	defaultIdentification  = "DNI"
	defaultMaxInstallments = 12
)

// CheckoutSettings are the merchant-wide parameters of every checkout preference.
type CheckoutSettings struct {
	BackendURL             string
	FrontendURL            string
	Currency               string
	StatementDescriptor    string
	PreferenceExpiration   time.Duration
	MaxInstallments        int
	ExcludedPaymentMethods []string
	ExcludedPaymentTypes   []string
	UseSandbox             bool
}

// OrderService handles order business logic
type OrderService struct {
	repo     store.Repository
	gateway  PaymentGateway
	hook     TransitionHook
	settings CheckoutSettings
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	gw PaymentGateway,
	hook TransitionHook,
	settings CheckoutSettings,
	logger *zap.Logger,
) *OrderService {
	if hook == nil {
		hook = NoopHook{}
	}
	if settings.Currency == "" {
		settings.Currency = "ARS"
	}
	if settings.PreferenceExpiration <= 0 {
		settings.PreferenceExpiration = 30 * 24 * time.Hour
	}
	return &OrderService{
		repo:     repo,
		gateway:  gw,
		hook:     hook,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items                        []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	CustomerEmail                string             `json:"customer_email" validate:"required,email,max=255"`
	CustomerName                 string             `json:"customer_name,omitempty" validate:"omitempty,max=255"`
	CustomerFirstName            string             `json:"customer_first_name,omitempty" validate:"omitempty,max=255"`
	CustomerLastName             string             `json:"customer_last_name,omitempty" validate:"omitempty,max=255"`
	CustomerPhone                string             `json:"customer_phone,omitempty" validate:"omitempty,max=50"`
	CustomerIdentificationType   string             `json:"customer_identification_type,omitempty" validate:"omitempty,max=20"`
	CustomerIdentificationNumber string             `json:"customer_identification_number,omitempty" validate:"omitempty,max=20"`
	CustomerAddress              *AddressRequest    `json:"customer_address,omitempty"`
	ShipmentAmount               *decimal.Decimal   `json:"shipment_amount,omitempty"`
	MaxInstallments              int                `json:"max_installments,omitempty" validate:"omitempty,min=1,max=12"`
	Notes                        string             `json:"notes,omitempty"`
	Metadata                     map[string]any     `json:"metadata,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description,omitempty" validate:"omitempty,max=500"`
	ProductID   string          `json:"product_id,omitempty" validate:"omitempty,max=255"`
	Quantity    int             `json:"quantity" validate:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PictureURL  string          `json:"picture_url,omitempty" validate:"omitempty,url,max=500"`
	CategoryID  string          `json:"category_id,omitempty" validate:"omitempty,max=50"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

type AddressRequest struct {
	StreetName   string `json:"street_name,omitempty" validate:"omitempty,max=255"`
	StreetNumber string `json:"street_number,omitempty" validate:"omitempty,max=20"`
	ZipCode      string `json:"zip_code,omitempty" validate:"omitempty,max=20"`
}

// HasCents reports whether d is expressible in whole cents.
func HasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Total is the sum of unit price times quantity over all items.
func (r *CreateOrderRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID          string `json:"order_id"`
	PreferenceID     string `json:"preference_id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
	RedirectURL      string `json:"redirect_url"`
}

// CreateOrder persists a pending order with its items and registers the checkout preference
// at the gateway. The gateway call runs inside the transaction, so a failed call leaves no order
// behind.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, apperr.Validation("order must have at least one item")
	}

	for i, it := range req.Items {
		if !HasCents(it.UnitPrice) {
			util.OrdersFailedTotal.WithLabelValues("invalid_amount").Inc()
			return nil, apperr.Validation("item %d unit price %s has more than 2 decimals", i, it.UnitPrice.String())
		}
	}

	if req.ShipmentAmount != nil && !HasCents(*req.ShipmentAmount) {
		util.OrdersFailedTotal.WithLabelValues("invalid_amount").Inc()
		return nil, apperr.Validation("shipment amount %s has more than 2 decimals", req.ShipmentAmount.String())
	}

	total := req.Total()
	if !total.IsPositive() {
		util.OrdersFailedTotal.WithLabelValues("invalid_amount").Inc()
		return nil, apperr.Validation("order total must be greater than zero")
	}

	now := s.now()
	order := &models.Order{
		ID:            uuid.New().String(),
		Status:        models.OrderStatusPending,
		TotalAmount:   total,
		Currency:      s.settings.Currency,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Notes:         req.Notes,
		Metadata:      models.JSONMap(req.Metadata),
		CreatedAt:     now,
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			ProductID:   it.ProductID,
			Title:       it.Title,
			Description: it.Description,
			CategoryID:  it.CategoryID,
			PictureURL:  it.PictureURL,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
			Metadata:    models.JSONMap(it.Metadata),
			CreatedAt:   now,
		})
	}

	var pref *gateway.Preference
	failure := "db_error"
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for i := range items {
			if err := tx.InsertOrderItem(ctx, &items[i]); err != nil {
				return err
			}
		}

		var err error
		pref, err = s.gateway.CreatePreference(ctx, s.buildPreference(order, req, now), order.ID)
		if err != nil {
			failure = "gateway_error"
			return err
		}

		order.PreferenceID = pref.ID
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failure).Inc()
		s.logger.Error("Failed to create order", zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("preference_id", pref.ID),
		zap.String("total", total.StringFixed(2)))

	redirect := pref.InitPoint
	if s.settings.UseSandbox && pref.SandboxInitPoint != "" {
		redirect = pref.SandboxInitPoint
	}

	return &CreateOrderResponse{
		OrderID:          order.ID,
		PreferenceID:     pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
		RedirectURL:      redirect,
	}, nil
}

func (s *OrderService) buildPreference(order *models.Order, req *CreateOrderRequest, now time.Time) *gateway.PreferenceRequest {
	items := make([]gateway.PreferenceItem, 0, len(req.Items))
	for i, it := range req.Items {
		id := it.ProductID
		if id == "" {
			id = fmt.Sprintf("item-%d-%s", i, order.ID)
		}
		items = append(items, gateway.PreferenceItem{
			ID:          id,
			Title:       truncateRunes(it.Title, maxTitleRunes),
			Description: truncateRunes(it.Description, maxTitleRunes),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.Round(2).InexactFloat64(),
			CurrencyID:  s.settings.Currency,
			PictureURL:  it.PictureURL,
			CategoryID:  orDefault(it.CategoryID, defaultCategory),
		})
	}

	name, surname := payerName(req)
	payer := gateway.PreferencePayer{
		Name:    name,
		Surname: surname,
		Email:   req.CustomerEmail,
		Phone:   parsePhone(req.CustomerPhone),
	}
	if req.CustomerIdentificationNumber != "" {
		payer.Identification = &gateway.Identification{
			Type:   orDefault(req.CustomerIdentificationType, defaultIdentification),
			Number: req.CustomerIdentificationNumber,
		}
	}
	if a := req.CustomerAddress; a != nil {
		payer.Address = &gateway.Address{StreetName: a.StreetName, StreetNumber: a.StreetNumber, ZipCode: a.ZipCode}
	}

	installments := req.MaxInstallments
	if installments == 0 {
		installments = s.settings.MaxInstallments
	}
	if installments == 0 {
		installments = defaultMaxInstallments
	}

	frontend := strings.TrimRight(s.settings.FrontendURL, "/")
	orderParam := "?order_id=" + url.QueryEscape(order.ID)
	expiresAt := now.Add(s.settings.PreferenceExpiration)

	pr := &gateway.PreferenceRequest{
		Items: items,
		Payer: payer,
		BackURLs: gateway.BackURLs{
			Success: frontend + "/payment/success" + orderParam,
			Failure: frontend + "/payment/failure" + orderParam,
			Pending: frontend + "/payment/pending" + orderParam,
		},
		AutoReturn:          "approved",
		ExternalReference:   order.ID,
		NotificationURL:     strings.TrimRight(s.settings.BackendURL, "/") + "/payments/webhook",
		StatementDescriptor: s.settings.StatementDescriptor,
		BinaryMode:          false,
		Expires:             true,
		ExpirationDateFrom:  &now,
		ExpirationDateTo:    &expiresAt,
		Metadata: map[string]any{
			"order_id":       order.ID,
			"customer_email": req.CustomerEmail,
			"created_at":     now.Format(time.RFC3339),
		},
		PaymentMethods: gateway.PaymentMethodRules{
			ExcludedPaymentMethods: idRefs(s.settings.ExcludedPaymentMethods),
			ExcludedPaymentTypes:   idRefs(s.settings.ExcludedPaymentTypes),
			Installments:           installments,
		},
	}

	if req.ShipmentAmount != nil && req.ShipmentAmount.IsPositive() {
		pr.Shipments = &gateway.Shipments{
			Cost: req.ShipmentAmount.Round(2).InexactFloat64(),
			Mode: "not_specified",
		}
	}
	return pr
}

// payerName prefers explicit first/last names and falls back to splitting the full name.
func payerName(req *CreateOrderRequest) (string, string) {
	parts := strings.Fields(req.CustomerName)

	name := req.CustomerFirstName
	if name == "" && len(parts) > 0 {
		name = parts[0]
	}
	if name == "" {
		name = defaultPayerName
	}

	surname := req.CustomerLastName
	if surname == "" && len(parts) > 1 {
		surname = strings.Join(parts[1:], " ")
	}
	return name, surname
}

func idRefs(ids []string) []gateway.IDRef {
	refs := make([]gateway.IDRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, gateway.IDRef{ID: id})
	}
	return refs
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// GetOrder retrieves an order with its items and payments
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order", orderID)
	}
	return order, err
}

// GetOrderPayments returns the payments of an order, newest first
func (s *OrderService) GetOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order.Payments, nil
}

// OrderStatusView is the buyer-facing projection of an order's payment state.
type OrderStatusView struct {
	Order    *models.Order      `json:"order"`
	Payments []models.Payment   `json:"payments"`
	Status   models.OrderStatus `json:"status"`
	IsPaid   bool               `json:"is_paid"`
	CanRetry bool               `json:"can_retry"`
	Message  string             `json:"message"`
}

func (s *OrderService) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusView, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderStatusView{
		Order:    order,
		Payments: order.Payments,
		Status:   order.Status,
		IsPaid:   order.Status == models.OrderStatusPaid,
		CanRetry: order.Status.CanRetry(),
		Message:  order.Status.Message(order.FailureReason),
	}, nil
}

// CancelOrder cancels an order that is neither paid nor already cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	var (
		cancelled  *models.Order
		transition *Transition
	)
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order", orderID)
		}
		if err != nil {
			return err
		}

		if !order.Status.CanCancel() {
			if order.Status == models.OrderStatusPaid {
				return apperr.InvalidState("cannot cancel a paid order, request a refund instead")
			}
			return apperr.InvalidState("order is already cancelled")
		}

		from := order.Status
		applyOrderStatus(order, models.OrderStatusCancelled, reason, s.now())
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		cancelled = order
		transition = &Transition{Order: *order, From: from, To: order.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled", zap.String("order_id", orderID), zap.String("reason", cancelled.FailureReason))
	runHook(ctx, s.hook, s.logger, *transition)
	return cancelled, nil
}
