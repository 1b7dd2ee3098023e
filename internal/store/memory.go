package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-service/internal/models"
)

// ErrConstraint is returned by MemoryStore where Postgres would raise a constraint violation.
var ErrConstraint = errors.New("constraint violation")

// MemoryStore is an in-process Repository with the same transactional behavior as Store.
// Transactions are serialized by a single mutex and work on a copy of the data that replaces the
// committed state only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data memoryData
}

var _ Repository = (*MemoryStore)(nil)

type memoryData struct {
	orders        map[string]models.Order
	items         map[string][]models.OrderItem
	payments      map[string]models.Payment
	paymentByExt  map[string]string
	notifications map[string]models.WebhookNotification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memoryData{
		orders:        map[string]models.Order{},
		items:         map[string][]models.OrderItem{},
		payments:      map[string]models.Payment{},
		paymentByExt:  map[string]string{},
		notifications: map[string]models.WebhookNotification{},
	}}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.data.clone()
	if err := fn(&memoryTx{data: &work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.order(id)
}

func (m *MemoryStore) GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.paymentsOf(orderID), nil
}

func (m *MemoryStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.data.paymentByExt[externalID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", externalID, ErrNotFound)
	}
	p := clonePayment(m.data.payments[id])
	return &p, nil
}

func (m *MemoryStore) RecordNotification(ctx context.Context, n *models.WebhookNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	if _, ok := m.data.notifications[n.ID]; !ok {
		m.data.notifications[n.ID] = *n
	}
	return nil
}

func (m *MemoryStore) MarkNotificationProcessed(ctx context.Context, id string, processErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.data.notifications[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	n.Processed = processErr == nil
	n.Error = ""
	if processErr != nil {
		n.Error = processErr.Error()
	}
	n.ProcessedAt = &now
	m.data.notifications[id] = n
	return nil
}

// Notification returns the audit row for id. It exists for tests and debugging.
func (m *MemoryStore) Notification(id string) (models.WebhookNotification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.data.notifications[id]
	return n, ok
}

// OrderCount returns the number of committed orders. It exists for tests and debugging.
func (m *MemoryStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.orders)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return t.data.order(id)
}

func (t *memoryTx) GetPaymentByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Payment, error) {
	id, ok := t.data.paymentByExt[externalID]
	if !ok {
		return nil, nil
	}
	p := clonePayment(t.data.payments[id])
	return &p, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, ok := t.data.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists: %w", order.ID, ErrConstraint)
	}
	if err := t.checkPreferenceUnique(order); err != nil {
		return err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	stored := cloneOrder(*order)
	stored.Items, stored.Payments = nil, nil
	t.data.orders[order.ID] = stored
	return nil
}

func (t *memoryTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	if _, ok := t.data.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %s for item: %w", item.OrderID, ErrConstraint)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	t.data.items[item.OrderID] = append(t.data.items[item.OrderID], cloneItem(*item))
	return nil
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	existing, ok := t.data.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	if err := t.checkPreferenceUnique(order); err != nil {
		return err
	}
	order.UpdatedAt = time.Now().UTC()

	stored := cloneOrder(*order)
	stored.Items, stored.Payments = nil, nil
	stored.TotalAmount = existing.TotalAmount
	stored.Currency = existing.Currency
	stored.CreatedAt = existing.CreatedAt
	t.data.orders[order.ID] = stored
	return nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.data.paymentByExt[payment.ExternalPaymentID]; ok {
		return fmt.Errorf("payment %s already exists: %w", payment.ExternalPaymentID, ErrConstraint)
	}
	if _, ok := t.data.orders[payment.OrderID]; !ok {
		return fmt.Errorf("order %s for payment: %w", payment.OrderID, ErrConstraint)
	}
	if err := checkRefunded(payment); err != nil {
		return err
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.UpdatedAt = payment.CreatedAt

	t.data.payments[payment.ID] = clonePayment(*payment)
	t.data.paymentByExt[payment.ExternalPaymentID] = payment.ID
	return nil
}

func (t *memoryTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	existing, ok := t.data.payments[payment.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.ID, ErrNotFound)
	}
	if err := checkRefunded(payment); err != nil {
		return err
	}
	payment.UpdatedAt = time.Now().UTC()

	stored := clonePayment(*payment)
	stored.ExternalPaymentID = existing.ExternalPaymentID
	stored.OrderID = existing.OrderID
	stored.CreatedAt = existing.CreatedAt
	t.data.payments[payment.ID] = stored
	return nil
}

func (t *memoryTx) checkPreferenceUnique(order *models.Order) error {
	if order.PreferenceID == "" {
		return nil
	}
	for id, o := range t.data.orders {
		if id != order.ID && o.PreferenceID == order.PreferenceID {
			return fmt.Errorf("preference %s already used: %w", order.PreferenceID, ErrConstraint)
		}
	}
	return nil
}

func checkRefunded(p *models.Payment) error {
	if p.RefundedAmount.IsNegative() || p.RefundedAmount.GreaterThan(p.Amount) {
		return fmt.Errorf("refunded amount %s outside [0, %s]: %w", p.RefundedAmount, p.Amount, ErrConstraint)
	}
	return nil
}

func (d *memoryData) order(id string) (*models.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	order := cloneOrder(o)
	order.Items = make([]models.OrderItem, 0, len(d.items[id]))
	for _, it := range d.items[id] {
		order.Items = append(order.Items, cloneItem(it))
	}
	order.Payments = d.paymentsOf(id)
	return &order, nil
}

func (d *memoryData) paymentsOf(orderID string) []models.Payment {
	payments := []models.Payment{}
	for _, p := range d.payments {
		if p.OrderID == orderID {
			payments = append(payments, clonePayment(p))
		}
	}
	sort.SliceStable(payments, func(i, j int) bool {
		if payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].ID < payments[j].ID
		}
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		orders:        make(map[string]models.Order, len(d.orders)),
		items:         make(map[string][]models.OrderItem, len(d.items)),
		payments:      make(map[string]models.Payment, len(d.payments)),
		paymentByExt:  make(map[string]string, len(d.paymentByExt)),
		notifications: d.notifications,
	}
	for k, v := range d.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range d.items {
		items := make([]models.OrderItem, len(v))
		for i := range v {
			items[i] = cloneItem(v[i])
		}
		c.items[k] = items
	}
	for k, v := range d.payments {
		c.payments[k] = clonePayment(v)
	}
	for k, v := range d.paymentByExt {
		c.paymentByExt[k] = v
	}
	return c
}

func cloneOrder(o models.Order) models.Order {
	o.Metadata = cloneMap(o.Metadata)
	o.PaidAt = cloneTime(o.PaidAt)
	o.CancelledAt = cloneTime(o.CancelledAt)
	o.RefundedAt = cloneTime(o.RefundedAt)
	return o
}

func cloneItem(it models.OrderItem) models.OrderItem {
	it.Metadata = cloneMap(it.Metadata)
	return it
}

func clonePayment(p models.Payment) models.Payment {
	if p.GatewayPayload != nil {
		p.GatewayPayload = append(models.RawPayload(nil), p.GatewayPayload...)
	}
	p.LastWebhookAt = cloneTime(p.LastWebhookAt)
	p.DateApproved = cloneTime(p.DateApproved)
	p.DateCreated = cloneTime(p.DateCreated)
	p.DateLastUpdated = cloneTime(p.DateLastUpdated)
	return p
}

func cloneMap(m models.JSONMap) models.JSONMap {
	if m == nil {
		return nil
	}
	c := make(models.JSONMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
