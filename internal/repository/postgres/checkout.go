package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/pkg/database"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

const checkoutColumns = `id, cart_session, state, recipient, cost, items,
			payment_session_id, payment_intent_id,
			fulfillment_order_id, fulfillment_status, tracking_number, tracking_url,
			last_error, version, created_at, updated_at`

// CheckoutRepository implements repository.CheckoutRepository on PostgreSQL.
type CheckoutRepository struct {
	db database.DBTX
}

// NewCheckoutRepository creates a PostgreSQL-backed checkout repository.
func NewCheckoutRepository(db database.DBTX) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

type checkoutJSON struct {
	recipient []byte
	cost      []byte
	items     []byte
}

func marshalCheckout(c *domain.Checkout) (checkoutJSON, error) {
	var (
		out checkoutJSON
		err error
	)
	if out.recipient, err = json.Marshal(c.Recipient); err != nil {
		return out, fmt.Errorf("marshal recipient: %w", err)
	}
	if out.cost, err = json.Marshal(c.Cost); err != nil {
		return out, fmt.Errorf("marshal cost: %w", err)
	}
	items := c.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	if out.items, err = json.Marshal(items); err != nil {
		return out, fmt.Errorf("marshal items: %w", err)
	}
	return out, nil
}

// amounts returns subtotal, shipping, tax and total as fixed-point strings
// for the NUMERIC reporting columns, or nils when no estimate is bound.
func amounts(c *domain.Checkout) (subtotal, shipping, tax, total *string) {
	if c.Cost == nil {
		return nil, nil, nil, nil
	}
	f := func(s string) *string { return &s }
	return f(c.Cost.Subtotal.StringFixed(2)),
		f(c.Cost.Shipping.StringFixed(2)),
		f(c.Cost.Taxes.StringFixed(2)),
		f(c.Cost.Total.StringFixed(2))
}

func currency(c *domain.Checkout) string {
	if c.Cost != nil && c.Cost.Currency != "" {
		return c.Cost.Currency
	}
	return domain.DefaultCurrency
}

const insertCheckoutSQL = `
		INSERT INTO checkouts (
			id, cart_session, state, recipient, cost, items,
			customer_email, currency,
			subtotal_amount, shipping_amount, tax_amount, total_amount,
			payment_session_id, payment_intent_id,
			fulfillment_order_id, fulfillment_status, tracking_number, tracking_url,
			last_error, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18,
			$19, $20, $21, $22
		)`

// Create inserts a new checkout at version 1.
func (r *CheckoutRepository) Create(ctx context.Context, c *domain.Checkout) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateCheckout", insertCheckoutSQL)
	defer func() { end(err) }()

	j, err := marshalCheckout(c)
	if err != nil {
		return err
	}
	subtotal, shipping, tax, total := amounts(c)
	c.Version = 1

	_, err = r.db.Exec(ctx, insertCheckoutSQL,
		c.ID,
		c.CartSession,
		string(c.State),
		j.recipient,
		j.cost,
		j.items,
		nullableString(c.CustomerEmail()),
		currency(c),
		subtotal,
		shipping,
		tax,
		total,
		nullableString(c.PaymentSessionID),
		nullableString(c.PaymentIntentID),
		nullableString(c.FulfillmentOrderID),
		nullableString(string(c.FulfillmentStatus)),
		nullableString(c.TrackingNumber),
		nullableString(c.TrackingURL),
		nullableString(c.LastError),
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkout: %w", err)
	}
	return nil
}

const selectByIDSQL = `SELECT ` + checkoutColumns + `
		FROM checkouts
		WHERE id = $1`

// GetByID retrieves a checkout by id.
func (r *CheckoutRepository) GetByID(ctx context.Context, id string) (c *domain.Checkout, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCheckout", selectByIDSQL)
	defer func() { end(err) }()

	c, err = scanCheckout(r.db.QueryRow(ctx, selectByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("checkout", id)
	}
	return c, err
}

const selectByPaymentSessionSQL = `SELECT ` + checkoutColumns + `
		FROM checkouts
		WHERE payment_session_id = $1`

// GetByPaymentSession retrieves a checkout by payment session id.
func (r *CheckoutRepository) GetByPaymentSession(ctx context.Context, paymentSessionID string) (c *domain.Checkout, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCheckoutByPaymentSession", selectByPaymentSessionSQL)
	defer func() { end(err) }()

	c, err = scanCheckout(r.db.QueryRow(ctx, selectByPaymentSessionSQL, paymentSessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("checkout session", paymentSessionID)
	}
	return c, err
}

const selectLatestBySessionSQL = `SELECT ` + checkoutColumns + `
		FROM checkouts
		WHERE cart_session = $1
		ORDER BY created_at DESC
		LIMIT 1`

// GetLatestBySession retrieves the newest checkout for a cart session.
func (r *CheckoutRepository) GetLatestBySession(ctx context.Context, cartSession string) (c *domain.Checkout, err error) {
	ctx, end := database.TraceQuery(ctx, "GetLatestCheckout", selectLatestBySessionSQL)
	defer func() { end(err) }()

	c, err = scanCheckout(r.db.QueryRow(ctx, selectLatestBySessionSQL, cartSession))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("checkout for session", cartSession)
	}
	return c, err
}

const listByEmailSQL = `SELECT ` + checkoutColumns + `, COUNT(*) OVER() AS total_count
		FROM checkouts
		WHERE customer_email = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

// ListByEmail returns a page of checkouts for a customer, newest first.
func (r *CheckoutRepository) ListByEmail(ctx context.Context, email string, limit, offset int) (out []domain.Checkout, total int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListCheckoutsByEmail", listByEmailSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listByEmailSQL, email, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list checkouts by email: %w", err)
	}
	defer rows.Close()

	out = []domain.Checkout{}
	for rows.Next() {
		c, err := scanCheckout(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate checkout rows: %w", err)
	}
	return out, total, nil
}

const updateCheckoutSQL = `
		UPDATE checkouts
		SET state = $1, recipient = $2, cost = $3, items = $4,
			customer_email = $5, currency = $6,
			subtotal_amount = $7, shipping_amount = $8, tax_amount = $9, total_amount = $10,
			payment_session_id = $11, payment_intent_id = $12,
			fulfillment_order_id = $13, fulfillment_status = $14,
			tracking_number = $15, tracking_url = $16,
			last_error = $17, updated_at = $18, version = version + 1
		WHERE id = $19 AND version = $20`

// Update writes c when its version matches the stored one.
func (r *CheckoutRepository) Update(ctx context.Context, c *domain.Checkout) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateCheckout", updateCheckoutSQL)
	defer func() { end(err) }()

	j, err := marshalCheckout(c)
	if err != nil {
		return err
	}
	subtotal, shipping, tax, total := amounts(c)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	ct, err := r.db.Exec(ctx, updateCheckoutSQL,
		string(c.State),
		j.recipient,
		j.cost,
		j.items,
		nullableString(c.CustomerEmail()),
		currency(c),
		subtotal,
		shipping,
		tax,
		total,
		nullableString(c.PaymentSessionID),
		nullableString(c.PaymentIntentID),
		nullableString(c.FulfillmentOrderID),
		nullableString(string(c.FulfillmentStatus)),
		nullableString(c.TrackingNumber),
		nullableString(c.TrackingURL),
		nullableString(c.LastError),
		c.UpdatedAt,
		c.ID,
		c.Version,
	)
	if err != nil {
		return fmt.Errorf("update checkout: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("checkout %s was modified concurrently (version %d)", c.ID, c.Version))
	}

	c.Version++
	return nil
}

// scanCheckout scans one checkout row. Extra destinations are appended
// after the checkout columns.
func scanCheckout(row pgx.Row, extra ...any) (*domain.Checkout, error) {
	var (
		c                  domain.Checkout
		state              string
		recipientJSON      []byte
		costJSON           []byte
		itemsJSON          []byte
		paymentSessionID   *string
		paymentIntentID    *string
		fulfillmentOrderID *string
		fulfillmentStatus  *string
		trackingNumber     *string
		trackingURL        *string
		lastError          *string
	)

	dest := []any{
		&c.ID,
		&c.CartSession,
		&state,
		&recipientJSON,
		&costJSON,
		&itemsJSON,
		&paymentSessionID,
		&paymentIntentID,
		&fulfillmentOrderID,
		&fulfillmentStatus,
		&trackingNumber,
		&trackingURL,
		&lastError,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan checkout: %w", err)
	}

	c.State = domain.State(state)
	if err := unmarshalNullable(recipientJSON, &c.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient: %w", err)
	}
	if err := unmarshalNullable(costJSON, &c.Cost); err != nil {
		return nil, fmt.Errorf("unmarshal cost: %w", err)
	}
	if err := unmarshalNullable(itemsJSON, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	c.PaymentSessionID = deref(paymentSessionID)
	c.PaymentIntentID = deref(paymentIntentID)
	c.FulfillmentOrderID = deref(fulfillmentOrderID)
	c.FulfillmentStatus = domain.FulfillmentStatus(deref(fulfillmentStatus))
	c.TrackingNumber = deref(trackingNumber)
	c.TrackingURL = deref(trackingURL)
	c.LastError = deref(lastError)

	return &c, nil
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
