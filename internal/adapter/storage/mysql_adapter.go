package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	maxTxAttempts           = 3
)

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: sqlx.NewDb(db, "mysql")}
}

// EnsureSchema creates the tables if they do not exist yet.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction, so every locking read
// sees the latest committed ledger. Deadlocks and lock wait timeouts are
// retried with a fresh transaction.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("retrying transaction")
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
}

func mapWriteErr(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
		return fmt.Errorf("%s: %w", op, port.ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type productRow struct {
	ID           string        `db:"id"`
	Name         string        `db:"name"`
	LiveStock    sql.NullInt64 `db:"live_stock"`
	VirtualStock sql.NullInt64 `db:"virtual_stock"`
	StockVersion int64         `db:"stock_version"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

func (r productRow) toDomain() *domain.Product {
	return &domain.Product{
		ID:           r.ID,
		Name:         r.Name,
		LiveStock:    fromNullInt(r.LiveStock),
		VirtualStock: fromNullInt(r.VirtualStock),
		StockVersion: r.StockVersion,
		UpdatedAt:    r.UpdatedAt,
	}
}

type orderRow struct {
	ID          int64           `db:"id"`
	Code        string          `db:"code"`
	RequesterID string          `db:"requester_id"`
	ReviewerID  string          `db:"reviewer_id"`
	Total       decimal.Decimal `db:"total"`
	Status      string          `db:"status"`
	Note        sql.NullString  `db:"note"`
	CreatedAt   time.Time       `db:"created_at"`
}

type orderItemRow struct {
	ID               int64           `db:"id"`
	OrderID          int64           `db:"order_id"`
	ProductID        string          `db:"product_id"`
	Quantity         int             `db:"quantity"`
	Price            decimal.Decimal `db:"price"`
	IsSchemeItem     bool            `db:"is_scheme_item"`
	ReservedAtSubmit sql.NullInt64   `db:"reserved_at_submit"`
}

type verificationRow struct {
	ID               int64           `db:"id"`
	OrderID          int64           `db:"order_id"`
	ReviewerID       string          `db:"reviewer_id"`
	Status           string          `db:"status"`
	Notes            sql.NullString  `db:"notes"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	Punched          bool            `db:"punched"`
	DispatchLocation string          `db:"dispatch_location"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

type verificationItemRow struct {
	ID             int64           `db:"id"`
	VerificationID int64           `db:"verification_id"`
	ProductID      string          `db:"product_id"`
	Quantity       int             `db:"quantity"`
	Price          decimal.Decimal `db:"price"`
	IsRejected     bool            `db:"is_rejected"`
	IsSchemeItem   bool            `db:"is_scheme_item"`
	StockAtVerify  sql.NullInt64   `db:"stock_at_verify"`
}

type mysqlTx struct {
	tx *sqlx.Tx
}

const productColumns = `id, name, live_stock, virtual_stock, stock_version, updated_at`

func (t *mysqlTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return row.toDomain(), nil
}

func (t *mysqlTx) LockProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("build lock query: %w", err)
	}
	var rows []productRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toDomain()
	}
	return out, nil
}

func (t *mysqlTx) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, name, live_stock, updated_at)
		VALUES (?, ?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE name = VALUES(name), live_stock = VALUES(live_stock), updated_at = NOW(6)`,
		p.ID, p.Name, toNullInt(p.LiveStock),
	)
	if err != nil {
		return mapWriteErr("upsert product", err)
	}
	return nil
}

func (t *mysqlTx) SetLiveStock(ctx context.Context, id string, liveStock *int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE products SET live_stock = ?, updated_at = NOW(6) WHERE id = ?`,
		toNullInt(liveStock), id)
	if err != nil {
		return fmt.Errorf("update live stock: %w", err)
	}
	return nil
}

func (t *mysqlTx) SetVirtualStock(ctx context.Context, id string, virtualStock *int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE products SET virtual_stock = ?, stock_version = stock_version + 1, updated_at = NOW(6)
		WHERE id = ?`,
		toNullInt(virtualStock), id)
	if err != nil {
		return fmt.Errorf("update virtual stock: %w", err)
	}
	return nil
}

func (t *mysqlTx) ListProductIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := t.tx.SelectContext(ctx, &ids, `SELECT id FROM products ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return ids, nil
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (code, requester_id, reviewer_id, total, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.Code, order.RequesterID, order.ReviewerID, order.Total, order.Status,
		toNullString(order.Note), order.CreatedAt,
	)
	if err != nil {
		return mapWriteErr("insert order", err)
	}
	if order.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range order.Items {
		it := &order.Items[i]
		it.OrderID = order.ID
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, price, is_scheme_item, reserved_at_submit)
			VALUES (?, ?, ?, ?, ?, ?)`,
			it.OrderID, it.ProductID, it.Quantity, it.Price, it.IsSchemeItem, toNullInt(it.ReservedAtSubmit),
		)
		if err != nil {
			return mapWriteErr("insert order item", err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("order item id: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, code, requester_id, reviewer_id, total, status, note, created_at`

func (t *mysqlTx) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (t *mysqlTx) GetOrderByCode(ctx context.Context, code string) (*domain.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = ?`, code)
}

func (t *mysqlTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
}

func (t *mysqlTx) getOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var row orderRow
	err := t.tx.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	order := orderFromRow(row)
	if order.Items, err = t.orderItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *mysqlTx) orderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	var rows []orderItemRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, order_id, product_id, quantity, price, is_scheme_item, reserved_at_submit
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	items := make([]domain.OrderItem, len(rows))
	for i, r := range rows {
		items[i] = domain.OrderItem{
			ID:               r.ID,
			OrderID:          r.OrderID,
			ProductID:        r.ProductID,
			Quantity:         r.Quantity,
			Price:            r.Price,
			IsSchemeItem:     r.IsSchemeItem,
			ReservedAtSubmit: fromNullInt(r.ReservedAtSubmit),
		}
	}
	return items, nil
}

func orderFromRow(r orderRow) domain.Order {
	return domain.Order{
		ID:          r.ID,
		Code:        r.Code,
		RequesterID: r.RequesterID,
		ReviewerID:  r.ReviewerID,
		Total:       r.Total,
		Status:      domain.OrderStatus(r.Status),
		Note:        r.Note.String,
		CreatedAt:   r.CreatedAt,
	}
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, note string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ?, note = ? WHERE id = ?`,
		status, toNullString(note), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func (t *mysqlTx) ListUnverifiedOrders(ctx context.Context, reviewerID string) ([]domain.Order, error) {
	var rows []orderRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT o.id, o.code, o.requester_id, o.reviewer_id, o.total, o.status, o.note, o.created_at
		FROM orders o
		LEFT JOIN verifications v ON v.order_id = o.id
		WHERE o.reviewer_id = ? AND v.id IS NULL
		ORDER BY o.created_at DESC, o.id DESC`, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("list unverified orders: %w", err)
	}
	orders := make([]domain.Order, len(rows))
	for i, r := range rows {
		orders[i] = orderFromRow(r)
		if orders[i].Items, err = t.orderItems(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (t *mysqlTx) CreateVerification(ctx context.Context, v *domain.Verification) error {
	now := time.Now()
	v.CreatedAt, v.UpdatedAt = now, now
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO verifications (order_id, reviewer_id, status, notes, total_amount, punched, dispatch_location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.OrderID, v.ReviewerID, v.Status, toNullString(v.Notes), v.TotalAmount, v.Punched,
		v.DispatchLocation, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr("insert verification", err)
	}
	if v.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("verification id: %w", err)
	}
	for i := range v.Items {
		v.Items[i].VerificationID = v.ID
		if err := t.AddVerificationItem(ctx, &v.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

const verificationColumns = `id, order_id, reviewer_id, status, notes, total_amount, punched, dispatch_location, created_at, updated_at`

func (t *mysqlTx) GetVerification(ctx context.Context, id int64) (*domain.Verification, error) {
	return t.getVerification(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE id = ?`, id)
}

func (t *mysqlTx) GetVerificationByOrder(ctx context.Context, orderID int64) (*domain.Verification, error) {
	return t.getVerification(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE order_id = ?`, orderID)
}

func (t *mysqlTx) getVerification(ctx context.Context, query string, arg any) (*domain.Verification, error) {
	var row verificationRow
	err := t.tx.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query verification: %w", err)
	}
	v := verificationFromRow(row)
	if v.Items, err = t.verificationItems(ctx, v.ID); err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *mysqlTx) verificationItems(ctx context.Context, verificationID int64) ([]domain.VerificationItem, error) {
	var rows []verificationItemRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, verification_id, product_id, quantity, price, is_rejected, is_scheme_item, stock_at_verify
		FROM verification_items WHERE verification_id = ? ORDER BY id`, verificationID)
	if err != nil {
		return nil, fmt.Errorf("query verification items: %w", err)
	}
	items := make([]domain.VerificationItem, len(rows))
	for i, r := range rows {
		items[i] = domain.VerificationItem{
			ID:             r.ID,
			VerificationID: r.VerificationID,
			ProductID:      r.ProductID,
			Quantity:       r.Quantity,
			Price:          r.Price,
			IsRejected:     r.IsRejected,
			IsSchemeItem:   r.IsSchemeItem,
			StockAtVerify:  fromNullInt(r.StockAtVerify),
		}
	}
	return items, nil
}

func verificationFromRow(r verificationRow) domain.Verification {
	return domain.Verification{
		ID:               r.ID,
		OrderID:          r.OrderID,
		ReviewerID:       r.ReviewerID,
		Status:           domain.VerificationStatus(r.Status),
		Notes:            r.Notes.String,
		TotalAmount:      r.TotalAmount,
		Punched:          r.Punched,
		DispatchLocation: r.DispatchLocation,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (t *mysqlTx) UpdateVerification(ctx context.Context, v domain.Verification) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE verifications
		SET status = ?, notes = ?, total_amount = ?, punched = ?, dispatch_location = ?, updated_at = NOW(6)
		WHERE id = ?`,
		v.Status, toNullString(v.Notes), v.TotalAmount, v.Punched, v.DispatchLocation, v.ID,
	)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return nil
}

func (t *mysqlTx) ListVerifications(ctx context.Context, filter port.VerificationFilter) ([]domain.Verification, error) {
	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE 1 = 1`
	var args []any
	if filter.ReviewerID != "" {
		query += ` AND reviewer_id = ?`
		args = append(args, filter.ReviewerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.To)
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	var rows []verificationRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	out := make([]domain.Verification, len(rows))
	for i, r := range rows {
		out[i] = verificationFromRow(r)
		items, err := t.verificationItems(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (t *mysqlTx) AddVerificationItem(ctx context.Context, item *domain.VerificationItem) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO verification_items (verification_id, product_id, quantity, price, is_rejected, is_scheme_item, stock_at_verify)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.VerificationID, item.ProductID, item.Quantity, item.Price, item.IsRejected, item.IsSchemeItem,
		toNullInt(item.StockAtVerify),
	)
	if err != nil {
		return mapWriteErr("insert verification item", err)
	}
	if item.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("verification item id: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateVerificationItem(ctx context.Context, item domain.VerificationItem) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE verification_items SET quantity = ?, price = ?, is_rejected = ? WHERE id = ?`,
		item.Quantity, item.Price, item.IsRejected, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update verification item: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteVerificationItem(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM verification_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete verification item: %w", err)
	}
	return nil
}

func (t *mysqlTx) Reserve(ctx context.Context, orderID int64, productID string, quantity int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (order_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, NOW(6))
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), updated_at = NOW(6)`,
		orderID, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	return nil
}

func (t *mysqlTx) Release(ctx context.Context, orderID int64, productID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = ? AND product_id = ?`, orderID, productID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

func (t *mysqlTx) ReleaseAll(ctx context.Context, orderID int64) ([]string, error) {
	var products []string
	err := t.tx.SelectContext(ctx, &products, `
		SELECT DISTINCT product_id FROM reservations WHERE order_id = ? ORDER BY product_id FOR UPDATE`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = ?`, orderID); err != nil {
		return nil, fmt.Errorf("release all: %w", err)
	}
	return products, nil
}

// TotalReserved uses a locking read so the sum reflects every committed
// writer, not the snapshot the transaction started with.
func (t *mysqlTx) TotalReserved(ctx context.Context, productID string) (int, error) {
	var total int
	err := t.tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE product_id = ? FOR UPDATE`, productID)
	if err != nil {
		return 0, fmt.Errorf("sum reservations: %w", err)
	}
	return total, nil
}

func (t *mysqlTx) ListReservations(ctx context.Context, orderID int64) ([]domain.ReservationEntry, error) {
	var rows []struct {
		OrderID   int64     `db:"order_id"`
		ProductID string    `db:"product_id"`
		Quantity  int       `db:"quantity"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT order_id, product_id, quantity, updated_at FROM reservations
		WHERE order_id = ? ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	out := make([]domain.ReservationEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.ReservationEntry{OrderID: r.OrderID, ProductID: r.ProductID, Quantity: r.Quantity, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

func (t *mysqlTx) InsertDispatchRecord(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT IGNORE INTO dispatch_records (row_key, order_code, product_label, quantity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.RowKey, rec.OrderCode, rec.ProductLabel, rec.Quantity, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert dispatch record: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (t *mysqlTx) ListDispatchRecords(ctx context.Context, orderCode string) ([]domain.DispatchRecord, error) {
	var rows []struct {
		RowKey       string    `db:"row_key"`
		OrderCode    string    `db:"order_code"`
		ProductLabel string    `db:"product_label"`
		Quantity     int       `db:"quantity"`
		CreatedAt    time.Time `db:"created_at"`
	}
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT row_key, order_code, product_label, quantity, created_at
		FROM dispatch_records WHERE order_code = ? ORDER BY created_at, row_key`, orderCode)
	if err != nil {
		return nil, fmt.Errorf("list dispatch records: %w", err)
	}
	out := make([]domain.DispatchRecord, len(rows))
	for i, r := range rows {
		out[i] = domain.DispatchRecord{
			RowKey:       r.RowKey,
			OrderCode:    r.OrderCode,
			ProductLabel: r.ProductLabel,
			Quantity:     r.Quantity,
			CreatedAt:    r.CreatedAt,
		}
	}
	return out, nil
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
