package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
)

var _ Store = (*Repo)(nil)

type Repo struct{ DB *pgxpool.Pool }

// demand: total unit backing yang dibutuhkan satu order per backing store.
// Line yang share backing (misal produk + pack-nya) digabung jadi satu lock
// dan satu pengecekan.
type demand struct {
	src catalog.SourceRef
	qty int
}

func aggregateDemand(items []orders.OrderItem) []demand {
	bySrc := map[catalog.SourceRef]int{}
	for _, it := range items {
		bySrc[it.Backing] += it.BackingQty
	}
	out := make([]demand, 0, len(bySrc))
	for src, qty := range bySrc {
		out = append(out, demand{src: src, qty: qty})
	}
	// urutan lock konsisten antar transaksi: (kind, id) naik, anti deadlock
	sort.Slice(out, func(i, j int) bool {
		if out[i].src.Kind != out[j].src.Kind {
			return out[i].src.Kind < out[j].src.Kind
		}
		return out[i].src.ID < out[j].src.ID
	})
	return out
}

func sourceTable(kind catalog.SourceKind) (string, error) {
	switch kind {
	case catalog.SourceProduct:
		return "products", nil
	case catalog.SourceVariant:
		return "product_variants", nil
	}
	return "", catalog.ErrPackSource
}

func lockStock(ctx context.Context, tx pgx.Tx, src catalog.SourceRef) (catalog.Stock, error) {
	var s catalog.Stock
	table, err := sourceTable(src.Kind)
	if err != nil {
		return s, err
	}
	err = tx.QueryRow(ctx,
		`SELECT stock_on_hand, stock_reserved FROM `+table+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		src.ID).Scan(&s.OnHand, &s.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", catalog.ErrNotFound, src)
	}
	return s, err
}

func writeStock(ctx context.Context, tx pgx.Tx, src catalog.SourceRef, s catalog.Stock) error {
	table, err := sourceTable(src.Kind)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE `+table+` SET stock_on_hand = $2, stock_reserved = $3, updated_at = now() WHERE id = $1`,
		src.ID, s.OnHand, s.Reserved)
	return err
}

func insertMovement(ctx context.Context, tx pgx.Tx, src catalog.SourceRef, dOnHand, dReserved int, reason string, orderID *string, note string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stock_movements (source_kind, source_id, change_on_hand, change_reserved, reason, order_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		src.Kind, src.ID, dOnHand, dReserved, reason, orderID, note)
	return err
}

// CreateOrderWithReservation: insert order+items lalu reservasi stok per backing
// di bawah FOR UPDATE. Satu line kurang = rollback semua (all-or-nothing).
func (r *Repo) CreateOrderWithReservation(ctx context.Context, o *orders.Order, items []orders.OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, external_id, user_id, customer_name, customer_phone, customer_address,
		                    status, reservation_expires_at, subtotal, total, tracking_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, $11)`,
		o.ID, o.ExternalID, o.UserID, o.CustomerName, o.CustomerPhone, o.CustomerAddress,
		o.Status, o.ReservationExpiresAt, o.Subtotal, o.Total, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, unit_kind, unit_id, backing_kind, backing_id, backing_qty,
			                         unit_price, qty, total_price, allocated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)`,
			it.OrderID, it.Unit.Kind, it.Unit.ID, it.Backing.Kind, it.Backing.ID, it.BackingQty,
			it.UnitPrice, it.Qty, it.TotalPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, d := range aggregateDemand(items) {
		st, err := lockStock(ctx, tx, d.src)
		if err != nil {
			return err
		}
		if err := st.Reserve(d.qty); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return &catalog.InsufficientStockError{Unit: d.src, Requested: d.qty, Available: st.Available()}
			}
			return err
		}
		if err := writeStock(ctx, tx, d.src, st); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, d.src, 0, d.qty, orders.MovementReserve, &o.ID, ""); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return r.scanOrder(ctx, `WHERE id = $1`, id)
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error) {
	return r.scanOrder(ctx, `WHERE external_id = $1`, externalID)
}

func (r *Repo) scanOrder(ctx context.Context, where string, arg any) (*orders.Order, error) {
	var o orders.Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, user_id, customer_name, customer_phone, customer_address,
		       status, reservation_expires_at, subtotal, total, tracking_ref, created_at, updated_at
		FROM orders `+where, arg).
		Scan(&o.ID, &o.ExternalID, &o.UserID, &o.CustomerName, &o.CustomerPhone, &o.CustomerAddress,
			&o.Status, &o.ReservationExpiresAt, &o.Subtotal, &o.Total, &o.TrackingRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) OrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, unit_kind, unit_id, backing_kind, backing_id, backing_qty,
		       unit_price, qty, total_price, allocated
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Unit.Kind, &it.Unit.ID,
			&it.Backing.Kind, &it.Backing.ID, &it.BackingQty,
			&it.UnitPrice, &it.Qty, &it.TotalPrice, &it.Allocated); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// TransitionStatus: guard status lama di WHERE; kalah race = ErrConflict.
func (r *Repo) TransitionStatus(ctx context.Context, id string, from, to orders.Status) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrConflict
	}
	return nil
}

// ReleaseOrder: pindah status + balikin reserved semua backing dalam satu tx.
func (r *Repo) ReleaseOrder(ctx context.Context, id string, from, to orders.Status, reason string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, reservation_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrConflict
	}

	items, err := itemsInTx(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, d := range aggregateDemand(items) {
		st, err := lockStock(ctx, tx, d.src)
		if err != nil {
			return err
		}
		if err := st.Release(d.qty); err != nil {
			return fmt.Errorf("release %s: %w", d.src, err)
		}
		if err := writeStock(ctx, tx, d.src, st); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, d.src, 0, -d.qty, reason, &id, ""); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ShipOrder: finalisasi. On-hand dan reserved turun bareng, item allocated,
// movement 'sale' per backing.
func (r *Repo) ShipOrder(ctx context.Context, id string, trackingRef string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $3, tracking_ref = $4, reservation_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $2`, id, orders.StatusProcessing, orders.StatusShipped, trackingRef)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrConflict
	}

	items, err := itemsInTx(ctx, tx, id)
	if err != nil {
		return err
	}
	for _, d := range aggregateDemand(items) {
		st, err := lockStock(ctx, tx, d.src)
		if err != nil {
			return err
		}
		if err := st.Deduct(d.qty); err != nil {
			return fmt.Errorf("deduct %s: %w", d.src, err)
		}
		if err := writeStock(ctx, tx, d.src, st); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, d.src, -d.qty, -d.qty, orders.MovementSale, &id, trackingRef); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE order_items SET allocated = TRUE WHERE order_id = $1`, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repo) ExpiredOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = ANY($1)
		  AND reservation_expires_at IS NOT NULL
		  AND reservation_expires_at <= $2
		ORDER BY reservation_expires_at
		LIMIT $3`,
		[]string{string(orders.StatusUnpaid), string(orders.StatusAwaitingConfirmation)}, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) Restock(ctx context.Context, src catalog.SourceRef, qty int, note string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := lockStock(ctx, tx, src)
	if err != nil {
		return err
	}
	if err := st.Restock(qty); err != nil {
		return err
	}
	if err := writeStock(ctx, tx, src, st); err != nil {
		return err
	}
	if err := insertMovement(ctx, tx, src, qty, 0, orders.MovementRestock, nil, note); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func itemsInTx(ctx context.Context, tx pgx.Tx, orderID string) ([]orders.OrderItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT backing_kind, backing_id, backing_qty FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.Backing.Kind, &it.Backing.ID, &it.BackingQty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
