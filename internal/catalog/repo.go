package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, retail_price, stock_on_hand, stock_reserved, status,
		       EXISTS (SELECT 1 FROM product_variants v WHERE v.product_id = p.id AND v.deleted_at IS NULL),
		       created_at, updated_at
		FROM products p
		WHERE deleted_at IS NULL
		ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.RetailPrice, &p.Stock.OnHand, &p.Stock.Reserved,
			&p.Status, &p.HasVariants, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ProductVariants(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, sku, retail_price, stock_on_hand, stock_reserved, status
		FROM product_variants
		WHERE product_id = $1 AND deleted_at IS NULL
		ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.RetailPrice,
			&v.Stock.OnHand, &v.Stock.Reserved, &v.Status); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Available menghitung availability untuk display (read-side, tanpa lock).
// Sumber kebenaran saat reservasi tetap pengecekan di bawah FOR UPDATE.
func (r *Repo) Available(ctx context.Context, ref UnitRef) (int, error) {
	switch ref.Kind {
	case UnitProduct:
		var p Product
		err := r.DB.QueryRow(ctx, `
			SELECT id, stock_on_hand, stock_reserved,
			       EXISTS (SELECT 1 FROM product_variants v WHERE v.product_id = p.id AND v.deleted_at IS NULL)
			FROM products p WHERE id = $1 AND deleted_at IS NULL`, ref.ID).
			Scan(&p.ID, &p.Stock.OnHand, &p.Stock.Reserved, &p.HasVariants)
		if err != nil {
			return 0, mapNoRows(err)
		}
		if !p.HasVariants {
			return p.Stock.Available(), nil
		}
		variants, err := r.ProductVariants(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		return ProductAvailable(p, variants), nil

	case UnitVariant:
		var v Variant
		err := r.DB.QueryRow(ctx, `
			SELECT id, product_id, stock_on_hand, stock_reserved
			FROM product_variants WHERE id = $1 AND deleted_at IS NULL`, ref.ID).
			Scan(&v.ID, &v.ProductID, &v.Stock.OnHand, &v.Stock.Reserved)
		if err != nil {
			return 0, mapNoRows(err)
		}
		return VariantAvailable(v), nil

	case UnitPack:
		pack, err := r.pack(ctx, ref.ID)
		if err != nil {
			return 0, err
		}
		parent, err := r.sourceStock(ctx, pack.Source)
		if err != nil {
			return 0, err
		}
		return PackAvailable(*pack, parent), nil
	}
	return 0, fmt.Errorf("%w: unknown unit kind %q", ErrUnitNotSellable, ref.Kind)
}

// SellableUnit resolve UnitRef jadi unit siap jual: harga efektif, backing stok,
// dan konsumsi unit per qty. Produk yang punya varian tidak bisa dijual langsung.
func (r *Repo) SellableUnit(ctx context.Context, ref UnitRef) (*SellableUnit, error) {
	switch ref.Kind {
	case UnitProduct:
		var (
			u           SellableUnit
			hasVariants bool
			status      Status
		)
		err := r.DB.QueryRow(ctx, `
			SELECT sku, name, retail_price, status,
			       EXISTS (SELECT 1 FROM product_variants v WHERE v.product_id = p.id AND v.deleted_at IS NULL)
			FROM products p WHERE id = $1 AND deleted_at IS NULL`, ref.ID).
			Scan(&u.SKU, &u.Name, &u.RetailPrice, &status, &hasVariants)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if hasVariants || status != StatusActive {
			return nil, fmt.Errorf("%w: %s", ErrUnitNotSellable, ref)
		}
		u.Ref = ref
		u.Backing = SourceRef{Kind: SourceProduct, ID: ref.ID}
		u.UnitsPerQty = 1
		return &u, nil

	case UnitVariant:
		var (
			u            SellableUnit
			variantPrice decimal.NullDecimal
			productPrice decimal.Decimal
			productName  string
			status       Status
		)
		err := r.DB.QueryRow(ctx, `
			SELECT v.sku, v.retail_price, v.status, p.retail_price, p.name
			FROM product_variants v
			JOIN products p ON p.id = v.product_id AND p.deleted_at IS NULL
			WHERE v.id = $1 AND v.deleted_at IS NULL`, ref.ID).
			Scan(&u.SKU, &variantPrice, &status, &productPrice, &productName)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if status != StatusActive {
			return nil, fmt.Errorf("%w: %s", ErrUnitNotSellable, ref)
		}
		u.Ref = ref
		u.Name = productName
		u.RetailPrice = productPrice
		if variantPrice.Valid {
			u.RetailPrice = variantPrice.Decimal
		}
		u.Backing = SourceRef{Kind: SourceVariant, ID: ref.ID}
		u.UnitsPerQty = 1
		return &u, nil

	case UnitPack:
		pack, err := r.pack(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if pack.Status != StatusActive {
			return nil, fmt.Errorf("%w: %s", ErrUnitNotSellable, ref)
		}
		parentPrice, parentSKU, parentName, err := r.sourcePrice(ctx, pack.Source)
		if err != nil {
			return nil, err
		}
		u := SellableUnit{
			Ref:         ref,
			SKU:         parentSKU,
			Name:        pack.Label + " (" + parentName + ")",
			RetailPrice: parentPrice,
			Backing:     pack.Source,
			UnitsPerQty: PackDemand(*pack, 1),
		}
		if pack.PackPrice.Valid {
			u.RetailPrice = pack.PackPrice.Decimal
		}
		return &u, nil
	}
	return nil, fmt.Errorf("%w: unknown unit kind %q", ErrUnitNotSellable, ref.Kind)
}

func (r *Repo) pack(ctx context.Context, id int64) (*Pack, error) {
	var (
		p         Pack
		productID *int64
		variantID *int64
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, product_id, product_variant_id, label, pack_size, pack_price, status
		FROM product_variant_packs WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&p.ID, &productID, &variantID, &p.Label, &p.PackSize, &p.PackPrice, &p.Status)
	if err != nil {
		return nil, mapNoRows(err)
	}
	p.Source, err = NewPackSource(productID, variantID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) sourceStock(ctx context.Context, src SourceRef) (Stock, error) {
	var s Stock
	var q string
	switch src.Kind {
	case SourceProduct:
		q = `SELECT stock_on_hand, stock_reserved FROM products WHERE id = $1 AND deleted_at IS NULL`
	case SourceVariant:
		q = `SELECT stock_on_hand, stock_reserved FROM product_variants WHERE id = $1 AND deleted_at IS NULL`
	default:
		return s, ErrPackSource
	}
	if err := r.DB.QueryRow(ctx, q, src.ID).Scan(&s.OnHand, &s.Reserved); err != nil {
		return s, mapNoRows(err)
	}
	return s, nil
}

func (r *Repo) sourcePrice(ctx context.Context, src SourceRef) (decimal.Decimal, string, string, error) {
	switch src.Kind {
	case SourceProduct:
		var price decimal.Decimal
		var sku, name string
		err := r.DB.QueryRow(ctx,
			`SELECT retail_price, sku, name FROM products WHERE id = $1 AND deleted_at IS NULL`, src.ID).
			Scan(&price, &sku, &name)
		return price, sku, name, mapNoRows(err)
	case SourceVariant:
		var variantPrice decimal.NullDecimal
		var productPrice decimal.Decimal
		var sku, name string
		err := r.DB.QueryRow(ctx, `
			SELECT v.retail_price, p.retail_price, v.sku, p.name
			FROM product_variants v
			JOIN products p ON p.id = v.product_id AND p.deleted_at IS NULL
			WHERE v.id = $1 AND v.deleted_at IS NULL`, src.ID).
			Scan(&variantPrice, &productPrice, &sku, &name)
		if err != nil {
			return decimal.Decimal{}, "", "", mapNoRows(err)
		}
		if variantPrice.Valid {
			return variantPrice.Decimal, sku, name, nil
		}
		return productPrice, sku, name, nil
	}
	return decimal.Decimal{}, "", "", ErrPackSource
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
