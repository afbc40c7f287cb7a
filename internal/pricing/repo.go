package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) ActiveTiers(ctx context.Context) ([]Tier, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, label, min_qty, max_qty, total_price
		FROM price_tiers
		WHERE deleted_at IS NULL
		ORDER BY min_qty`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tier
	for rows.Next() {
		var t Tier
		if err := rows.Scan(&t.ID, &t.Label, &t.MinQty, &t.MaxQty, &t.TotalPriceForMinQty); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
