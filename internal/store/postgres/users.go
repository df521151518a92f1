package postgres

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

var _ store.UserMirror = (*Store)(nil)

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO users (id, email, name, phone, role, parent_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            email = EXCLUDED.email,
            name = EXCLUDED.name,
            phone = EXCLUDED.phone,
            role = EXCLUDED.role,
            parent_id = EXCLUDED.parent_id`,
		u.ID, u.Email, u.Name, nullable(u.Phone), string(u.Role), nullable(u.ParentID))
	return mapErr(err)
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	out := store.Stats{
		Escrows:     map[string]int{},
		Withdrawals: map[string]int{},
		Held:        map[string]decimal.Decimal{},
	}
	if err := s.pool.QueryRow(ctx, `SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM projects)`).
		Scan(&out.Users, &out.Projects); err != nil {
		return store.Stats{}, mapErr(err)
	}
	if err := countBy(ctx, s, `SELECT status, COUNT(*) FROM escrow_accounts GROUP BY status`, out.Escrows); err != nil {
		return store.Stats{}, err
	}
	if err := countBy(ctx, s, `SELECT status, COUNT(*) FROM withdrawals GROUP BY status`, out.Withdrawals); err != nil {
		return store.Stats{}, err
	}

	rows, err := s.pool.Query(ctx, `
        SELECT currency, SUM(gross_amount)::text FROM escrow_accounts
        WHERE status IN ('held','disputed')
        GROUP BY currency`)
	if err != nil {
		return store.Stats{}, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var cur, raw string
		if err := rows.Scan(&cur, &raw); err != nil {
			return store.Stats{}, mapErr(err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return store.Stats{}, err
		}
		out.Held[cur] = d
	}
	return out, mapErr(rows.Err())
}

func countBy(ctx context.Context, s *Store, sql string, dst map[string]int) error {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return mapErr(err)
		}
		dst[k] = n
	}
	return mapErr(rows.Err())
}
