package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ensureStep struct {
	name string
	sql  string
}

// Every statement is idempotent so EnsureSchema can run on each start.
var schema = []ensureStep{
	{"users", `
        CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            phone TEXT NULL,
            role TEXT NOT NULL CHECK (role IN ('owner','tradie','admin','system')),
            parent_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL
        )`},
	{"projects", `
        CREATE TABLE IF NOT EXISTS projects (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL REFERENCES users(id),
            description TEXT NOT NULL DEFAULT '',
            location TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'published' CHECK (status IN (
                'published','negotiating','agreed','escrowed','in_progress',
                'completed','protection','released','reviewed','cancelled'
            )),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`},
	{"quotes", `
        CREATE TABLE IF NOT EXISTS quotes (
            id TEXT PRIMARY KEY,
            project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
            tradie_id TEXT NOT NULL REFERENCES users(id),
            price NUMERIC(18,4) NOT NULL CHECK (price > 0),
            currency CHAR(3) NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
        ALTER TABLE quotes DROP CONSTRAINT IF EXISTS quotes_status_check;
        ALTER TABLE quotes ADD CONSTRAINT quotes_status_check CHECK (status IN ('pending','accepted','rejected','void'));
        CREATE UNIQUE INDEX IF NOT EXISTS uq_quotes_one_accepted ON quotes(project_id) WHERE status = 'accepted';
        CREATE UNIQUE INDEX IF NOT EXISTS uq_quotes_one_pending ON quotes(project_id, tradie_id) WHERE status = 'pending';
        CREATE INDEX IF NOT EXISTS idx_quotes_project ON quotes(project_id, created_at)`},
	{"payment_intents", `
        CREATE TABLE IF NOT EXISTS payment_intents (
            provider TEXT NOT NULL,
            id TEXT NOT NULL,
            method TEXT NOT NULL CHECK (method IN ('card','bank_redirect')),
            project_id TEXT NOT NULL REFERENCES projects(id),
            quote_id TEXT NOT NULL REFERENCES quotes(id),
            payer_id TEXT NOT NULL,
            payee_id TEXT NOT NULL,
            amount NUMERIC(18,4) NOT NULL,
            currency CHAR(3) NOT NULL,
            client_secret TEXT NULL,
            redirect_url TEXT NULL,
            status TEXT NOT NULL CHECK (status IN ('created','succeeded','failed')),
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (provider, id)
        )`},
	{"payments", `
        CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            project_id TEXT NOT NULL REFERENCES projects(id),
            quote_id TEXT NOT NULL REFERENCES quotes(id),
            payer_id TEXT NOT NULL,
            payee_id TEXT NOT NULL,
            amount NUMERIC(18,4) NOT NULL,
            currency CHAR(3) NOT NULL,
            method TEXT NOT NULL,
            provider TEXT NOT NULL,
            provider_intent_id TEXT NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('held','confirmed','failed','refunded')),
            failure_reason TEXT NULL,
            confirmed_at TIMESTAMPTZ NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE (provider, provider_intent_id)
        );
        CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_one_confirmed ON payments(project_id) WHERE status = 'confirmed'`},
	{"escrow_accounts", `
        CREATE TABLE IF NOT EXISTS escrow_accounts (
            id TEXT PRIMARY KEY,
            payment_id TEXT NOT NULL UNIQUE REFERENCES payments(id),
            project_id TEXT NOT NULL REFERENCES projects(id),
            owner_id TEXT NOT NULL,
            payee_id TEXT NOT NULL,
            affiliate_id TEXT NULL,
            currency CHAR(3) NOT NULL,
            gross_amount NUMERIC(18,4) NOT NULL,
            platform_fee NUMERIC(18,4) NOT NULL,
            affiliate_fee NUMERIC(18,4) NOT NULL,
            tax_withheld NUMERIC(18,4) NOT NULL,
            net_amount NUMERIC(18,4) NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('held','released','disputed')),
            protection_end_date TIMESTAMPTZ NOT NULL,
            released_at TIMESTAMPTZ NULL,
            released_by TEXT NULL,
            expiry_notice_sent_at TIMESTAMPTZ NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            CONSTRAINT escrow_breakdown_balanced CHECK (gross_amount - platform_fee - affiliate_fee - tax_withheld = net_amount)
        );
        CREATE INDEX IF NOT EXISTS idx_escrow_due ON escrow_accounts(protection_end_date) WHERE status = 'held';
        CREATE INDEX IF NOT EXISTS idx_escrow_payee ON escrow_accounts(payee_id, currency, status);
        CREATE INDEX IF NOT EXISTS idx_escrow_owner ON escrow_accounts(owner_id)`},
	{"disputes", `
        CREATE TABLE IF NOT EXISTS disputes (
            id TEXT PRIMARY KEY,
            escrow_id TEXT NOT NULL REFERENCES escrow_accounts(id) ON DELETE CASCADE,
            raised_by TEXT NOT NULL,
            reason TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','resolved')),
            outcome TEXT NULL CHECK (outcome IN ('release','reinstate')),
            notes TEXT NULL,
            resolved_by TEXT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            resolved_at TIMESTAMPTZ NULL
        );
        CREATE UNIQUE INDEX IF NOT EXISTS uq_disputes_one_open ON disputes(escrow_id) WHERE status = 'open';
        CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status)`},
	{"withdrawals", `
        CREATE TABLE IF NOT EXISTS withdrawals (
            id TEXT PRIMARY KEY,
            payee_id TEXT NOT NULL,
            amount NUMERIC(18,4) NOT NULL CHECK (amount > 0),
            currency CHAR(3) NOT NULL,
            reference TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL CHECK (status IN ('requested','processing','completed','failed')),
            failure_reason TEXT NULL,
            estimated_processing_time TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            completed_at TIMESTAMPTZ NULL
        );
        CREATE INDEX IF NOT EXISTS idx_withdrawals_payee ON withdrawals(payee_id, currency, status)`},
	{"notifications", `
        CREATE TABLE IF NOT EXISTS notifications (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            type TEXT NOT NULL,
            title TEXT NOT NULL,
            body TEXT,
            reference TEXT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
            read_at TIMESTAMPTZ NULL
        );
        CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at);
        CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE read_at IS NULL`},
}

// EnsureSchema creates any missing table or index.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, step := range schema {
		if _, err := pool.Exec(ctx, step.sql); err != nil {
			return fmt.Errorf("ensure %s: %w", step.name, err)
		}
		slog.Debug("schema ensured", "table", step.name)
	}
	return nil
}

// Tables lists the managed tables in creation order.
func Tables() []string {
	out := make([]string, len(schema))
	for i, s := range schema {
		out[i] = s.name
	}
	return out
}
