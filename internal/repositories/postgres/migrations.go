package postgres

import ppostgres "github.com/homebitez/api/internal/platform/postgres"

// Migrations returns the forward-only schema history of the checkout database.
// Statements are idempotent so databases created by earlier tooling can adopt the history.
func Migrations() []ppostgres.Migration {
	return []ppostgres.Migration{
		{
			Version: 1,
			Name:    "users_and_orders",
			SQL: `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT,
	points INTEGER NOT NULL DEFAULT 0,
	wallet_balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	paypal_order_id TEXT,
	paypal_capture_id TEXT,
	stripe_payment_intent TEXT,
	payer_email TEXT,
	shipping_name TEXT,
	items JSONB NOT NULL DEFAULT '[]'::jsonb,
	subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
	delivery_fee NUMERIC(12,2) NOT NULL DEFAULT 0,
	total NUMERIC(12,2) NOT NULL,
	paylater_months INTEGER,
	paylater_monthly NUMERIC(12,2),
	paylater_paid NUMERIC(12,2),
	paylater_remaining NUMERIC(12,2) CHECK (paylater_remaining IS NULL OR paylater_remaining >= 0),
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
`,
		},
		{
			Version: 2,
			Name:    "order_fulfillment_and_settlement",
			SQL: `
ALTER TABLE orders ADD COLUMN IF NOT EXISTS payment_method TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS nets_txn_ref TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS settlement_key TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS address TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS contact TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS fulfillment_mode TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS delivery_urgency TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS notes TEXT;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS redeem_amount NUMERIC(12,2) NOT NULL DEFAULT 0;
ALTER TABLE orders ADD COLUMN IF NOT EXISTS redeem_points INTEGER NOT NULL DEFAULT 0;

CREATE UNIQUE INDEX IF NOT EXISTS orders_settlement_key_uidx ON orders (settlement_key) WHERE settlement_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS orders_paylater_idx ON orders (status, created_at) WHERE status = 'paylater';
`,
		},
		{
			Version: 3,
			Name:    "ledgers",
			SQL: `
CREATE TABLE IF NOT EXISTS loyalty_history (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	points_delta INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS loyalty_history_reference_uidx ON loyalty_history (reference) WHERE reference IS NOT NULL;
CREATE INDEX IF NOT EXISTS loyalty_history_user_idx ON loyalty_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	type TEXT NOT NULL CHECK (type IN ('topup', 'payment')),
	method TEXT NOT NULL DEFAULT '',
	amount NUMERIC(12,2) NOT NULL,
	balance_after NUMERIC(12,2) NOT NULL,
	reference TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS wallet_transactions_reference_uidx ON wallet_transactions (reference) WHERE reference IS NOT NULL;
CREATE INDEX IF NOT EXISTS wallet_transactions_user_idx ON wallet_transactions (user_id, created_at DESC);
`,
		},
		{
			Version: 4,
			Name:    "refunds_and_products",
			SQL: `
CREATE TABLE IF NOT EXISTS refund_requests (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	amount NUMERIC(12,2) NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL CHECK (method IN ('original', 'wallet')),
	details TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS refund_requests_status_idx ON refund_requests (status, created_at DESC);
CREATE INDEX IF NOT EXISTS refund_requests_user_idx ON refund_requests (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	price NUMERIC(12,2) NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS products_name_key_uidx ON products (name_key);
`,
		},
		{
			Version: 5,
			Name:    "idempotency_keys",
			SQL: `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	response_status INTEGER NOT NULL DEFAULT 0,
	response_headers JSONB,
	response_body BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idempotency_keys_expires_idx ON idempotency_keys (expires_at);
`,
		},
		{
			Version: 6,
			Name:    "order_payment_reference_indexes",
			SQL: `
CREATE INDEX IF NOT EXISTS orders_paypal_order_idx ON orders (paypal_order_id) WHERE paypal_order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS orders_stripe_intent_idx ON orders (stripe_payment_intent) WHERE stripe_payment_intent IS NOT NULL;
CREATE INDEX IF NOT EXISTS orders_nets_ref_idx ON orders (nets_txn_ref) WHERE nets_txn_ref IS NOT NULL;
`,
		},
		{
			Version: 7,
			Name:    "refund_requests_order_index",
			SQL: `
CREATE INDEX IF NOT EXISTS refund_requests_order_idx ON refund_requests (order_id, status);
`,
		},
	}
}
