package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"order-mailer/pkg/order"
)

// Connector opens one connection per reconciliation cycle. URLs are tried
// in order; the first that answers wins.
type Connector struct {
	configs []*pgx.ConnConfig
	timeout time.Duration
	logger  *slog.Logger
}

// NewConnector parses the primary URL and its fallbacks. Unparseable
// fallbacks are logged and dropped; if nothing parses the process cannot
// reach any store and NewConnector fails.
func NewConnector(primary string, fallbacks []string, timeout time.Duration, logger *slog.Logger) (*Connector, error) {
	c := &Connector{timeout: timeout, logger: logger}
	var errs []error
	for i, raw := range append([]string{primary}, fallbacks...) {
		if raw == "" {
			continue
		}
		cfg, err := pgx.ParseConfig(raw)
		if err != nil {
			logger.Warn("ignoring unparseable database URL", "position", i, "error", err)
			errs = append(errs, fmt.Errorf("url %d: %w", i, err))
			continue
		}
		c.configs = append(c.configs, cfg)
	}
	if len(c.configs) == 0 {
		errs = append(errs, errors.New("no usable database URL"))
		return nil, fmt.Errorf("unable to parse database URL: %w", errors.Join(errs...))
	}
	return c, nil
}

// Connect returns the first connection that succeeds.
func (c *Connector) Connect(ctx context.Context) (*Conn, error) {
	var errs []error
	for i, cfg := range c.configs {
		conn, err := c.dial(ctx, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s:%d: %w", cfg.Host, cfg.Port, err))
			continue
		}
		if i > 0 {
			c.logger.Warn("connected using fallback database URL", "position", i, "host", cfg.Host)
		}
		return &Conn{conn: conn}, nil
	}
	return nil, fmt.Errorf("unable to connect to database: %w", errors.Join(errs...))
}

func (c *Connector) dial(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return pgx.ConnectConfig(ctx, cfg)
}

// Conn is a single ledger connection.
type Conn struct {
	conn *pgx.Conn
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// InitSchema creates the ledger tables if they are missing.
func (c *Conn) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS customers (
        code TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT
    );
    CREATE TABLE IF NOT EXISTS order_headers (
        order_number BIGINT PRIMARY KEY,
        customer_code TEXT NOT NULL REFERENCES customers(code),
        state CHAR(1) NOT NULL DEFAULT 'A',
        closed_at TIMESTAMPTZ
    );
    CREATE TABLE IF NOT EXISTS order_email_control (
        id BIGSERIAL PRIMARY KEY,
        order_number BIGINT NOT NULL UNIQUE REFERENCES order_headers(order_number),
        customer_code TEXT NOT NULL REFERENCES customers(code),
        closed_at TIMESTAMPTZ NOT NULL,
        cc_emails TEXT NOT NULL DEFAULT '',
        sent_version INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'PENDENTE'
            CHECK (status IN ('PENDENTE', 'PROCESSANDO', 'ENVIADO', 'ERRO_VALIDACAO', 'INVALIDO')),
        email_sent BOOLEAN NOT NULL DEFAULT FALSE,
        attempts INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
        last_error TEXT,
        send_to_customer BOOLEAN NOT NULL DEFAULT TRUE,
        sent_at TIMESTAMPTZ,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_order_email_control_status ON order_email_control (status, email_sent);
    `
	if _, err := c.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RequeueStale moves rows whose processing marker is older than cutoff
// back to PENDENTE. Attempts are left alone.
func (c *Conn) RequeueStale(ctx context.Context, cutoff time.Time, note string) (int64, error) {
	query := `
        UPDATE order_email_control
        SET status = 'PENDENTE', last_error = $2, updated_at = NOW()
        WHERE status = 'PROCESSANDO' AND updated_at < $1
    `
	tag, err := c.conn.Exec(ctx, query, cutoff, note)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FetchCandidates returns control rows of closed orders that may need a
// send or a resend. Sent rows are fetched too; the version comparison that
// rules them out happens in the caller.
func (c *Conn) FetchCandidates(ctx context.Context) ([]order.Record, error) {
	query := `
        SELECT c.id, c.order_number, c.customer_code, c.closed_at, c.cc_emails,
               cu.email, COALESCE(cu.name, ''),
               c.sent_version, c.status, c.email_sent, c.attempts, c.last_error, c.send_to_customer
        FROM order_email_control c
        JOIN order_headers h ON h.order_number = c.order_number
        LEFT JOIN customers cu ON cu.code = c.customer_code
        WHERE h.state = 'F'
          AND (
               (c.status = 'PENDENTE' AND c.email_sent = FALSE)
            OR (c.status = 'PENDENTE' AND c.email_sent = TRUE)
            OR (c.status = 'ENVIADO' AND c.email_sent = TRUE)
            OR (c.status = 'ERRO_VALIDACAO' AND c.email_sent = FALSE)
            OR (c.status = 'ERRO_VALIDACAO' AND c.email_sent = TRUE)
            OR (c.status = 'INVALIDO' AND c.email_sent = FALSE)
          )
        ORDER BY c.closed_at ASC, c.id ASC
    `
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate orders: %w", err)
	}
	defer rows.Close()

	records := []order.Record{}
	for rows.Next() {
		var r order.Record
		var email, lastError sql.NullString
		var status string
		if err := rows.Scan(
			&r.ID, &r.OrderNumber, &r.CustomerCode, &r.ClosedAt, &r.CCEmails,
			&email, &r.Customer.Name,
			&r.SentVersion, &status, &r.EmailSent, &r.Attempts, &lastError, &r.SendToCustomer,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate order: %w", err)
		}
		r.Status = order.Status(status)
		r.Customer.Email = email.String
		r.LastError = lastError.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate orders: %w", err)
	}
	return records, nil
}

// MarkProcessing sets the pick-up marker. It is informational only.
func (c *Conn) MarkProcessing(ctx context.Context, id int64) error {
	query := `UPDATE order_email_control SET status = 'PROCESSANDO', updated_at = NOW() WHERE id = $1`
	if _, err := c.conn.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark order %d as processing: %w", id, err)
	}
	return nil
}

// Commit applies the transition for one outcome.
func (c *Conn) Commit(ctx context.Context, id int64, outcome order.Outcome) error {
	var (
		query string
		args  []any
	)
	switch v := outcome.(type) {
	case order.Success:
		query = `
            UPDATE order_email_control
            SET status = 'ENVIADO', email_sent = TRUE, sent_version = $2, attempts = 0,
                last_error = NULL, sent_at = NOW(), updated_at = NOW()
            WHERE id = $1`
		args = []any{id, v.Version}
	case order.ValidationFailure:
		query = `
            UPDATE order_email_control
            SET status = 'ERRO_VALIDACAO', last_error = $2, updated_at = NOW()
            WHERE id = $1`
		args = []any{id, v.Reason}
	case order.DispatchFailure:
		query = `
            UPDATE order_email_control
            SET status = 'PENDENTE', attempts = attempts + 1, last_error = $2, updated_at = NOW()
            WHERE id = $1`
		args = []any{id, v.Err}
	default:
		return fmt.Errorf("unknown outcome %T", outcome)
	}

	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to commit %s for order %d: %w", outcome.Kind(), id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order control row %d not found", id)
	}
	return nil
}
