package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/pondok-erp/pondok-erp/internal/platform/db"
)

// ErrProvisioning wraps table or column creation failures.
var ErrProvisioning = errors.New("schema: provisioning failed")

const (
	pgDuplicateColumn = "42701"
	pgDuplicateTable  = "42P07"

	passwordField = "password"
)

// DB is the subset of *pgxpool.Pool the provisioner needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	db.TxBeginner
}

// Provisioner converges the database schema towards the registry.
type Provisioner struct {
	db          DB
	registry    *Registry
	logger      *slog.Logger
	hashCost    int
	concurrency int
	extras      []SchemaOwner
}

// SchemaOwner provisions a table that lives outside the registry, such as
// the audit log.
type SchemaOwner interface {
	EnsureSchema(ctx context.Context) error
}

// ProvisionerOption customises a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithHashCost sets the bcrypt cost used for seeded passwords.
func WithHashCost(cost int) ProvisionerOption {
	return func(p *Provisioner) { p.hashCost = cost }
}

// WithConcurrency bounds the number of tables EnsureAll provisions at once.
func WithConcurrency(n int) ProvisionerOption {
	return func(p *Provisioner) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithSchemaOwners adds tables that EnsureAll converges next to the
// registered entity types.
func WithSchemaOwners(owners ...SchemaOwner) ProvisionerOption {
	return func(p *Provisioner) { p.extras = append(p.extras, owners...) }
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(database DB, registry *Registry, logger *slog.Logger, opts ...ProvisionerOption) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provisioner{
		db:          database,
		registry:    registry,
		logger:      logger,
		hashCost:    bcrypt.DefaultCost,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTable creates the table for et when missing, adds any missing column
// and seeds default rows into an empty seeded table. Safe to call repeatedly.
func (p *Provisioner) EnsureTable(ctx context.Context, et *EntityType) error {
	if _, err := p.db.Exec(ctx, et.CreateTableSQL()); err != nil && !isDuplicate(err) {
		return fmt.Errorf("%w: create %s: %w", ErrProvisioning, et.Name(), err)
	}
	for _, col := range et.Columns() {
		stmt, err := et.AddColumnSQL(col)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %w", ErrProvisioning, et.Name(), col.Name(), err)
		}
		if _, err := p.db.Exec(ctx, stmt); err != nil && !isDuplicate(err) {
			return fmt.Errorf("%w: add column %s.%s: %w", ErrProvisioning, et.Name(), col.Name(), err)
		}
	}
	if len(et.seeds) == 0 {
		return nil
	}
	if err := p.seed(ctx, et); err != nil {
		return fmt.Errorf("%w: seed %s: %w", ErrProvisioning, et.Name(), err)
	}
	return nil
}

// EnsureAll provisions every registered entity type and every schema owner.
// A failure does not stop the others; all failures are returned joined.
func (p *Provisioner) EnsureAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, et := range p.registry.Types() {
		g.Go(func() error {
			if err := p.EnsureTable(gctx, et); err != nil {
				p.logger.Warn("provision entity type", slog.String("type", et.Name()), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	for _, owner := range p.extras {
		g.Go(func() error {
			if err := owner.EnsureSchema(gctx); err != nil {
				err = fmt.Errorf("%w: %T: %w", ErrProvisioning, owner, err)
				p.logger.Warn("provision schema owner", slog.Any("error", err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Provisioner) seed(ctx context.Context, et *EntityType) error {
	var count int64
	if err := p.db.QueryRow(ctx, et.CountSQL()).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	rows, err := p.seedRows(et)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, p.db, func(tx pgx.Tx) error {
		// Concurrent first requests may race here; the lock makes the recount authoritative.
		if _, err := tx.Exec(ctx, "LOCK TABLE "+et.Table().Quoted()+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, et.CountSQL()).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for _, row := range rows {
			stmt, err := et.InsertSQL(row.cols)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, stmt, row.args...); err != nil {
				return err
			}
		}
		p.logger.Info("seeded default rows", slog.String("type", et.Name()), slog.Int("rows", len(rows)))
		return nil
	})
}

type seedRow struct {
	cols []Column
	args []any
}

func (p *Provisioner) seedRows(et *EntityType) ([]seedRow, error) {
	rows := make([]seedRow, 0, len(et.seeds))
	for _, seed := range et.seeds {
		var row seedRow
		for _, col := range et.Columns() {
			value, ok := seed[col.Name()]
			if !ok {
				continue
			}
			if col.Name() == passwordField && value != "" {
				hashed, err := bcrypt.GenerateFromPassword([]byte(value), p.hashCost)
				if err != nil {
					return nil, err
				}
				value = string(hashed)
			}
			row.cols = append(row.cols, col)
			row.args = append(row.args, value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgDuplicateColumn || pgErr.Code == pgDuplicateTable
}
