package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pondok-erp/pondok-erp/internal/audit"
	"github.com/pondok-erp/pondok-erp/internal/schema"
	"github.com/pondok-erp/pondok-erp/internal/shared"
)

// Provisioner converges a table before use.
type Provisioner interface {
	EnsureTable(ctx context.Context, et *schema.EntityType) error
}

// AuditRecorder receives one call per mutating operation.
type AuditRecorder interface {
	Record(ctx context.Context, action audit.Action, targetType, targetID, details string)
}

// FileDeleter removes stored objects referenced by file columns.
type FileDeleter interface {
	Destroy(ctx context.Context, url string) error
}

// Observer is notified of every gateway operation outcome.
type Observer interface {
	ObserveRecordOp(entity, op string, err error)
}

// Config collects Gateway dependencies.
type Config struct {
	Registry    *schema.Registry
	Provisioner Provisioner
	Store       Store
	Audit       AuditRecorder
	Files       FileDeleter
	Observer    Observer
	Hasher      PasswordHasher
	Logger      *slog.Logger
}

// Gateway validates requests against the registry and executes them.
// It holds no per-request state.
type Gateway struct {
	registry    *schema.Registry
	provisioner Provisioner
	store       Store
	audit       AuditRecorder
	files       FileDeleter
	observer    Observer
	hasher      PasswordHasher
	logger      *slog.Logger
}

// SaveResult reports the outcome of Save.
type SaveResult struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// NewGateway constructs a Gateway.
func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry:    cfg.Registry,
		provisioner: cfg.Provisioner,
		store:       cfg.Store,
		audit:       cfg.Audit,
		files:       cfg.Files,
		observer:    cfg.Observer,
		hasher:      cfg.Hasher,
		logger:      logger,
	}
}

// Get returns every record of entityType newest first, or the record with id
// when id is non-empty (an empty slice when it does not exist).
func (g *Gateway) Get(ctx context.Context, entityType, id string) (recs []Record, err error) {
	defer func() { g.observe(entityType, "get", err) }()
	et, err := g.prepare(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return g.store.SelectAll(ctx, et)
	}
	recID, perr := parseID(id)
	if perr != nil || recID == 0 {
		return []Record{}, nil
	}
	rec, err := g.store.SelectByID(ctx, et, recID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return []Record{}, nil
	}
	return []Record{*rec}, nil
}

// FindBy lists records whose field equals value, newest first.
func (g *Gateway) FindBy(ctx context.Context, entityType, field, value string) (recs []Record, err error) {
	defer func() { g.observe(entityType, "find", err) }()
	et, err := g.prepare(ctx, entityType)
	if err != nil {
		return nil, err
	}
	col, ok := et.Column(field)
	if !ok {
		return nil, fmt.Errorf("records: %s.%s: %w", entityType, field, shared.ErrInvalidField)
	}
	return g.store.SelectWhere(ctx, et, col, value)
}

// Save inserts or updates exactly the registered fields present in fields.
// The record id comes from fields["id"], falling back to explicitID; without
// one a new row is inserted.
func (g *Gateway) Save(ctx context.Context, entityType string, fields map[string]any, explicitID string) (res SaveResult, err error) {
	defer func() { g.observe(entityType, "save", err) }()
	et, err := g.prepare(ctx, entityType)
	if err != nil {
		return SaveResult{}, err
	}
	id, err := resolveID(fields, explicitID)
	if err != nil {
		return SaveResult{}, err
	}
	values, err := assignments(et, fields)
	if err != nil {
		return SaveResult{}, err
	}
	if err := g.hashSecrets(values); err != nil {
		return SaveResult{}, fmt.Errorf("records: %s: hash: %w", et.Name(), err)
	}
	details := describe(values)

	if id == 0 {
		newID, err := g.store.Insert(ctx, et, values)
		if err != nil {
			return SaveResult{}, err
		}
		g.record(ctx, audit.ActionCreate, et, newID, details)
		return SaveResult{ID: newID, Created: true}, nil
	}

	if len(values) == 0 {
		rec, err := g.store.SelectByID(ctx, et, id)
		if err != nil {
			return SaveResult{}, err
		}
		if rec == nil {
			return SaveResult{}, fmt.Errorf("records: %s %d: %w", et.Name(), id, shared.ErrNotFound)
		}
	} else {
		n, err := g.store.Update(ctx, et, id, values)
		if err != nil {
			return SaveResult{}, err
		}
		if n == 0 {
			return SaveResult{}, fmt.Errorf("records: %s %d: %w", et.Name(), id, shared.ErrNotFound)
		}
	}
	action := audit.ActionUpdate
	if et.IsConfig() {
		action = audit.ActionUpdateConfig
	}
	g.record(ctx, action, et, id, details)
	return SaveResult{ID: id}, nil
}

// Delete removes one record. Stored objects referenced by its file columns
// are deleted first on a best-effort basis.
func (g *Gateway) Delete(ctx context.Context, entityType, id string) (err error) {
	defer func() { g.observe(entityType, "delete", err) }()
	et, err := g.prepare(ctx, entityType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return shared.ErrMissingID
	}
	recID, err := parseID(id)
	if err != nil {
		return err
	}
	if recID == 0 {
		return shared.ErrMissingID
	}
	if et.HasFiles() {
		g.cleanupFiles(ctx, et, recID)
	}
	n, err := g.store.Delete(ctx, et, recID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("records: %s %d: %w", et.Name(), recID, shared.ErrNotFound)
	}
	g.record(ctx, audit.ActionDelete, et, recID, "")
	return nil
}

// hashSecrets replaces plain password values in place. NULLs and values
// that are already bcrypt hashes are kept.
func (g *Gateway) hashSecrets(values []Assignment) error {
	if g.hasher == nil {
		return nil
	}
	for i, v := range values {
		if v.Value == nil || !isSecretColumn(v.Column.Name()) || alreadyHashed(*v.Value) {
			continue
		}
		hashed, err := g.hasher.Hash(*v.Value)
		if err != nil {
			return err
		}
		values[i].Value = &hashed
	}
	return nil
}

func (g *Gateway) prepare(ctx context.Context, entityType string) (*schema.EntityType, error) {
	et, err := g.registry.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if g.provisioner != nil {
		if err := g.provisioner.EnsureTable(ctx, et); err != nil {
			g.logger.Warn("provision before request", slog.String("type", et.Name()), slog.Any("error", err))
		}
	}
	return et, nil
}

func (g *Gateway) cleanupFiles(ctx context.Context, et *schema.EntityType, id int64) {
	if g.files == nil {
		return
	}
	rec, err := g.store.SelectByID(ctx, et, id)
	if err != nil {
		g.logger.Warn("read record before file cleanup", slog.String("type", et.Name()), slog.Int64("id", id), slog.Any("error", err))
		return
	}
	if rec == nil {
		return
	}
	for _, col := range et.FileColumns() {
		url := strings.TrimSpace(rec.Value(col.Name()))
		if url == "" {
			continue
		}
		if err := g.files.Destroy(ctx, url); err != nil {
			g.logger.Warn("delete stored file",
				slog.String("type", et.Name()),
				slog.Int64("id", id),
				slog.String("field", col.Name()),
				slog.Any("error", err),
			)
		}
	}
}

func (g *Gateway) record(ctx context.Context, action audit.Action, et *schema.EntityType, id int64, details string) {
	if g.audit == nil {
		return
	}
	g.audit.Record(ctx, action, et.Name(), strconv.FormatInt(id, 10), details)
}

func (g *Gateway) observe(entity, op string, err error) {
	if g.observer == nil {
		return
	}
	if errors.Is(err, shared.ErrInvalidType) {
		entity = "_invalid"
	}
	g.observer.ObserveRecordOp(entity, op, err)
}

func resolveID(fields map[string]any, explicitID string) (int64, error) {
	if v, ok := fields["id"]; ok {
		id, err := parseID(v)
		if err != nil {
			return 0, err
		}
		if id != 0 {
			return id, nil
		}
	}
	return parseID(explicitID)
}

// assignments filters fields through the registry allow-list. Keys that are
// not registered columns never reach SQL.
func assignments(et *schema.EntityType, fields map[string]any) ([]Assignment, error) {
	var values []Assignment
	for _, col := range et.Columns() {
		raw, ok := fields[col.Name()]
		if !ok {
			continue
		}
		v, err := normalizeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("records: %s.%s: %w", et.Name(), col.Name(), shared.ErrInvalidField)
		}
		values = append(values, Assignment{Column: col, Value: v})
	}
	return values, nil
}

func describe(values []Assignment) string {
	if len(values) == 0 {
		return ""
	}
	out := make(map[string]any, len(values))
	for _, v := range values {
		name := v.Column.Name()
		switch {
		case isMaskedColumn(name):
			out[name] = "***"
		case v.Value == nil:
			out[name] = nil
		default:
			out[name] = *v.Value
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}

func errInvalidID(v any) error {
	return fmt.Errorf("records: id %v: %w", v, shared.ErrInvalidID)
}
