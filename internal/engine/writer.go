package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"rocket-nested/internal/instrument"
	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

// Writer persists records together with their nested relations, one
// transaction per call.
type Writer struct {
	store     *store.Store
	registry  *metadata.Registry
	validator Validator
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithValidator replaces the default RuleValidator.
func WithValidator(v Validator) WriterOption {
	return func(w *Writer) { w.validator = v }
}

func NewWriter(s *store.Store, reg *metadata.Registry, opts ...WriterOption) *Writer {
	w := &Writer{store: s, registry: reg, validator: NewRuleValidator(reg)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SaveAll writes rec and the nested tree in input atomically. rec is
// inserted when it has no ID and updated otherwise. On success rec.ID and
// rec.Fields reflect the stored row; on failure rec is left as it was except
// for rec.Errors.
func (w *Writer) SaveAll(ctx context.Context, rec *Record, input map[string]any) error {
	return w.write(ctx, rec, input, false)
}

// CreateAll is SaveAll with every record in the tree inserted as new,
// except items marked _delete. Bare pivot mappings and id lists still link
// existing targets.
func (w *Writer) CreateAll(ctx context.Context, rec *Record, input map[string]any) error {
	return w.write(ctx, rec, input, true)
}

// Save is SaveAll reporting success as a bool. Failure details are on rec.Errors.
func (w *Writer) Save(ctx context.Context, rec *Record, input map[string]any) bool {
	return w.SaveAll(ctx, rec, input) == nil
}

// Create is CreateAll reporting success as a bool. Failure details are on rec.Errors.
func (w *Writer) Create(ctx context.Context, rec *Record, input map[string]any) bool {
	return w.CreateAll(ctx, rec, input) == nil
}

// Find loads a stored record by primary key.
func (w *Writer) Find(ctx context.Context, entityName string, id any) (*Record, error) {
	entity := w.registry.GetEntity(entityName)
	if entity == nil {
		return nil, UnknownEntityError(entityName)
	}
	row, err := NewRepository(w.store.DB, w.store.Dialect, w.registry).FindByPK(ctx, entity, id)
	if err != nil {
		if isNotFound(err) {
			return nil, NotFoundError(entityName, id)
		}
		return nil, fmt.Errorf("find %s %v: %w", entityName, id, err)
	}
	return &Record{Entity: entityName, ID: row[entity.PrimaryKey.Field], Fields: row}, nil
}

func (w *Writer) write(ctx context.Context, rec *Record, input map[string]any, createAll bool) (err error) {
	inst := instrument.GetInstrumenter(ctx)
	ctx, span := inst.StartSpan(ctx, "engine", "writer", "nested_write")
	defer span.End()
	span.SetMetadata("create_all", createAll)
	defer func() {
		if err != nil {
			span.SetStatus("error")
			rec.Errors = errorDetails(err)
		} else {
			span.SetStatus("ok")
		}
	}()

	rec.Errors = nil
	entity := w.registry.GetEntity(rec.Entity)
	if entity == nil {
		return UnknownEntityError(rec.Entity)
	}
	span.SetEntity(entity.Name, fmt.Sprintf("%v", valueOrEmpty(rec.ID)))

	if truthy(input[DirectiveDelete]) {
		return ValidationError([]ErrorDetail{{Field: DirectiveDelete, Rule: "unsupported_directive", Message: "_delete is not allowed on the root record"}})
	}
	forceCreate := createAll || truthy(input[DirectiveCreate])

	tx, err := w.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tw := &treeWriter{
		reg:       w.registry,
		repo:      NewRepository(tx, w.store.Dialect, w.registry),
		validator: w.validator,
		createAll: createAll,
	}
	root := &Record{Entity: rec.Entity, ID: rec.ID}

	ok, err := tw.persistTree(ctx, root, input, forceCreate, "")
	if err != nil {
		return classifyWriteError(entity.Name, rec.ID, err)
	}
	if !ok {
		return ValidationError(tw.errs)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	row, err := NewRepository(w.store.DB, w.store.Dialect, w.registry).FindByPK(ctx, entity, root.ID)
	if err != nil {
		return fmt.Errorf("reload %s %v: %w", entity.Name, root.ID, err)
	}
	action := "update"
	if forceCreate || rec.ID == nil {
		action = "create"
	}
	rec.ID = row[entity.PrimaryKey.Field]
	rec.Fields = row

	span.SetEntity(entity.Name, fmt.Sprintf("%v", rec.ID))
	inst.EmitBusinessEvent(ctx, action, entity.Name, fmt.Sprintf("%v", rec.ID), nil)
	return nil
}

// classifyWriteError maps errors from the tree walk onto AppErrors.
func classifyWriteError(entity string, id any, err error) error {
	switch {
	case errors.Is(err, ErrAmbiguousMatch):
		return AmbiguousMatchError(err)
	case errors.Is(err, store.ErrUniqueViolation):
		msg := "A record with this value already exists"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			msg = pgErr.Detail
		}
		return ConflictError(msg, err)
	case errors.Is(err, store.ErrNotFound) && id != nil:
		e := NotFoundError(entity, id)
		e.Err = err
		return e
	}
	return fmt.Errorf("write %s: %w", entity, err)
}

// errorDetails flattens any write error into the details stored on a record.
func errorDetails(err error) []ErrorDetail {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if len(appErr.Details) > 0 {
			return appErr.Details
		}
		return []ErrorDetail{{Rule: appErr.Code, Message: appErr.Message}}
	}
	return []ErrorDetail{{Rule: "storage", Message: err.Error()}}
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

// Include attaches the named relations of a stored record to rec.Fields.
func (w *Writer) Include(ctx context.Context, rec *Record, names []string) error {
	entity := w.registry.GetEntity(rec.Entity)
	if entity == nil {
		return UnknownEntityError(rec.Entity)
	}
	repo := NewRepository(w.store.DB, w.store.Dialect, w.registry)
	return LoadIncludes(ctx, repo, w.registry, entity, rec.Fields, names)
}
