// Package changeset executes submitted change sets against a domain service.
package changeset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Observer receives the outcome of every submit.
type Observer interface {
	OnSubmit(ctx context.Context, event SubmitEvent)
}

// SubmitEvent describes a completed submit.
type SubmitEvent struct {
	Service  string                   `json:"service"`
	Entries  int                      `json:"entries"`
	States   map[model.EntryState]int `json:"states"`
	HasError bool                     `json:"has_error"`
	Duration time.Duration            `json:"duration"`
	Error    string                   `json:"error,omitempty"`
}

// Reconciler processes change sets. A single Reconciler may serve
// concurrent submits; each submit runs its entries sequentially.
type Reconciler struct {
	catalog        *catalog.Catalog
	validate       *validator.Validate
	detector       ConflictDetector
	persister      Persister
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
	observers      []Observer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConflictDetector checks updates and deletes against stored state.
func WithConflictDetector(d ConflictDetector) Option {
	return func(r *Reconciler) { r.detector = d }
}

// WithPersister commits change sets that completed without errors.
func WithPersister(p Persister) Option {
	return func(r *Reconciler) { r.persister = p }
}

// WithIdempotencyStore enables deduplication of keyed submits.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(r *Reconciler) {
		r.idempotency = store
		if ttl > 0 {
			r.idempotencyTTL = ttl
		}
	}
}

// WithValidator replaces the rule validator, for example to register custom
// validation tags.
func WithValidator(v *validator.Validate) Option {
	return func(r *Reconciler) { r.validate = v }
}

// WithLogger sets the logger used for faulted entries.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithObserver adds a submit observer.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, o) }
}

// New creates a Reconciler that describes services through cat.
func New(cat *catalog.Catalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog:        cat,
		validate:       NewValidator(),
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// step is the resolved work for one entry.
type step struct {
	entry   *model.ChangeSetEntry
	typ     *typesys.Type
	op      *catalog.Entry
	actions []*catalog.Entry
}

// Submit runs every entry of cs against service. Entry-level failures are
// recorded on the entries and do not abort the submit; the returned error
// reports failures that prevented processing altogether, fatal errors raised
// by an operation, and cancellation of ctx.
func (r *Reconciler) Submit(ctx context.Context, service any, cs *model.ChangeSet) (err error) {
	desc, err := r.catalog.Describe(service)
	if err != nil {
		return err
	}

	start := time.Now()
	ctx, span := observability.StartSubmitSpan(ctx, desc.Name(), len(cs.Entries()))
	defer func() {
		observability.EndSpanWithError(span, err)
		r.notify(ctx, desc.Name(), cs, time.Since(start), err)
	}()

	ctx = model.WithChangeSet(ctx, cs)

	steps, err := r.plan(ctx, desc, cs)
	if err != nil {
		return err
	}

	for _, s := range steps {
		s.entry.State = model.EntryValidating
		r.validateEntry(ctx, s)
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.entry.HasError() {
			continue
		}
		s.entry.State = model.EntryInvoking
		if err := r.invokeEntry(ctx, service, s); err != nil {
			return err
		}
	}

	for _, s := range steps {
		if s.entry.HasError() {
			continue
		}
		for i, m := range s.actions {
			if err := ctx.Err(); err != nil {
				return err
			}
			args := append([]any{s.entry.Entity}, s.entry.EntityActions[i].Args...)
			if err := r.record(ctx, s.entry, r.call(ctx, service, m, args)); err != nil {
				return err
			}
			if s.entry.HasError() {
				break
			}
		}
	}

	for _, s := range steps {
		if !s.entry.State.Terminal() {
			s.entry.State = model.EntrySucceeded
		}
	}

	if cs.HasError() {
		return nil
	}
	cs.ApplyAssociations()
	if r.persister != nil {
		if err := r.persister.Persist(ctx, cs); err != nil {
			return fmt.Errorf("persist change set: %w", err)
		}
	}
	return nil
}

// plan resolves the operation of every entry and authorizes the caller for
// all of them before anything runs.
func (r *Reconciler) plan(ctx context.Context, desc *catalog.Description, cs *model.ChangeSet) ([]*step, error) {
	rctx := model.RequestContextFrom(ctx)
	steps := make([]*step, 0, len(cs.Entries()))

	for _, e := range cs.Entries() {
		t, ok := EntityType(desc, e.Entity)
		if !ok {
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: %T is not an entity type of %s", e.ID, e.Entity, desc.Name()))
		}
		s := &step{entry: e, typ: t}

		if needsOperation(e) {
			op, ok := desc.SubmitMethod(t, e.Operation)
			switch {
			case ok:
				s.op = op
			case e.ParentOperation == nil:
				return nil, model.NewOperationNotSupportedError(
					fmt.Sprintf("%s of %s is not supported by %s", e.Operation, t.Name, desc.Name()))
			}
		}

		for _, a := range e.EntityActions {
			m, ok := desc.CustomMethod(t, a.Name)
			if !ok {
				return nil, model.NewOperationNotSupportedError(
					fmt.Sprintf("entity action %s is not supported for %s", a.Name, t.Name))
			}
			s.actions = append(s.actions, m)
		}

		for _, op := range append([]*catalog.Entry{s.op}, s.actions...) {
			if op == nil {
				continue
			}
			if err := op.Authorize(rctx); err != nil {
				return nil, err
			}
		}
		e.State = model.EntryPending
		steps = append(steps, s)
	}
	return steps, nil
}

// needsOperation is false for an update that only carries entity actions.
func needsOperation(e *model.ChangeSetEntry) bool {
	return e.Operation != model.OperationUpdate || e.HasMemberChanges || len(e.EntityActions) == 0
}

func (r *Reconciler) validateEntry(ctx context.Context, s *step) {
	e := s.entry
	if e.Operation == model.OperationInsert || e.Operation == model.OperationUpdate {
		if err := r.validate.StructCtx(ctx, e.Entity); err != nil {
			for _, res := range validationResults(err) {
				e.AddValidationError(res)
			}
		}
	}
	if s.op != nil && s.op.RequiresValidation() {
		for _, res := range r.validateArgs(ctx, s.op, []any{e.Entity}) {
			e.AddValidationError(res)
		}
	}
	for i, m := range s.actions {
		args := append([]any{e.Entity}, e.EntityActions[i].Args...)
		for _, res := range r.validateArgs(ctx, m, args) {
			e.AddValidationError(res)
		}
	}
	if e.HasError() {
		e.State = model.EntryValidationFailed
	}
}

// ValidateArguments applies the declared rules of m to the arguments of a
// query or invoke call.
func (r *Reconciler) ValidateArguments(ctx context.Context, m *catalog.Entry, args []any) []model.ValidationResult {
	return r.validateArgs(ctx, m, args)
}

// validateArgs applies parameter rules, struct rules of complex parameters
// and method-level validators. The first argument of an insert, update,
// delete or entity action is the entity itself, whose struct rules have
// already been applied; an entity action skips it entirely.
func (r *Reconciler) validateArgs(ctx context.Context, m *catalog.Entry, args []any) []model.ValidationResult {
	var out []model.ValidationResult
	for i, p := range m.Parameters {
		if i >= len(args) {
			break
		}
		entity := i == 0 && m.Operation != model.OperationQuery && m.Operation != model.OperationInvoke
		if entity && m.Operation == model.OperationCustom {
			continue
		}
		if p.Rule != "" {
			if err := r.validate.VarCtx(ctx, args[i], p.Rule); err != nil {
				out = append(out, paramResults(p.Name, err)...)
			}
		}
		if !entity && isStructValue(args[i]) {
			if err := r.validate.StructCtx(ctx, args[i]); err != nil {
				out = append(out, validationResults(err)...)
			}
		}
	}
	for _, v := range m.MethodValidators() {
		if err := v.Func(args); err != nil {
			out = append(out, resultsOf(err)...)
		}
	}
	return out
}

func (r *Reconciler) invokeEntry(ctx context.Context, service any, s *step) error {
	e := s.entry
	if e.Operation == model.OperationUpdate || e.Operation == model.OperationDelete {
		if err := r.record(ctx, e, r.detectConflict(ctx, s)); err != nil || e.HasError() {
			return err
		}
	}
	if s.op == nil {
		return nil
	}

	ctx, span := observability.StartEntrySpan(ctx, s.op.Name, e.ID)
	err := r.record(ctx, e, r.call(ctx, service, s.op, []any{e.Entity}))
	observability.EndEntrySpan(span, e.State, err)
	return err
}

func (r *Reconciler) detectConflict(ctx context.Context, s *step) error {
	if r.detector == nil {
		return nil
	}
	original := s.entry.OriginalEntity()
	if original == nil {
		original = s.entry.Entity
	}
	return r.detector.DetectConflict(ctx, s.typ, original)
}

// call invokes op, converting a panic into an error unless it carries a
// fatal error, which is re-raised.
func (r *Reconciler) call(ctx context.Context, service any, op *catalog.Entry, args []any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if model.IsFatal(p) {
				panic(p)
			}
			err = fmt.Errorf("%s panicked: %v", op.Name, p)
		}
	}()
	_, _, err = op.Invoke(ctx, service, args)
	return err
}

// record maps an operation error onto the entry. It returns the error only
// when it must abort the whole submit.
func (r *Reconciler) record(ctx context.Context, e *model.ChangeSetEntry, err error) error {
	if err == nil {
		return nil
	}

	var (
		fatal    *model.FatalError
		invalid  *model.ValidationError
		conflict *model.ConflictError
	)
	switch {
	case errors.As(err, &fatal):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &invalid):
		for _, res := range invalid.Results {
			e.AddValidationError(res)
		}
		if len(invalid.Results) == 0 {
			e.AddValidationError(model.ValidationResult{Message: err.Error()})
		}
		e.State = model.EntryValidationFailed
	case errors.As(err, &conflict):
		e.StoreEntity = conflict.StoreEntity
		e.ConflictMembers = conflict.Members
		if len(e.ConflictMembers) == 0 {
			e.ConflictMembers = []string{"*"}
		}
		e.State = model.EntryConflictDetected
	case errors.Is(err, model.ErrDeleteConflict):
		e.IsDeleteConflict = true
		e.State = model.EntryConflictDetected
	default:
		logger := observability.RequestLogger(ctx, r.logger)
		logger.Error("change set entry faulted",
			zap.Int("entry_id", e.ID),
			zap.String("operation", e.Operation.String()),
			zap.Error(err),
		)
		if ce := logger.Check(zap.DebugLevel, "faulted entity"); ce != nil {
			ce.Write(zap.Int("entry_id", e.ID), zap.Any("entity", observability.RedactEntity(e.Entity)))
		}
		e.AddValidationError(model.ValidationResult{
			Message:   "An unexpected error occurred",
			ErrorCode: model.ErrInternalError,
		})
		e.State = model.EntryFaulted
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, service string, cs *model.ChangeSet, d time.Duration, err error) {
	if len(r.observers) == 0 {
		return
	}
	ev := SubmitEvent{
		Service:  service,
		Entries:  len(cs.Entries()),
		States:   make(map[model.EntryState]int),
		HasError: cs.HasError(),
		Duration: d,
	}
	for _, e := range cs.Entries() {
		ev.States[e.State]++
	}
	if err != nil {
		ev.Error = err.Error()
	}
	for _, o := range r.observers {
		o.OnSubmit(ctx, ev)
	}
}

// SubmitWire decodes a wire submit, runs it and encodes the outcome. When
// the request carries an idempotency key and a store is configured, a
// repeated request returns the stored response without running again.
func (r *Reconciler) SubmitWire(ctx context.Context, service any, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	desc, err := r.catalog.Describe(service)
	if err != nil {
		return nil, err
	}

	var key, hash string
	if r.idempotency != nil && req.IdempotencyKey != "" {
		key = FormatIdempotencyKey(model.TenantFrom(ctx), desc.Name(), req.IdempotencyKey)
		hash = hashRequest(req)
		cached, found, err := r.idempotency.Check(ctx, key, hash)
		if err != nil {
			return nil, err
		}
		if found && cached != nil {
			observability.MarkReplayed(ctx)
			return cached, nil
		}
	}

	entries, err := Decode(desc, req.Entries)
	if err != nil {
		return nil, err
	}
	cs, err := Build(desc, entries)
	if err != nil {
		return nil, err
	}
	if err := r.Submit(ctx, service, cs); err != nil {
		return nil, err
	}

	resp := &model.SubmitResponse{
		Entries:  make([]model.WireEntry, 0, len(entries)),
		HasError: cs.HasError(),
	}
	for i, e := range cs.Entries() {
		w, err := e.ToWire(req.Entries[i].TypeName)
		if err != nil {
			return nil, err
		}
		if e.Operation == model.OperationDelete && !e.HasError() {
			w.Entity = nil
		}
		resp.Entries = append(resp.Entries, w)
	}

	if key != "" && !resp.HasError {
		if err := r.idempotency.Store(ctx, key, hash, *resp, r.idempotencyTTL); err != nil {
			r.logger.Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
		}
	}
	return resp, nil
}

func hashRequest(req *model.SubmitRequest) string {
	data, _ := json.Marshal(req.Entries)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func isStructValue(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.IsValid() && rv.Kind() == reflect.Struct
}
