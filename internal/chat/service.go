// Package chat implements the direct and group messaging engines and the
// notification dispatcher. Every command runs against the caller's session
// store and reports results by emitting events to user rooms.
package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/observability"
	"crm-chat/internal/repositories"
	"crm-chat/internal/telemetry"
)

// Emitter delivers an event to every connection in a user's room. It never blocks.
type Emitter interface {
	EmitToUser(tenantID, userID, event string, data any)
}

// BlobStore holds uploaded chat files and group images, one directory per tenant.
type BlobStore interface {
	Copy(ctx context.Context, tenantID, name string) (string, error)
	Exists(ctx context.Context, tenantID, name string) (bool, error)
	Delete(ctx context.Context, tenantID, name string) error
}

type Service struct {
	emitter Emitter
	files   BlobStore
	audit   *telemetry.AuditEmitter
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAudit(audit *telemetry.AuditEmitter) Option {
	return func(s *Service) { s.audit = audit }
}

func NewService(emitter Emitter, files BlobStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		emitter: emitter,
		files:   files,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(sess *auth.Session, userID, event string, data any) {
	s.emitter.EmitToUser(sess.TenantID(), userID, event, data)
}

func (s *Service) emitAll(sess *auth.Session, userIDs []string, event string, data any) {
	for _, id := range userIDs {
		s.emit(sess, id, event, data)
	}
}

func (s *Service) auditGroup(ctx context.Context, sess *auth.Session, action, groupID, text string) {
	s.audit.Emit(ctx, "info", telemetry.AuditRecord{
		TenantID:  sess.TenantID(),
		UserID:    sess.UserID(),
		RequestID: observability.RequestIDFromContext(ctx),
		Action:    action,
		GroupID:   groupID,
		Text:      text,
	})
}

// requireFile rejects a client-supplied file name that is not an upload of the
// caller's tenant.
func (s *Service) requireFile(ctx context.Context, sess *auth.Session, url string) error {
	if s.files == nil {
		return nil
	}
	ok, err := s.files.Exists(ctx, sess.TenantID(), url)
	if err != nil {
		return domain.Validation("invalid file %q", url)
	}
	if !ok {
		return domain.Validation("file %q was not uploaded", url)
	}
	return nil
}

// releaseFile removes an attachment unless rows other than the held ones still
// reference it. Failures are returned so the caller can abort.
func (s *Service) releaseFile(ctx context.Context, sess *auth.Session, url *string, held int) error {
	if url == nil || *url == "" || s.files == nil {
		return nil
	}
	refs, err := s.fileRefs(ctx, sess, *url)
	if err != nil {
		return err
	}
	if refs > held {
		return nil
	}
	return errors.Wrap(s.files.Delete(ctx, sess.TenantID(), *url), "delete file")
}

// fileRefs counts message and group rows of the tenant that reference url.
func (s *Service) fileRefs(ctx context.Context, sess *auth.Session, url string) (int, error) {
	store := sess.Store()
	direct, err := store.Messages.CountFileRefs(ctx, url)
	if err != nil {
		return 0, errors.Wrap(err, "count direct file refs")
	}
	group, err := store.GroupMessages.CountFileRefs(ctx, url)
	if err != nil {
		return 0, errors.Wrap(err, "count group file refs")
	}
	images, err := store.Groups.CountImageRefs(ctx, url)
	if err != nil {
		return 0, errors.Wrap(err, "count group image refs")
	}
	return direct + group + images, nil
}

// storeErr lifts repository errors into the domain taxonomy.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMessageNotFound):
		return domain.NotFound("%s: message not found", op)
	case errors.Is(err, repositories.ErrGroupNotFound):
		return domain.NotFound("%s: group not found", op)
	case errors.Is(err, repositories.ErrUserNotFound):
		return domain.NotFound("%s: user not found", op)
	default:
		return domain.Persistence(op, err)
	}
}

func required(field, value string) error {
	if value == "" {
		return domain.Validation("%s is required", field)
	}
	return nil
}

func zapFields(sess *auth.Session, err error) []zap.Field {
	return []zap.Field{
		zap.String("tenant_id", sess.TenantID()),
		zap.String("user_id", sess.UserID()),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	}
}
