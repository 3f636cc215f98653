package stories

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// RepositoryPort defines data access methods for stories.
type RepositoryPort interface {
	List(ctx context.Context, scope rbac.OwnerFilter, page shared.Pagination) ([]Story, int, error)
	Get(ctx context.Context, id int64) (Story, error)
	Create(ctx context.Context, authorID int64, in CreateInput) (Story, error)
	Delete(ctx context.Context, id int64) error
}

// Service applies ownership rules to story operations.
type Service struct {
	repo    RepositoryPort
	gate    *rbac.Gate
	auditor shared.Auditor
	logger  *slog.Logger
}

// NewService builds Service instance. auditor may be nil.
func NewService(repo RepositoryPort, gate *rbac.Gate, auditor shared.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, gate: gate, auditor: auditor, logger: logger}
}

// List returns the stories the caller may view.
func (s *Service) List(ctx context.Context, page shared.Pagination) ([]Story, shared.Pagination, error) {
	scope, err := s.gate.Scope(ctx, rbac.ResourceStory, rbac.ActionView)
	if err != nil {
		return nil, page, err
	}
	stories, total, err := s.repo.List(ctx, scope, page)
	if err != nil {
		return nil, page, err
	}
	if stories == nil {
		stories = []Story{}
	}
	return stories, page.WithTotal(total), nil
}

// Create stores a story authored by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (Story, error) {
	var story Story
	req := rbac.RequireAny(
		rbac.Perm(rbac.ResourceStory, rbac.ActionCreate, rbac.ScopeOwn),
		rbac.Perm(rbac.ResourceStory, rbac.ActionCreate, rbac.ScopeAll),
	)
	err := s.gate.Guard(ctx, req, func(ctx context.Context) error {
		var err error
		story, err = s.repo.Create(ctx, rbac.PrincipalFromContext(ctx).UserID, in)
		return err
	})
	return story, err
}

// Delete removes a story. Holders of story:delete:own may only remove their
// own stories; removals by anyone else are audited.
func (s *Service) Delete(ctx context.Context, id int64) error {
	scope, err := s.gate.Scope(ctx, rbac.ResourceStory, rbac.ActionDelete)
	if err != nil {
		return err
	}
	story, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !scope.Permits(story.AuthorID) {
		return &rbac.ForbiddenError{Clause: "story belongs to another author"}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if story.AuthorID != scope.OwnerID && s.auditor != nil {
		entry := shared.AuditLog{
			ActorID:  scope.OwnerID,
			Action:   "story.delete",
			Entity:   "story",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"author_id": story.AuthorID, "title": story.Title},
		}
		if err := s.auditor.Record(ctx, entry); err != nil {
			s.logger.Warn("audit story deletion", slog.Any("error", err))
		}
	}
	return nil
}
