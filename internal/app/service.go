package app

import (
	"context"
	"strings"
	"time"

	"modrequests/api/internal/notify"
	"modrequests/api/internal/rbac"
	"modrequests/api/internal/store"
)

// RequestStore is the persistence contract. Each mutation is atomic on a
// single record.
type RequestStore interface {
	Create(context.Context, store.Draft) (store.Request, error)
	GetAll(context.Context) ([]store.Request, error)
	GetByID(context.Context, string) (store.Request, error)
	UpdateMetadata(context.Context, string, store.Patch) error
	Delete(context.Context, string) error
	AppendComment(context.Context, string, store.Comment) error
	RemoveCommentAt(context.Context, string, int) error
	Ping(ctx context.Context) error
}

// Notifier must return without waiting for delivery.
type Notifier interface {
	Notify(notify.Notification)
}

type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type CreateRequestInput struct {
	GameName      *string `json:"gameName"`
	LatestVersion *string `json:"latestVersion"`
	Details       *string `json:"details"`
	IconURL       *string `json:"iconUrl"`
	CreatedBy     *string `json:"createdBy"`
}

type EditRequestInput struct {
	CurrentUserID string  `json:"currentUserId"`
	GameName      *string `json:"gameName"`
	LatestVersion *string `json:"latestVersion"`
	Details       *string `json:"details"`
	IconURL       *string `json:"iconUrl"`
}

type AddCommentInput struct {
	CurrentUserID string `json:"currentUserId"`
	Comment       string `json:"comment"`
}

type ActorInput struct {
	CurrentUserID string `json:"currentUserId"`
}

type Options struct {
	Policy   *rbac.Policy
	Notifier Notifier
	// Locker serializes mutations of one record. Nil disables locking.
	Locker Locker
	Now    func() time.Time
}

type Service struct {
	store    RequestStore
	policy   *rbac.Policy
	notifier Notifier
	locker   Locker
	now      func() time.Time
}

type noopNotifier struct{}

func (noopNotifier) Notify(notify.Notification) {}

func New(requests RequestStore, opts Options) *Service {
	if opts.Policy == nil {
		opts.Policy = rbac.NewPolicy(rbac.Roles{})
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    requests,
		policy:   opts.Policy,
		notifier: opts.Notifier,
		locker:   opts.Locker,
		now:      opts.Now,
	}
}

func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (store.Request, error) {
	gameName := valueOf(input.GameName)
	if strings.TrimSpace(gameName) == "" {
		return store.Request{}, validationError("gameName is required")
	}
	createdBy := store.DefaultCreator
	if input.CreatedBy != nil {
		createdBy = strings.TrimSpace(*input.CreatedBy)
		if createdBy == "" {
			return store.Request{}, validationError("createdBy must not be blank")
		}
	}
	if decision := s.policy.Decide(createdBy, rbac.Subject{}, rbac.ActionCreate); !decision.Allowed {
		return store.Request{}, forbiddenError(decision.Reason)
	}

	item, err := s.store.Create(ctx, store.Draft{
		GameName:      gameName,
		LatestVersion: valueOf(input.LatestVersion),
		Details:       valueOf(input.Details),
		IconURL:       valueOf(input.IconURL),
		CreatedBy:     createdBy,
	})
	if err != nil {
		return store.Request{}, storeError(err)
	}

	s.notifier.Notify(notify.Notification{
		Event:   notify.EventRequestCreated,
		Request: item,
		Actor:   createdBy,
		Subject: item.CreatedBy,
	})
	return item, nil
}

// ListRequests returns every request, most recent activity first.
func (s *Service) ListRequests(ctx context.Context) ([]store.Request, error) {
	items, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return items, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (store.Request, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return store.Request{}, storeError(err)
	}
	return item, nil
}

// EditRequest merges the provided fields into the request. Only the creator
// may edit; absent fields keep their stored value.
func (s *Service) EditRequest(ctx context.Context, id string, input EditRequestInput) error {
	actor, err := requireActor(input.CurrentUserID)
	if err != nil {
		return err
	}
	if input.GameName != nil && strings.TrimSpace(*input.GameName) == "" {
		return validationError("gameName must not be blank")
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if decision := s.policy.Decide(actor, rbac.Subject{Creator: item.CreatedBy}, rbac.ActionEdit); !decision.Allowed {
		return forbiddenError(decision.Reason)
	}

	patch := store.Patch{
		GameName:      input.GameName,
		LatestVersion: input.LatestVersion,
		Details:       input.Details,
		IconURL:       input.IconURL,
	}
	if err := s.store.UpdateMetadata(ctx, id, patch); err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Service) DeleteRequest(ctx context.Context, id string, input ActorInput) error {
	actor, err := requireActor(input.CurrentUserID)
	if err != nil {
		return err
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if decision := s.policy.Decide(actor, rbac.Subject{Creator: item.CreatedBy}, rbac.ActionDelete); !decision.Allowed {
		return forbiddenError(decision.Reason)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return storeError(err)
	}

	s.notifier.Notify(notify.Notification{
		Event:   notify.EventRequestDeleted,
		Request: item,
		Actor:   actor,
		Subject: item.CreatedBy,
	})
	return nil
}

func (s *Service) AddComment(ctx context.Context, id string, input AddCommentInput) error {
	actor, err := requireActor(input.CurrentUserID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(input.Comment) == "" {
		return validationError("comment is required")
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if decision := s.policy.Decide(actor, rbac.Subject{Creator: item.CreatedBy}, rbac.ActionComment); !decision.Allowed {
		return forbiddenError(decision.Reason)
	}

	comment := store.Comment{UserID: actor, Comment: input.Comment, Timestamp: s.now().UTC()}
	if err := s.store.AppendComment(ctx, id, comment); err != nil {
		return storeError(err)
	}

	s.notifier.Notify(notify.Notification{
		Event:   notify.EventCommentAdded,
		Request: item,
		Actor:   actor,
		Subject: item.CreatedBy,
		Extra:   input.Comment,
	})
	return nil
}

// DeleteComment removes the comment at index. Authorization is checked
// against that comment's author.
func (s *Service) DeleteComment(ctx context.Context, id string, index int, input ActorInput) error {
	actor, err := requireActor(input.CurrentUserID)
	if err != nil {
		return err
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	comment, err := item.Comments.At(index)
	if err != nil {
		return outOfRangeError(index, item.Comments.Len())
	}
	subject := rbac.Subject{Creator: item.CreatedBy, CommentAuthor: comment.UserID}
	if decision := s.policy.Decide(actor, subject, rbac.ActionDeleteComment); !decision.Allowed {
		return forbiddenError(decision.Reason)
	}

	if err := s.store.RemoveCommentAt(ctx, id, index); err != nil {
		return storeError(err)
	}

	s.notifier.Notify(notify.Notification{
		Event:   notify.EventCommentDeleted,
		Request: item,
		Actor:   actor,
		Subject: comment.UserID,
		Extra:   comment.Comment,
	})
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingLock probes the lock backend. ok is false when the backend has nothing
// to probe.
func (s *Service) PingLock(ctx context.Context) (ok bool, err error) {
	p, supported := s.locker.(pinger)
	if !supported {
		return false, nil
	}
	return true, p.Ping(ctx)
}

func (s *Service) acquire(ctx context.Context, id string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Lock(ctx, "request:"+id)
	if err != nil {
		return nil, storeError(err)
	}
	return release, nil
}

func requireActor(id string) (string, error) {
	actor := strings.TrimSpace(id)
	if actor == "" {
		return "", validationError("currentUserId is required")
	}
	return actor, nil
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
