// Package profiles reads and writes user profiles and avatars.
package profiles

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/cache"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/result"
	"github.com/platinummonkey/quill/pkg/store"
)

const maxCachedProfiles = 4096

// Store is the persistence the service needs
type Store interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	UpsertProfile(ctx context.Context, p *store.Profile) error
	SetAvatarURL(ctx context.Context, userID, url string) error
}

// Images stores avatar files
type Images interface {
	Upload(ctx context.Context, bucket media.Bucket, userID, filename, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, bucket media.Bucket, publicURL string) error
}

// Input is the editable part of a profile
type Input struct {
	Nickname string `json:"nickname" validate:"max=50"`
	Bio      string `json:"bio" validate:"max=200"`
}

// Service manages profiles with a short-lived cache keyed by user id
type Service struct {
	store  Store
	images Images
	cache  *cache.TTLCache[*store.Profile]
	tasks  *async.Tasks
	logger *observability.Logger
}

// NewService creates a profile service. images may be nil when object
// storage is not configured; avatar operations then fail.
func NewService(st Store, images Images, ttl time.Duration, tasks *async.Tasks, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tasks == nil {
		tasks = async.NewTasks(logger)
	}
	return &Service{
		store:  st,
		images: images,
		cache:  cache.New[*store.Profile]("profiles", maxCachedProfiles, ttl, metrics),
		tasks:  tasks,
		logger: logger,
	}
}

// ErrStorageDisabled is returned by avatar operations without object storage
var ErrStorageDisabled = errors.New("image storage is not configured")

// Get returns the user's profile
func (s *Service) Get(ctx context.Context, userID string) result.Result[*store.Profile] {
	if p, hit := s.cache.Get(userID); hit {
		return result.Ok(p)
	}
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return result.NotFound[*store.Profile]()
	}
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("failed to fetch profile")
		return result.Failed[*store.Profile](err)
	}
	s.cache.Set(userID, p)
	return result.Ok(p)
}

// Save stores the viewer's own nickname and bio
func (s *Service) Save(ctx context.Context, v access.Viewer, in Input) result.Result[*store.Profile] {
	if !v.Authenticated {
		return result.Denied[*store.Profile](ownerOnly(v))
	}
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Bio = strings.TrimSpace(in.Bio)
	if err := httputil.ValidateStruct(in); err != nil {
		return result.Failed[*store.Profile](err)
	}

	p := &store.Profile{UserID: v.UserID, Nickname: in.Nickname, Bio: in.Bio}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		s.logger.WithError(err).WithField("user_id", v.UserID).Error("failed to save profile")
		return result.Failed[*store.Profile](err)
	}
	s.cache.Set(v.UserID, p)
	return result.Ok(p)
}

// UpdateAvatar uploads a new avatar for the viewer and removes the
// previous file in the background
func (s *Service) UpdateAvatar(ctx context.Context, v access.Viewer, filename, contentType string, body io.Reader) result.Result[string] {
	if !v.Authenticated {
		return result.Denied[string](ownerOnly(v))
	}
	if s.images == nil {
		return result.Failed[string](ErrStorageDisabled)
	}

	previous := ""
	if cur := s.Get(ctx, v.UserID); cur.OK() {
		previous = cur.Value.AvatarURL
	}

	url, err := s.images.Upload(ctx, media.BucketAvatars, v.UserID, filename, contentType, body)
	if err != nil {
		return result.Failed[string](err)
	}
	if err := s.store.SetAvatarURL(ctx, v.UserID, url); err != nil {
		s.logger.WithError(err).WithField("user_id", v.UserID).Error("failed to store avatar url")
		s.deleteLater(ctx, url)
		return result.Failed[string](err)
	}
	s.cache.Delete(v.UserID)

	if previous != "" && previous != url {
		s.deleteLater(ctx, previous)
	}
	return result.Ok(url)
}

// DeleteAvatar clears the viewer's avatar and removes the file
func (s *Service) DeleteAvatar(ctx context.Context, v access.Viewer) result.Result[struct{}] {
	if !v.Authenticated {
		return result.Denied[struct{}](ownerOnly(v))
	}

	cur := s.Get(ctx, v.UserID)
	if cur.Status == result.StatusError {
		return result.Recast[struct{}](cur)
	}
	if err := s.store.SetAvatarURL(ctx, v.UserID, ""); err != nil {
		return result.Failed[struct{}](err)
	}
	s.cache.Delete(v.UserID)

	if cur.OK() && cur.Value.AvatarURL != "" {
		s.deleteLater(ctx, cur.Value.AvatarURL)
	}
	return result.Ok(struct{}{})
}

// Forget drops the cached profile for userID
func (s *Service) Forget(userID string) {
	s.cache.Delete(userID)
}

// deleteLater removes an avatar file without holding up the caller.
// URLs outside our bucket are ignored.
func (s *Service) deleteLater(ctx context.Context, url string) {
	if s.images == nil {
		return
	}
	s.tasks.SafeGo(ctx, 10*time.Second, "delete avatar", func(ctx context.Context) error {
		err := s.images.Delete(ctx, media.BucketAvatars, url)
		if errors.Is(err, media.ErrForeignURL) {
			return nil
		}
		return err
	})
}

func ownerOnly(v access.Viewer) access.Decision {
	return access.Decision{
		Action:      access.ActionEdit,
		Reason:      access.ReasonUnauthenticated,
		CurrentPlan: v.EffectivePlan(),
	}
}
