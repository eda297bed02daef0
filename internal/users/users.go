// Package users tracks who talks to the bot and who may run admin commands.
package users

import (
	"context"

	"go.uber.org/zap"

	"eventbot/internal/storage"
)

type Repository interface {
	UpsertUser(ctx context.Context, u storage.User) error
	ListUsers(ctx context.Context) ([]storage.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	SetAdmin(ctx context.Context, userID int64, admin bool) error
}

type Service struct {
	repo   Repository
	admins map[int64]struct{}
	log    *zap.SugaredLogger
}

// NewWithRepo marks the initial admins (from env) in repo and keeps them as
// a fallback for when the repository is unavailable.
func NewWithRepo(ctx context.Context, repo Repository, initialAdmins []int64, log *zap.SugaredLogger) (*Service, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{repo: repo, admins: make(map[int64]struct{}), log: log}
	for _, id := range initialAdmins {
		s.admins[id] = struct{}{}
		if repo != nil {
			if err := repo.SetAdmin(ctx, id, true); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Service) IsAdmin(ctx context.Context, userID int64) bool {
	if _, ok := s.admins[userID]; ok {
		return true
	}
	if s.repo == nil {
		return false
	}
	admin, err := s.repo.IsAdmin(ctx, userID)
	if err != nil {
		s.log.Warnf("admin lookup for %d failed: %v", userID, err)
		return false
	}
	return admin
}

// Admins lists the ids known to be admins, env-configured ones first.
func (s *Service) Admins(ctx context.Context) []int64 {
	seen := make(map[int64]bool, len(s.admins))
	var out []int64
	for id := range s.admins {
		seen[id] = true
		out = append(out, id)
	}
	if s.repo == nil {
		return out
	}
	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		s.log.Warnf("list users failed: %v", err)
		return out
	}
	for _, u := range list {
		if u.IsAdmin && !seen[u.ID] {
			out = append(out, u.ID)
		}
	}
	return out
}

func (s *Service) List(ctx context.Context) ([]storage.User, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) Promote(ctx context.Context, userID int64) error {
	if s.repo == nil {
		s.admins[userID] = struct{}{}
		return nil
	}
	return s.repo.SetAdmin(ctx, userID, true)
}
