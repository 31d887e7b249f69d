package engine

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
	"taskpulse/internal/repo"
)

// UserLookup is the engine's view of the user directory. Missing users are
// reported as repo.ErrNotFound.
type UserLookup interface {
	User(ctx context.Context, id string) (domain.User, error)
}

const (
	defaultDirectorySize = 1024
	defaultDirectoryTTL  = time.Minute
)

// Directory is a UserLookup over the users table with a short-lived cache.
type Directory struct {
	repo  repo.Repo
	cache *expirable.LRU[string, domain.User]
}

func NewDirectory(r repo.Repo, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = defaultDirectorySize
	}
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	return &Directory{repo: r, cache: expirable.NewLRU[string, domain.User](size, nil, ttl)}
}

func (d *Directory) User(ctx context.Context, id string) (domain.User, error) {
	if u, ok := d.cache.Get(id); ok {
		return u, nil
	}
	u, err := d.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	d.cache.Add(id, u)
	return u, nil
}

// Save writes the user and drops any cached copy.
func (d *Directory) Save(ctx context.Context, u domain.User) error {
	if err := d.repo.UpsertUser(ctx, u); err != nil {
		return err
	}
	d.cache.Remove(u.ID)
	return nil
}

func (d *Directory) List(ctx context.Context, departmentID string) ([]domain.User, error) {
	return d.repo.ListUsers(ctx, departmentID)
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
