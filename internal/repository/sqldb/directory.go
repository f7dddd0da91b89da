package sqldb

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

type userDirectory struct {
	*BaseRepository
}

// NewUserDirectory reads the users table, which is owned by the auth service.
func NewUserDirectory(base *BaseRepository) repository.UserDirectory {
	return &userDirectory{BaseRepository: base}
}

func (d *userDirectory) ListIDsByRole(ctx context.Context, role model.Role) ([]string, error) {
	query, args, err := d.builder().
		Select("id").
		From("users").
		Where(sq.Eq{"role": role}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}

	ids := []string{}
	if err := sqlx.SelectContext(ctx, d.ext(ctx), &ids, query, args...); err != nil {
		return nil, errors.Persistence("list users by role", err)
	}
	return ids, nil
}

type cachedDirectory struct {
	next  repository.UserDirectory
	cache *cache.Cache
}

// NewCachedDirectory memoizes role lookups for ttl.
func NewCachedDirectory(next repository.UserDirectory, ttl time.Duration) repository.UserDirectory {
	return &cachedDirectory{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *cachedDirectory) ListIDsByRole(ctx context.Context, role model.Role) ([]string, error) {
	if v, ok := d.cache.Get(string(role)); ok {
		return v.([]string), nil
	}
	ids, err := d.next.ListIDsByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(string(role), ids)
	return ids, nil
}
