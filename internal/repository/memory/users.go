package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type userRepo struct {
	s *Store
}

func (r *userRepo) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	defer r.s.lock(ctx)()

	user.Email = strings.ToLower(user.Email)
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return nil, fmt.Errorf("%w: email %q", repository.ErrDuplicateEntry, user.Email)
		}
	}
	r.s.seq.users++
	user.ID = r.s.seq.users
	user.CreatedAt = r.s.now()
	user.UpdatedAt = user.CreatedAt
	r.s.users[user.ID] = *user
	return user, nil
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	defer r.s.lock(ctx)()

	email = strings.ToLower(email)
	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) FindByID(ctx context.Context, id int) (*domain.User, error) {
	defer r.s.lock(ctx)()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}
