package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

// In-memory repositories backing the end-to-end tests. They implement the
// domain interfaces just well enough for single-goroutine request flows.

type memUserRepo struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*users.User
	emails map[string]string
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]*users.User), emails: make(map[string]string)}
}

func (r *memUserRepo) Create(ctx context.Context, params users.CreateParams) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.emails[params.Email]; taken {
		return nil, users.ErrEmailTaken
	}
	r.seq++
	user := &users.User{
		ID:           fmt.Sprintf("user-%d", r.seq),
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		FullName:     params.FullName,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.byID[user.ID] = user
	r.emails[user.Email] = user.ID
	return copyUser(user), nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.emails[email]
	if !ok {
		return nil, users.ErrNotFound
	}
	return copyUser(r.byID[id]), nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return copyUser(user), nil
}

func (r *memUserRepo) Update(ctx context.Context, id string, params users.UpdateParams) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	if params.Email != nil && *params.Email != user.Email {
		if _, taken := r.emails[*params.Email]; taken {
			return nil, users.ErrEmailTaken
		}
		delete(r.emails, user.Email)
		user.Email = *params.Email
		r.emails[user.Email] = id
	}
	if params.FullName != nil {
		user.FullName = *params.FullName
	}
	if params.IsVerified != nil {
		user.IsVerified = *params.IsVerified
	}
	user.UpdatedAt = time.Now()
	return copyUser(user), nil
}

func (r *memUserRepo) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	user.IsActive = false
	return nil
}

func (r *memUserRepo) markVerified(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	user.IsVerified = true
	return nil
}

func (r *memUserRepo) setPassword(id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	user.PasswordHash = hash
	return nil
}

func copyUser(u *users.User) *users.User {
	clone := *u
	return &clone
}

type memTokenRepo struct {
	mu     sync.Mutex
	seq    int
	byHash map[string]*tokens.Token
	users  *memUserRepo
}

func newMemTokenRepo(userRepo *memUserRepo) *memTokenRepo {
	return &memTokenRepo{byHash: make(map[string]*tokens.Token), users: userRepo}
}

func (r *memTokenRepo) Create(ctx context.Context, params tokens.CreateParams) (*tokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	token := &tokens.Token{
		ID:        fmt.Sprintf("token-%d", r.seq),
		UserID:    params.UserID,
		Purpose:   params.Purpose,
		TokenHash: params.TokenHash,
		CreatedAt: time.Now(),
		ExpiresAt: params.ExpiresAt,
	}
	r.byHash[params.TokenHash] = token
	return token, nil
}

func (r *memTokenRepo) DeleteForUser(ctx context.Context, userID string, purpose tokens.Purpose) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for hash, token := range r.byHash {
		if token.UserID == userID && token.Purpose == purpose {
			delete(r.byHash, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memTokenRepo) GetByHash(ctx context.Context, tokenHash string, purpose tokens.Purpose) (*tokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.byHash[tokenHash]
	if !ok || token.Purpose != purpose {
		return nil, tokens.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (r *memTokenRepo) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.byHash {
		if token.ID == id {
			if token.ConsumedAt != nil {
				return tokens.ErrConsumed
			}
			token.ConsumedAt = &at
			return nil
		}
	}
	return tokens.ErrNotFound
}

func (r *memTokenRepo) MarkUserVerified(ctx context.Context, userID string) error {
	return r.users.markVerified(userID)
}

func (r *memTokenRepo) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return r.users.setPassword(userID, passwordHash)
}

func (r *memTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for hash, token := range r.byHash {
		if token.ExpiresAt.Before(before) {
			delete(r.byHash, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memTokenRepo) WithTx(ctx context.Context, fn func(context.Context, tokens.Repository) error) error {
	return fn(ctx, r)
}

// captureQueue records enqueued tokens instead of dispatching jobs.
type captureQueue struct {
	mu                sync.Mutex
	verificationToken string
	resetToken        string
}

func (q *captureQueue) EnqueueVerificationEmail(ctx context.Context, userID, email, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.verificationToken = token
	return nil
}

func (q *captureQueue) EnqueuePasswordResetEmail(ctx context.Context, userID, email, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetToken = token
	return nil
}

func (q *captureQueue) lastVerificationToken() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.verificationToken
}

func (q *captureQueue) lastResetToken() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resetToken
}

type memEventRepo struct {
	mu           sync.Mutex
	seq          int
	byID         map[string]*events.Event
	byULID       map[string]string
	participants map[string]map[string]bool
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{
		byID:         make(map[string]*events.Event),
		byULID:       make(map[string]string),
		participants: make(map[string]map[string]bool),
	}
}

func (r *memEventRepo) Create(ctx context.Context, params events.CreateParams) (*events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	event := &events.Event{
		ID:          fmt.Sprintf("event-%d", r.seq),
		ULID:        params.ULID,
		OwnerID:     params.OwnerID,
		Title:       params.Title,
		Description: params.Description,
		StartsAt:    params.StartsAt,
		EndsAt:      params.EndsAt,
		Capacity:    params.Capacity,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.byID[event.ID] = event
	r.byULID[event.ULID] = event.ID
	r.participants[event.ID] = make(map[string]bool)
	return r.withCount(event), nil
}

func (r *memEventRepo) GetByULID(ctx context.Context, ulid string) (*events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byULID[ulid]
	if !ok {
		return nil, events.ErrNotFound
	}
	return r.withCount(r.byID[id]), nil
}

func (r *memEventRepo) GetByULIDForUpdate(ctx context.Context, ulid string) (*events.Event, error) {
	return r.GetByULID(ctx, ulid)
}

func (r *memEventRepo) List(ctx context.Context, filters events.Filters, pagination events.Pagination) (events.ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	matched := make([]events.Event, 0)
	for _, event := range r.byID {
		if !filters.IncludePast && event.Ended(now) {
			continue
		}
		if filters.OwnerID != "" && event.OwnerID != filters.OwnerID {
			continue
		}
		if filters.Joined != "" && !r.participants[event.ID][filters.Joined] {
			continue
		}
		if filters.From != nil && event.StartsAt.Before(*filters.From) {
			continue
		}
		if filters.Until != nil && event.StartsAt.After(*filters.Until) {
			continue
		}
		if filters.Query != "" && !strings.Contains(strings.ToLower(event.Title), strings.ToLower(filters.Query)) {
			continue
		}
		if pagination.After != "" && event.ULID <= pagination.After {
			continue
		}
		matched = append(matched, *r.withCount(event))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ULID < matched[j].ULID })

	result := events.ListResult{}
	limit := pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		result.Events = matched[:limit]
		result.NextCursor = matched[limit-1].ULID
	} else {
		result.Events = matched
	}
	return result, nil
}

func (r *memEventRepo) Update(ctx context.Context, id string, params events.UpdateParams) (*events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.byID[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	if params.Title != nil {
		event.Title = *params.Title
	}
	if params.Description != nil {
		event.Description = *params.Description
	}
	if params.StartsAt != nil {
		event.StartsAt = *params.StartsAt
	}
	if params.EndsAt != nil {
		event.EndsAt = *params.EndsAt
	}
	if params.ClearCap {
		event.Capacity = nil
	} else if params.Capacity != nil {
		event.Capacity = params.Capacity
	}
	event.UpdatedAt = time.Now()
	return r.withCount(event), nil
}

func (r *memEventRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.byID[id]
	if !ok {
		return events.ErrNotFound
	}
	delete(r.byULID, event.ULID)
	delete(r.byID, id)
	delete(r.participants, id)
	return nil
}

func (r *memEventRepo) CountParticipants(ctx context.Context, eventID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants[eventID]), nil
}

func (r *memEventRepo) IsParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[eventID][userID], nil
}

func (r *memEventRepo) InsertParticipation(ctx context.Context, eventID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.participants[eventID]
	if !ok {
		return events.ErrNotFound
	}
	if set[userID] {
		return events.ErrAlreadyJoined
	}
	set[userID] = true
	return nil
}

func (r *memEventRepo) DeleteParticipation(ctx context.Context, eventID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.participants[eventID]
	if !ok || !set[userID] {
		return false, nil
	}
	delete(set, userID)
	return true, nil
}

func (r *memEventRepo) WithTx(ctx context.Context, fn func(context.Context, events.Repository) error) error {
	return fn(ctx, r)
}

func (r *memEventRepo) withCount(event *events.Event) *events.Event {
	clone := *event
	clone.ParticipantsCount = len(r.participants[event.ID])
	return &clone
}
