// Package origintest provides in-memory origin services for tests. Every
// method call is counted so tests can assert how often the origin was hit.
package origintest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/origin"
)

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (c *counter) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// TotalCalls returns the number of invocations across all methods.
func (c *counter) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func cloneActor(a *domain.Actor) *domain.Actor {
	if a == nil {
		return nil
	}
	out := *a
	out.Followers = slices.Clone(a.Followers)
	return &out
}

// Users is an in-memory origin.Users.
type Users struct {
	counter
	mu    sync.Mutex
	users map[string]*domain.Actor

	// Err, when set, is returned by every method.
	Err error
	// FollowErr, when set, is returned by FollowUser.
	FollowErr error
}

var _ origin.Users = (*Users)(nil)

func NewUsers(actors ...*domain.Actor) *Users {
	u := &Users{users: make(map[string]*domain.Actor)}
	for _, a := range actors {
		u.Put(a)
	}
	return u
}

// Put stores a copy of a without counting a call.
func (u *Users) Put(a *domain.Actor) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[a.ApId] = cloneActor(a)
}

// Get returns a copy of the stored actor without counting a call.
func (u *Users) Get(apId string) *domain.Actor {
	u.mu.Lock()
	defer u.mu.Unlock()
	return cloneActor(u.users[apId])
}

func (u *Users) QueryUserByApId(_ context.Context, apId string) (*domain.Actor, error) {
	u.inc("QueryUserByApId")
	if u.Err != nil {
		return nil, u.Err
	}
	return u.Get(apId), nil
}

func (u *Users) QueryLocalUserByName(_ context.Context, username string) (*domain.Actor, error) {
	u.inc("QueryLocalUserByName")
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, a := range u.users {
		if a.Local && a.Username == username {
			return cloneActor(a), nil
		}
	}
	return nil, nil
}

func (u *Users) UpsertUser(_ context.Context, user *domain.Actor) (*domain.Actor, error) {
	u.inc("UpsertUser")
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	stored := cloneActor(user)
	if existing, ok := u.users[user.ApId]; ok {
		stored.Followers = slices.Clone(existing.Followers)
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = time.Now()
	u.users[user.ApId] = stored
	return cloneActor(stored), nil
}

func (u *Users) CreateUser(_ context.Context, user *domain.Actor) (*domain.Actor, error) {
	u.inc("CreateUser")
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[user.ApId]; ok {
		return nil, origin.ErrConflict
	}
	stored := cloneActor(user)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	u.users[user.ApId] = stored
	return cloneActor(stored), nil
}

func (u *Users) FollowUser(_ context.Context, apId, follower string) (*domain.Actor, error) {
	u.inc("FollowUser")
	if u.Err != nil {
		return nil, u.Err
	}
	if u.FollowErr != nil {
		return nil, u.FollowErr
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	target, ok := u.users[apId]
	if !ok {
		return nil, nil
	}
	if slices.Contains(target.Followers, follower) {
		return nil, origin.ErrConflict
	}
	target.Followers = append(target.Followers, follower)
	return cloneActor(target), nil
}

func (u *Users) QueryFollowing(_ context.Context, apId string) ([]string, error) {
	u.inc("QueryFollowing")
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for id, a := range u.users {
		if slices.Contains(a.Followers, apId) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Categories is an in-memory origin.Categories.
type Categories struct {
	counter
	mu         sync.Mutex
	categories map[string]*domain.Category

	Err error
}

var _ origin.Categories = (*Categories)(nil)

func NewCategories(categories ...*domain.Category) *Categories {
	c := &Categories{categories: make(map[string]*domain.Category)}
	for _, cat := range categories {
		c.Put(cat)
	}
	return c
}

func (c *Categories) Put(cat *domain.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := *cat
	stored.SubCategories = slices.Clone(cat.SubCategories)
	c.categories[cat.ApId] = &stored
}

func (c *Categories) Get(apId string) *domain.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.categories[apId]
	if !ok {
		return nil
	}
	out := *cat
	out.SubCategories = slices.Clone(cat.SubCategories)
	return &out
}

func (c *Categories) QueryCategoryByApId(_ context.Context, apId string) (*domain.Category, error) {
	c.inc("QueryCategoryByApId")
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Get(apId), nil
}

func (c *Categories) UpsertCategory(_ context.Context, category *domain.Category) (*domain.Category, error) {
	c.inc("UpsertCategory")
	if c.Err != nil {
		return nil, c.Err
	}
	category.UpdatedAt = time.Now()
	c.Put(category)
	return c.Get(category.ApId), nil
}

// Listings is an in-memory origin.Listings.
type Listings struct {
	counter
	mu       sync.Mutex
	listings map[string]*domain.Listing

	Err error
}

var _ origin.Listings = (*Listings)(nil)

func NewListings(listings ...*domain.Listing) *Listings {
	l := &Listings{listings: make(map[string]*domain.Listing)}
	for _, listing := range listings {
		l.Put(listing)
	}
	return l
}

func (l *Listings) Put(listing *domain.Listing) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := *listing
	stored.Attachments = slices.Clone(listing.Attachments)
	l.listings[listing.ApId] = &stored
}

func (l *Listings) Get(apId string) *domain.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	listing, ok := l.listings[apId]
	if !ok {
		return nil
	}
	out := *listing
	out.Attachments = slices.Clone(listing.Attachments)
	return &out
}

// Len returns the number of stored listings.
func (l *Listings) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listings)
}

func (l *Listings) QueryListingByApId(_ context.Context, apId string) (*domain.Listing, error) {
	l.inc("QueryListingByApId")
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Get(apId), nil
}

func (l *Listings) QueryListingsByUser(_ context.Context, userApId string) ([]domain.Listing, error) {
	l.inc("QueryListingsByUser")
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Listing
	for _, listing := range l.listings {
		if listing.AttributedTo == userApId {
			out = append(out, *listing)
		}
	}
	slices.SortFunc(out, func(a, b domain.Listing) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (l *Listings) CreateListing(_ context.Context, listing *domain.Listing) (*domain.Listing, error) {
	l.inc("CreateListing")
	if l.Err != nil {
		return nil, l.Err
	}
	if existing := l.Get(listing.ApId); existing != nil {
		listing.CreatedAt = existing.CreatedAt
	} else if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now()
	}
	listing.UpdatedAt = time.Now()
	l.Put(listing)
	return l.Get(listing.ApId), nil
}
