package session

import (
	"context"

	"github.com/neuroscan-portal/internal/domain"
)

const (
	fieldUsername = "username"
	fieldRole     = "role"
)

// Context is the identity context of one session. Username and role are
// written together and a session with only one of them reads as anonymous.
type Context struct {
	store Storage
	id    string
}

// NewContext binds the identity context to a session
func NewContext(store Storage, sessionID string) *Context {
	return &Context{store: store, id: sessionID}
}

// ID returns the session ID
func (c *Context) ID() string {
	return c.id
}

// SetIdentity stores username and role in one write
func (c *Context) SetIdentity(ctx context.Context, username string, role domain.Role) error {
	return c.store.Set(ctx, c.id, map[string]string{
		fieldUsername: username,
		fieldRole:     string(role),
	})
}

// Identity returns both fields, or false when the session is anonymous
func (c *Context) Identity(ctx context.Context) (domain.Identity, bool, error) {
	fields, err := c.store.Get(ctx, c.id)
	if err != nil {
		return domain.Identity{}, false, err
	}

	role, _ := domain.ParseRole(fields[fieldRole])
	id := domain.Identity{Username: fields[fieldUsername], Role: role}
	if !id.Complete() {
		return domain.Identity{}, false, nil
	}
	return id, true, nil
}

// Username returns the stored username when an identity is present
func (c *Context) Username(ctx context.Context) (string, bool, error) {
	id, ok, err := c.Identity(ctx)
	return id.Username, ok, err
}

// Role returns the stored role when an identity is present
func (c *Context) Role(ctx context.Context) (domain.Role, bool, error) {
	id, ok, err := c.Identity(ctx)
	return id.Role, ok, err
}

// Clear erases the identity
func (c *Context) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.id)
}
