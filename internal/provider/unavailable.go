package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProvider is returned by Unavailable for every remote call.
var ErrNoProvider = errors.New("no messaging provider configured")

// Unavailable is a Client with no backing connection. The daemon falls back
// to it when no real provider is wired, so the HTTP surface still serves
// cached conversations, annotations, and stored reports.
type Unavailable struct{}

var _ Client = Unavailable{}

func (Unavailable) ListDialogs(context.Context) ([]DialogSnapshot, error) {
	return nil, ErrNoProvider
}

func (Unavailable) GetEntity(_ context.Context, id int64) (EntityRef, error) {
	return nil, fmt.Errorf("%w: cannot resolve entity %d", ErrNoProvider, id)
}

func (Unavailable) GetMessages(context.Context, EntityRef, int) ([]MessageSnapshot, error) {
	return nil, ErrNoProvider
}

func (Unavailable) GetParticipants(context.Context, EntityRef, int) ([]ParticipantSnapshot, error) {
	return nil, ErrNoProvider
}

func (Unavailable) SendMessage(context.Context, EntityRef, string) error {
	return ErrNoProvider
}

func (Unavailable) Me(context.Context) (Owner, error) {
	return Owner{}, ErrNoProvider
}
