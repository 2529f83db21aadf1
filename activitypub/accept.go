package activitypub

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

type Accept struct {
	Id     string            `json:"id"`
	Type   string            `json:"type"`
	Actor  string            `json:"actor"`
	Object Follow            `json:"object"`
	To     OneOrMany[string] `json:"to,omitempty"`
}

func (a *Accept) ActivityId() string { return a.Id }
func (a *Accept) ActorId() string    { return a.Actor }
func (a *Accept) ObjectId() string   { return a.Object.Id }
func (a *Accept) Kind() string       { return TypeAccept }
func (*Accept) activity()            {}

// verify checks that the accepting actor is the one that was followed.
func (a *Accept) verify(_ context.Context, _ *Federation) error {
	if a.Object.Type != "" && a.Object.Type != TypeFollow {
		return fmt.Errorf("%w: accepted object is a %s", ErrUnsupported, a.Object.Type)
	}
	if a.Object.Object == "" {
		return fmt.Errorf("%w: accept without embedded follow", ErrMalformed)
	}
	if a.Object.Object != a.Actor {
		return fmt.Errorf("%w: %s cannot accept a follow of %s", ErrVerification, a.Actor, a.Object.Object)
	}
	return nil
}

func (a *Accept) receive(_ context.Context, _ *Federation) error {
	log.Infof("Inbox: %s accepted follow %s from %s", a.Actor, a.Object.Id, a.Object.Actor)
	return nil
}
