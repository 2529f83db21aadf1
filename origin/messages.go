package origin

import (
	"fmt"

	"github.com/deemkeen/hutgate/codec"
	"github.com/deemkeen/hutgate/domain"
)

const (
	SubjectQueryUserByApId      = "users.query.by_ap_id"
	SubjectQueryLocalUserByName = "users.query.local_by_name"
	SubjectUpsertUser           = "users.mutate.upsert"
	SubjectCreateUser           = "users.mutate.create"
	SubjectFollowUser           = "users.mutate.follow"
	SubjectQueryFollowing       = "users.query.following"

	SubjectQueryCategoryByApId = "categories.query.by_ap_id"
	SubjectUpsertCategory      = "categories.mutate.upsert"

	SubjectQueryListingByApId  = "listings.query.by_ap_id"
	SubjectQueryListingsByUser = "listings.query.by_user"
	SubjectCreateListing       = "listings.mutate.create"
)

const (
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeInvalidArgument = "invalid_argument"
	CodeInternal        = "internal"
)

type ByApIdRequest struct {
	ApId string `cbor:"ap_id"`
}

type ByNameRequest struct {
	Username string `cbor:"username"`
}

type FollowUserRequest struct {
	ApId      string `cbor:"ap_id"`
	FollowUrl string `cbor:"follow_url"`
}

type UserRequest struct {
	User *domain.Actor `cbor:"user"`
}

type CategoryRequest struct {
	Category *domain.Category `cbor:"category"`
}

type ListingRequest struct {
	Listing *domain.Listing `cbor:"listing"`
}

type FollowingResponse struct {
	Following []string `cbor:"following"`
}

type ListingsResponse struct {
	Listings []domain.Listing `cbor:"listings"`
}

// Status is the error half of a reply.
type Status struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

func (s *Status) Error() string {
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// Reply is the envelope every origin service answers with. Exactly one of
// Payload and Error is set, or neither for an empty result.
type Reply struct {
	Payload codec.RawMessage `cbor:"payload,omitempty"`
	Error   *Status          `cbor:"error,omitempty"`
}

// NewReply encodes v as the payload of a successful reply.
func NewReply(v any) ([]byte, error) {
	var r Reply
	if v != nil {
		payload, err := codec.Marshal(v)
		if err != nil {
			return nil, err
		}
		r.Payload = payload
	}
	return codec.Marshal(r)
}

// NewErrorReply encodes a failed reply.
func NewErrorReply(code, message string) ([]byte, error) {
	return codec.Marshal(Reply{Error: &Status{Code: code, Message: message}})
}
