package syncqueue

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// ItemType is the kind of record a mutation applies to
type ItemType string

const (
	// TypeConversation items mutate a conversation
	TypeConversation ItemType = "conversation"
	// TypeMessage items mutate a single message
	TypeMessage ItemType = "message"
	// TypeUserData items mutate user settings
	TypeUserData ItemType = "user_data"
)

// Action is the mutation to perform
type Action string

const (
	// ActionCreate sends POST {endpoint}
	ActionCreate Action = "create"
	// ActionUpdate sends PUT {endpoint}/{id}
	ActionUpdate Action = "update"
	// ActionDelete sends DELETE {endpoint}/{id}
	ActionDelete Action = "delete"
)

var typeRank = map[ItemType]int{
	TypeConversation: 0,
	TypeMessage:      1,
	TypeUserData:     2,
}

var actionRank = map[Action]int{
	ActionCreate: 0,
	ActionUpdate: 1,
	ActionDelete: 2,
}

// Valid reports whether t is a known item type
func (t ItemType) Valid() bool {
	_, ok := typeRank[t]
	return ok
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	_, ok := actionRank[a]
	return ok
}

// Item is a pending mutation
type Item struct {
	ID          string          `json:"id"`
	Type        ItemType        `json:"type"`
	Action      Action          `json:"action"`
	Payload     json.RawMessage `json:"data"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"maxRetries"`
	CreatedAt   time.Time       `json:"timestamp"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

// Eligible reports whether the item may be attempted at now
func (it Item) Eligible(now time.Time) bool {
	return it.ScheduledAt == nil || !it.ScheduledAt.After(now)
}

// RecordID returns the "id" field of the payload
func (it Item) RecordID() string {
	var ref struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(it.Payload, &ref)
	return ref.ID
}

// Less orders items by type, then action, then age
func Less(a, b Item) bool {
	if ra, rb := typeRank[a.Type], typeRank[b.Type]; ra != rb {
		return ra < rb
	}
	if ra, rb := actionRank[a.Action], actionRank[b.Action]; ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return Less(items[i], items[j]) })
}

// ConversationPayload is the body of a conversation mutation
type ConversationPayload struct {
	ID        string     `json:"id" validate:"required,max=128"`
	Title     string     `json:"title" validate:"required,max=512"`
	Model     string     `json:"model,omitempty" validate:"omitempty,max=128"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// MessagePayload is the body of a message mutation
type MessagePayload struct {
	ID             string     `json:"id" validate:"required,max=128"`
	ConversationID string     `json:"conversationId" validate:"required,max=128"`
	Role           string     `json:"role" validate:"required,oneof=user assistant system"`
	Content        string     `json:"content" validate:"required"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

// UserDataPayload is the body of a user settings mutation
type UserDataPayload struct {
	ID       string         `json:"id" validate:"required,max=128"`
	Settings map[string]any `json:"settings,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func payloadFor(t ItemType) any {
	switch t {
	case TypeConversation:
		return &ConversationPayload{}
	case TypeMessage:
		return &MessagePayload{}
	default:
		return &UserDataPayload{}
	}
}

// encodePayload checks the mutation and returns its JSON body. A delete only
// needs the record ID.
func encodePayload(t ItemType, a Action, payload any) (json.RawMessage, error) {
	const op = "AddToSyncQueue"
	if !t.Valid() {
		return nil, errors.Permanent(op, t, errors.ErrUnknownSyncType)
	}
	if !a.Valid() {
		return nil, errors.Permanent(op, a, errors.ErrUnknownSyncAction)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Permanent(op, t, errors.Join(errors.ErrSerialization, err))
		}
		raw = b
	}

	typed := payloadFor(t)
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(typed); err != nil {
		return nil, errors.Permanent(op, t, errors.Join(errors.ErrInvalidPayload, err))
	}

	var err error
	if a == ActionDelete {
		err = validate.StructPartial(typed, "ID")
	} else {
		err = validate.Struct(typed)
	}
	if err != nil {
		return nil, errors.Permanent(op, t, errors.Join(errors.ErrInvalidPayload, err))
	}
	return append(json.RawMessage(nil), raw...), nil
}
