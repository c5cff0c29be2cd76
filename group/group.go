package group

import (
	"database/sql"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

const MaxNicknameLength = 20

var (
	ErrNicknameRequired  = errors.New("nickname can't be blank")
	ErrNicknameTooLong   = errors.New("nickname is too long")
	ErrNicknameTaken     = errors.New("nickname is already taken in this group")
	ErrNicknameNotFound  = errors.New("no member with that nickname")
	ErrTokenMismatch     = errors.New("nickname belongs to a registered member")
	ErrCannotRemoveOwner = errors.New("the group owner can't be removed")
	ErrEmptyName         = errors.New("group name can't be blank")
)

type Group struct {
	ID            uuid.UUID
	Name          string
	CreatorUserID uuid.UUID
	// InviteToken is unguessable and immutable after creation; join links
	// are built from it.
	InviteToken string
	CreatedAt   time.Time
}

// Membership binds one principal to a group. Exactly one of UserID and
// GuestDigest identifies the holder; both are present only during the
// transient window of an account claim.
type Membership struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	UserID      uuid.NullUUID
	GuestDigest sql.NullString
	Nickname    string
	Role        Role
	CreatedAt   time.Time
}

func (m *Membership) IsOwner() bool {
	return m.Role == RoleOwner
}

func ValidateNickname(nickname string) error {
	if nickname == "" {
		return ErrNicknameRequired
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	return nil
}
