package domain

import (
	"strings"
	"time"
)

// Visibility 控制小组是否出现在公开列表中。
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// JoinCodeLength is the fixed length of a group join code.
const JoinCodeLength = 6

// JoinCodeAlphabet lists the characters a join code may contain.
const JoinCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Group 表示一个学习小组 (一起观看视频的会话)。
type Group struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Name        string     `gorm:"size:191;not null" json:"name"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	JoinCode    string     `gorm:"uniqueIndex;size:6;not null" json:"joinCode"`
	OwnerID     string     `gorm:"index;size:36;not null" json:"ownerId"`
	Visibility  Visibility `gorm:"size:16;not null;default:public" json:"visibility"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// GroupMember 记录成员与小组之间的关系。
type GroupMember struct {
	GroupID     string    `gorm:"primaryKey;size:36" json:"groupId"`
	MemberID    string    `gorm:"primaryKey;size:36" json:"memberId"`
	DisplayName string    `gorm:"size:191" json:"displayName"`
	JoinedAt    time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}

// Member identifies the connected client a session is bound to.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// NormalizeJoinCode trims and upper-cases raw user input, then validates it.
// It never touches the network, so callers can reject bad input before any lookup.
func NormalizeJoinCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if err := ValidateJoinCode(code); err != nil {
		return "", err
	}
	return code, nil
}

// ValidateJoinCode checks that code is exactly six characters of [0-9A-Z].
func ValidateJoinCode(code string) error {
	if len(code) != JoinCodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(JoinCodeAlphabet, rune(code[i])) {
			return ErrInvalidCode
		}
	}
	return nil
}
