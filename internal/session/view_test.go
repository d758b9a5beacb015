package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"groupwatch/internal/domain"
)

func TestParticipantsAt(t *testing.T) {
	presence := map[string]domain.PresenceRecord{
		"u1": {MemberID: "u1", DisplayName: "Ann", State: domain.PresenceOnline, LastActive: 100_000},
		"u2": {MemberID: "u2", State: domain.PresenceAway, LastActive: 90_000},
		"u3": {MemberID: "u3", DisplayName: "Cid", State: domain.PresenceOnline, LastActive: 10_000}, // 过期
		"u4": {MemberID: "u4", DisplayName: "Dee", State: domain.PresenceOffline, LastActive: 100_000},
		"u5": {MemberID: "u5", State: domain.PresenceOnline, LastActive: 100_000},
	}
	roster := map[string]string{"u2": "Bob"}

	got := participantsAt(presence, roster, 100_000, 60_000)

	assert.Equal(t, []domain.Participant{
		{MemberID: "u1", DisplayName: "Ann", State: domain.PresenceOnline},
		{MemberID: "u2", DisplayName: "Bob", State: domain.PresenceAway},
		{MemberID: "u5", DisplayName: "u5", State: domain.PresenceOnline},
	}, got)
}

func TestTypingAt(t *testing.T) {
	participants := []domain.Participant{{MemberID: "self"}, {MemberID: "u1"}, {MemberID: "u2"}}
	typing := map[string]domain.TypingRecord{
		"self": {MemberID: "self", IsTyping: true, UpdatedAt: 10_000},
		"u1":   {MemberID: "u1", IsTyping: true, UpdatedAt: 9_000},
		"u2":   {MemberID: "u2", IsTyping: true, UpdatedAt: 1_000}, // 过期
		"u3":   {MemberID: "u3", IsTyping: true, UpdatedAt: 10_000}, // 不在场
		"u4":   {MemberID: "u4", IsTyping: false, UpdatedAt: 10_000},
	}

	assert.Equal(t, []string{"u1"}, typingAt(typing, participants, "self", 10_000, 5_000))
	assert.Empty(t, typingAt(nil, participants, "self", 10_000, 5_000))
}

func TestInsertMessage(t *testing.T) {
	var msgs []domain.ChatMessage
	var added bool

	msgs, added = insertMessage(msgs, domain.ChatMessage{ID: "b", ServerTimestamp: 20})
	assert.True(t, added)
	msgs, _ = insertMessage(msgs, domain.ChatMessage{ID: "c", ServerTimestamp: 30})
	msgs, _ = insertMessage(msgs, domain.ChatMessage{ID: "a", ServerTimestamp: 10})
	msgs, added = insertMessage(msgs, domain.ChatMessage{ID: "b", ServerTimestamp: 20})
	assert.False(t, added)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
