package session

import (
	"sort"

	"groupwatch/internal/domain"
)

// participantsAt 返回在 nowMs 时刻仍然在场的成员 (未过期且非 offline)，按成员 ID 排序。
// 记录中没有显示名时使用名册中的名字。
func participantsAt(presence map[string]domain.PresenceRecord, roster map[string]string, nowMs, timeoutMs int64) []domain.Participant {
	out := make([]domain.Participant, 0, len(presence))
	for id, rec := range presence {
		state := rec.EffectiveState(nowMs, timeoutMs)
		if state == domain.PresenceOffline {
			continue
		}
		name := rec.DisplayName
		if name == "" {
			name = roster[id]
		}
		if name == "" {
			name = id
		}
		out = append(out, domain.Participant{MemberID: id, DisplayName: name, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

// typingAt 返回正在输入的成员: 记录未过期、成员在场且不是自己。
func typingAt(typing map[string]domain.TypingRecord, participants []domain.Participant, selfID string, nowMs, timeoutMs int64) []string {
	present := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		present[p.MemberID] = struct{}{}
	}
	out := make([]string, 0)
	for id, rec := range typing {
		if id == selfID || !rec.ActiveAt(nowMs, timeoutMs) {
			continue
		}
		if _, ok := present[id]; !ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// insertMessage 按服务端时间戳有序插入; 已存在的消息被忽略。
func insertMessage(msgs []domain.ChatMessage, m domain.ChatMessage) ([]domain.ChatMessage, bool) {
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].ServerTimestamp >= m.ServerTimestamp })
	for j := i; j < len(msgs) && msgs[j].ServerTimestamp == m.ServerTimestamp; j++ {
		if msgs[j].ID == m.ID {
			return msgs, false
		}
	}
	if i == len(msgs) {
		return append(msgs, m), true
	}
	msgs = append(msgs, domain.ChatMessage{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs, true
}

func sameParticipants(a, b []domain.Participant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
