package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/playback"
	"groupwatch/internal/repository"
)

const (
	streamEvents   = "events"
	streamPresence = "presence"
	streamTyping   = "typing"
)

// pendingAction 是本地尚未被日志确认的播放操作 (乐观回显)。
type pendingAction struct {
	clientActionID string
	timestamp      int64 // 追加成功后填入; 0 表示还不知道
	state          domain.PlaybackState
}

// Session 是一个客户端在一个小组中的实时会话。
//
// 所有可变状态由单个事件循环 goroutine 持有; 公开方法要么把操作投递给循环，
// 要么只访问存储，因此可以被任意 goroutine 并发调用。
type Session struct {
	coord  *Coordinator
	group  domain.Group
	member domain.Member
	log    *logrus.Entry

	views chan domain.ViewModel
	ops   chan func()
	quit  chan struct{}
	done  chan struct{}

	ctx    context.Context // Leave 时取消，用于终止重试
	cancel context.CancelFunc

	mu        sync.Mutex
	closing   bool
	inflight  sync.WaitGroup
	leaveOnce sync.Once

	// 以下字段只由事件循环访问
	eventStream    repository.Stream[domain.Event]
	presenceStream repository.Stream[map[string]domain.PresenceRecord]
	typingStream   repository.Stream[map[string]domain.TypingRecord]
	playback       *playback.Log
	messages       []domain.ChatMessage
	presence       map[string]domain.PresenceRecord
	typing         map[string]domain.TypingRecord
	roster         map[string]string
	pending        *pendingAction
	away           bool
	lastView       *domain.ViewModel
}

func newSession(c *Coordinator, group domain.Group, member domain.Member, roster map[string]string, logCtx *logrus.Entry) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		coord:    c,
		group:    group,
		member:   member,
		log:      logCtx,
		views:    make(chan domain.ViewModel, 1),
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		playback: playback.NewLog(nil),
		presence: make(map[string]domain.PresenceRecord),
		typing:   make(map[string]domain.TypingRecord),
		roster:   roster,
	}
}

// Group 返回会话所属的小组。
func (s *Session) Group() domain.Group { return s.group }

// Member 返回会话绑定的成员。
func (s *Session) Member() domain.Member { return s.member }

// Views 返回视图模型通道。通道只保留最新的一个视图，Leave 之后被关闭。
func (s *Session) Views() <-chan domain.ViewModel { return s.views }

// Done 在会话的事件循环退出后关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// PublishPlaybackAction 追加一个播放事件，不等待确认。
// 本地视图立即反映该操作 (Optimistic=true)，直到日志中出现对应事件或更晚的事件。
func (s *Session) PublishPlaybackAction(ctx context.Context, action domain.PlaybackAction, videoID string, position float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := domain.PlaybackEvent{
		Type:             action,
		VideoID:          videoID,
		PositionSeconds:  position,
		ActorID:          s.member.ID,
		ActorDisplayName: s.member.DisplayName,
		ClientActionID:   uuid.NewString(),
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if !s.track() {
		return ErrSessionClosed
	}

	optimistic := ev
	optimistic.ServerTimestamp = s.coord.clock.Now().UnixMilli()
	ok := s.do(func() {
		s.pending = &pendingAction{
			clientActionID: ev.ClientActionID,
			state:          playback.Apply(s.displayedPlayback(), optimistic),
		}
		s.emit()
	})
	if !ok {
		s.inflight.Done()
		return ErrSessionClosed
	}

	go s.append(ev, func(ts int64, err error) {
		if s.pending == nil || s.pending.clientActionID != ev.ClientActionID {
			return
		}
		if err != nil {
			// 追加失败: 放弃乐观状态，回到日志状态
			s.pending = nil
			s.emit()
			return
		}
		s.pending.timestamp = ts
	})
	return nil
}

// SendMessage 追加一条聊天消息，不等待确认。空白消息返回 domain.ErrInvalidMessage。
func (s *Session) SendMessage(ctx context.Context, text string) error {
	normalized, err := domain.NormalizeMessageText(text)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.track() {
		return ErrSessionClosed
	}
	go s.append(domain.ChatMessage{
		ID:         uuid.NewString(),
		Type:       domain.ChatUser,
		AuthorID:   s.member.ID,
		AuthorName: s.member.DisplayName,
		Text:       normalized,
	}, nil)
	return nil
}

// SetTyping 覆盖自己的输入状态。调用方负责按键去抖。
// 写入登记为进行中的操作，Leave 等它完成后才删除输入记录。
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	if !s.track() {
		return ErrSessionClosed
	}
	defer s.inflight.Done()
	err := s.coord.typing.Put(ctx, s.group.ID, domain.TypingRecord{MemberID: s.member.ID, IsTyping: isTyping})
	if err != nil {
		return fmt.Errorf("%w: put typing: %v", ErrTransientIO, err)
	}
	return nil
}

// SetAway 在 online 与 away 之间切换自己的在线状态。
func (s *Session) SetAway(ctx context.Context, away bool) error {
	return s.call(ctx, func() error {
		s.away = away
		return s.putPresence()
	})
}

// Leave 离开会话: 停止心跳、关闭订阅、删除自己的在线和输入记录并关闭视图通道。
// 可以重复调用，也可以在连接已经断开后调用; 清理只执行一次，失败只记录日志。
func (s *Session) Leave(ctx context.Context) {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		// 先等待已发出的追加完成，离开通知排在它们之后
		s.inflight.Wait()

		notice := s.systemMessage(s.member.DisplayName + " left the group")
		if _, err := s.coord.events.Append(ctx, s.group.ID, notice); err != nil {
			s.log.WithError(err).Warn("Session: failed to append leave notice")
			s.coord.observer.AppendDropped(notice.Kind())
		} else {
			s.coord.observer.EventAppended(notice.Kind())
		}

		close(s.quit)
		s.cancel()
		<-s.done

		if err := s.coord.presence.Delete(ctx, s.group.ID, s.member.ID); err != nil {
			s.log.WithError(err).Warn("Session: failed to delete presence record")
		}
		if err := s.coord.typing.Delete(ctx, s.group.ID, s.member.ID); err != nil {
			s.log.WithError(err).Warn("Session: failed to delete typing record")
		}
		s.coord.forget(s)
		s.log.Info("Session: member left")
	})
}

// --- 事件循环 ---

func (s *Session) run() {
	defer close(s.done)
	heartbeat := s.coord.clock.Ticker(s.coord.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := s.coord.clock.Ticker(s.coord.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-s.quit:
			s.closeStreams()
			close(s.views)
			return

		case fn := <-s.ops:
			fn()

		case ev, ok := <-streamChan(s.eventStream):
			if !ok {
				s.eventStream = lost(s, s.eventStream, streamEvents, s.reconnectEvents)
				continue
			}
			if s.applyEvent(ev) {
				s.emit()
			}

		case snap, ok := <-streamChan(s.presenceStream):
			if !ok {
				s.presenceStream = lost(s, s.presenceStream, streamPresence, s.reconnectPresence)
				continue
			}
			s.presence = snap
			s.emit()

		case snap, ok := <-streamChan(s.typingStream):
			if !ok {
				s.typingStream = lost(s, s.typingStream, streamTyping, s.reconnectTyping)
				continue
			}
			s.typing = snap
			s.emit()

		case <-heartbeat.C:
			if err := s.putPresence(); err != nil {
				s.log.WithError(err).Warn("Session: heartbeat failed")
			}

		case <-sweep.C:
			s.emitIfMembershipChanged()
		}
	}
}

// connect 在循环启动前同步地建立三个订阅; 失败的订阅交给后台重试。
func (s *Session) connect(ctx context.Context) {
	stream, err := s.coord.events.Subscribe(ctx, s.group.ID)
	if err != nil {
		s.log.WithError(err).Warn("Session: event subscription failed, retrying in background")
		s.reconnectEvents()
	} else if backlog, err := s.coord.events.Load(ctx, s.group.ID, 0); err != nil {
		// 无法加载完整日志时从空状态开始，而不是猜测; 只折叠增量会与日志永久不一致，
		// 所以丢弃这个订阅，由后台重试重新订阅并完整拉取
		s.log.WithError(err).Warn("Session: initial event log load failed, starting from empty state")
		_ = stream.Close()
		s.reconnectEvents()
	} else {
		s.eventStream = stream
		s.reset(backlog)
	}

	if stream, err := s.coord.presence.Subscribe(ctx, s.group.ID); err != nil {
		s.log.WithError(err).Warn("Session: presence subscription failed, retrying in background")
		s.reconnectPresence()
	} else {
		s.presenceStream = stream
	}

	if stream, err := s.coord.typing.Subscribe(ctx, s.group.ID); err != nil {
		s.log.WithError(err).Warn("Session: typing subscription failed, retrying in background")
		s.reconnectTyping()
	} else {
		s.typingStream = stream
	}

	if err := s.putPresence(); err != nil {
		s.log.WithError(err).Warn("Session: failed to register presence")
	}
	if s.track() {
		go s.append(s.systemMessage(s.member.DisplayName+" joined the group"), nil)
	}
	s.emit()
}

func (s *Session) reconnectEvents() {
	s.retry(streamEvents, func(ctx context.Context) (func(), func(), error) {
		stream, err := s.coord.events.Subscribe(ctx, s.group.ID)
		if err != nil {
			return nil, nil, err
		}
		// 重连后重新拉取完整日志，不假设没有遗漏
		backlog, err := s.coord.events.Load(ctx, s.group.ID, 0)
		if err != nil {
			_ = stream.Close()
			return nil, nil, err
		}
		install := func() {
			s.eventStream = stream
			s.reset(backlog)
			s.emit()
		}
		return install, func() { _ = stream.Close() }, nil
	})
}

func (s *Session) reconnectPresence() {
	s.retry(streamPresence, func(ctx context.Context) (func(), func(), error) {
		stream, err := s.coord.presence.Subscribe(ctx, s.group.ID)
		if err != nil {
			return nil, nil, err
		}
		return func() { s.presenceStream = stream }, func() { _ = stream.Close() }, nil
	})
}

func (s *Session) reconnectTyping() {
	s.retry(streamTyping, func(ctx context.Context) (func(), func(), error) {
		stream, err := s.coord.typing.Subscribe(ctx, s.group.ID)
		if err != nil {
			return nil, nil, err
		}
		return func() { s.typingStream = stream }, func() { _ = stream.Close() }, nil
	})
}

// retry 在后台以指数退避重复 attempt，成功后把 install 投递给事件循环执行。
// 会话已离开时执行 cleanup。
func (s *Session) retry(name string, attempt func(ctx context.Context) (install, cleanup func(), err error)) {
	go func() {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.coord.cfg.RetryInitialInterval
		b.MaxInterval = s.coord.cfg.RetryMaxInterval
		b.MaxElapsedTime = 0

		var install, cleanup func()
		tries := 0
		op := func() error {
			var err error
			install, cleanup, err = attempt(s.ctx)
			return err
		}
		notify := func(err error, wait time.Duration) {
			tries++
			s.coord.observer.SubscribeRetried(name)
			s.log.WithError(err).WithFields(logrus.Fields{"stream": name, "attempt": tries, "wait": wait}).
				Warn("Session: subscription failed, retrying")
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil {
			return
		}
		if !s.do(install) {
			cleanup()
			return
		}
		s.log.WithField("stream", name).Info("Session: subscription re-established")
	}()
}

// lost 处理被存储关闭的订阅流: 记录原因并开始重连。返回 nil，循环随即停止读取该流。
func lost[T any](s *Session, stream repository.Stream[T], name string, reconnect func()) repository.Stream[T] {
	err := stream.Err()
	if err == nil {
		err = repository.ErrStreamClosed
	}
	s.log.WithError(err).WithField("stream", name).Warn("Session: subscription dropped, reconnecting")
	_ = stream.Close()
	reconnect()
	return nil
}

// --- 循环内部的辅助方法 ---

func (s *Session) applyEvent(ev domain.Event) bool {
	switch e := ev.(type) {
	case domain.PlaybackEvent:
		before := s.playback.Len()
		s.playback.Add(e)
		settled := s.settle(e)
		return s.playback.Len() != before || settled
	case domain.ChatMessage:
		var added bool
		s.messages, added = insertMessage(s.messages, e)
		return added
	case domain.PresenceRecord, domain.TypingRecord:
		// 这两类记录只存在于各自的表中，不应出现在日志里
		s.log.WithField("kind", ev.Kind()).Debug("Session: ignoring table record on event log")
		return false
	default:
		return false
	}
}

// reset 用完整日志重建播放和聊天状态。
func (s *Session) reset(events []domain.Event) {
	var plays []domain.PlaybackEvent
	var msgs []domain.ChatMessage
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.PlaybackEvent:
			plays = append(plays, e)
			s.settle(e)
		case domain.ChatMessage:
			msgs, _ = insertMessage(msgs, e)
		}
	}
	s.playback.Reset(plays)
	s.messages = msgs
}

// settle 在观察到对应事件 (或更晚的事件) 时清除乐观状态。
func (s *Session) settle(ev domain.PlaybackEvent) bool {
	if s.pending == nil {
		return false
	}
	if ev.ClientActionID == s.pending.clientActionID ||
		(s.pending.timestamp != 0 && ev.ServerTimestamp >= s.pending.timestamp) {
		s.pending = nil
		return true
	}
	return false
}

func (s *Session) displayedPlayback() domain.PlaybackState {
	if s.pending != nil {
		return s.pending.state
	}
	return s.playback.State()
}

func (s *Session) putPresence() error {
	state := domain.PresenceOnline
	if s.away {
		state = domain.PresenceAway
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.coord.cfg.AppendTimeout)
	defer cancel()
	err := s.coord.presence.Put(ctx, s.group.ID, domain.PresenceRecord{
		MemberID:    s.member.ID,
		DisplayName: s.member.DisplayName,
		State:       state,
	})
	if err != nil {
		return fmt.Errorf("%w: put presence: %v", ErrTransientIO, err)
	}
	return nil
}

func (s *Session) emit() {
	vm := s.view()
	s.lastView = &vm
	// 只保留最新的视图: 消费者没取走的旧视图直接丢弃
	select {
	case s.views <- vm:
	default:
		select {
		case <-s.views:
		default:
		}
		s.views <- vm
	}
}

func (s *Session) emitIfMembershipChanged() {
	if s.lastView == nil {
		s.emit()
		return
	}
	now := s.coord.clock.Now().UnixMilli()
	participants := participantsAt(s.presence, s.roster, now, s.coord.cfg.PresenceTimeout.Milliseconds())
	typing := typingAt(s.typing, participants, s.member.ID, now, s.coord.cfg.TypingTimeout.Milliseconds())
	if !sameParticipants(participants, s.lastView.Participants) || !sameStrings(typing, s.lastView.TypingUsers) {
		s.emit()
	}
}

func (s *Session) view() domain.ViewModel {
	now := s.coord.clock.Now().UnixMilli()
	participants := participantsAt(s.presence, s.roster, now, s.coord.cfg.PresenceTimeout.Milliseconds())
	return domain.ViewModel{
		GroupID:      s.group.ID,
		Participants: participants,
		TypingUsers:  typingAt(s.typing, participants, s.member.ID, now, s.coord.cfg.TypingTimeout.Milliseconds()),
		Messages:     append([]domain.ChatMessage(nil), s.messages...),
		Playback:     s.displayedPlayback(),
		Optimistic:   s.pending != nil,
	}
}

func (s *Session) closeStreams() {
	if s.eventStream != nil {
		_ = s.eventStream.Close()
	}
	if s.presenceStream != nil {
		_ = s.presenceStream.Close()
	}
	if s.typingStream != nil {
		_ = s.typingStream.Close()
	}
}

// --- 与循环通信 ---

// do 把 fn 交给事件循环执行。循环已退出时返回 false。
func (s *Session) do(fn func()) bool {
	select {
	case s.ops <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call 在事件循环中执行 fn 并等待结果。
func (s *Session) call(ctx context.Context, fn func() error) error {
	if s.isClosing() {
		return ErrSessionClosed
	}
	res := make(chan error, 1)
	if !s.do(func() { res <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track 登记一次进行中的写入 (追加或输入状态); 会话正在离开时返回 false。
func (s *Session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// append 在后台追加事件。失败只记录警告并丢弃，done (可为 nil) 在事件循环中执行。
// 调用前必须先 track。
func (s *Session) append(ev domain.Event, done func(ts int64, err error)) {
	defer s.inflight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.coord.cfg.AppendTimeout)
	defer cancel()

	ts, err := s.coord.events.Append(ctx, s.group.ID, ev)
	if err != nil {
		s.log.WithError(err).WithField("kind", ev.Kind()).Warn("Session: append failed, dropping event")
		s.coord.observer.AppendDropped(ev.Kind())
	} else {
		s.coord.observer.EventAppended(ev.Kind())
	}
	if done != nil {
		s.do(func() { done(ts, err) })
	}
}

func (s *Session) systemMessage(text string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         uuid.NewString(),
		Type:       domain.ChatSystem,
		AuthorID:   s.member.ID,
		AuthorName: s.member.DisplayName,
		Text:       text,
	}
}

func streamChan[T any](s repository.Stream[T]) <-chan T {
	if s == nil {
		return nil
	}
	return s.C()
}
