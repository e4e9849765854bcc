package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teleclinic-backend/internal/domain"
	apperrors "teleclinic-backend/pkg/errors"
	"teleclinic-backend/pkg/logger"
)

// State of one party's call session
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateConnected  State = "CONNECTED"
	StateWarning    State = "WARNING"
	StateEnded      State = "ENDED"
	StateErrored    State = "ERRORED"
)

// EndReason tells the caller why the session handed back control
type EndReason string

const (
	EndReasonManual EndReason = "manual"
	EndReasonAuto   EndReason = "auto"
	EndReasonLeft   EndReason = "left"
	EndReasonError  EndReason = "error"
)

// NoticeKind distinguishes the user-facing banners the session raises
type NoticeKind string

const (
	NoticeEndingSoon NoticeKind = "ending_soon"
	NoticeTimeUp     NoticeKind = "time_up"
	NoticeCallEnded  NoticeKind = "call_ended"
)

// Notice is a user-facing message raised by the session
type Notice struct {
	Kind    NoticeKind
	Message string
}

// StatusStore requests consultation status transitions on the backend record
type StatusStore interface {
	RequestTransition(ctx context.Context, consultationID uuid.UUID, target domain.ConsultationStatus) error
}

// PresenceTracker records room occupancy for observers. Best-effort: a
// failure here never affects the call itself.
type PresenceTracker interface {
	MarkJoined(ctx context.Context, consultationID uuid.UUID, identity string) error
	Refresh(ctx context.Context, consultationID uuid.UUID) error
	MarkLeft(ctx context.Context, consultationID uuid.UUID, identity string) error
}

// Callbacks are the session's outbound notifications. All optional. They are
// invoked from the session's internal goroutines; handlers must not block.
type Callbacks struct {
	OnRemoteTrack     func(track RemoteTrack)
	OnRemoteCleared   func(identity string)
	OnDominantSpeaker func(identity string)
	OnNotice          func(notice Notice)
	// OnClose fires exactly once, when the session ends for any reason.
	// The caller does not need to know which; the reason is informative.
	OnClose func(reason EndReason)
}

// Config wires a session's collaborators
type Config struct {
	Tokens    TokenSource
	Devices   MediaDevices
	Provider  RoomProvider
	Store     StatusStore
	Presence  PresenceTracker
	Callbacks Callbacks
}

// presenceRefreshEvery is how many elapsed-ticks pass between presence
// refreshes. Must stay well under the presence TTL.
const presenceRefreshEvery = 30

// Session manages one party's participation in one call, from join to leave.
// Each party runs its own independent Session; the two never share state
// beyond the persisted consultation record.
type Session struct {
	cfg Config

	// afterFunc and tickEvery exist so tests can drive the deadline and
	// elapsed-time machinery without waiting wall-clock minutes.
	afterFunc func(d time.Duration, f func()) *time.Timer
	tickEvery time.Duration

	mu             sync.Mutex
	state          State
	consultationID uuid.UUID
	identity       string
	roomName       string
	durationMins   int
	tracks         *LocalTracks
	room           Room
	warningTimer   *time.Timer
	endTimer       *time.Timer
	stopTick       chan struct{}
	closed         bool

	elapsedSecs atomic.Int64
}

// NewSession creates an idle session. Call Join to connect.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg:       cfg,
		afterFunc: time.AfterFunc,
		tickEvery: time.Second,
		state:     StateIdle,
	}
}

// Join connects this party to the consultation's room.
//
// The join never writes the persisted status: transitions are driven by
// explicit End/cancel calls, so a failed join leaves the record untouched.
// Token, media, and room-connect failures each surface distinctly so the
// user can be guided differently (check network vs. check camera).
func (s *Session) Join(ctx context.Context, c *domain.Consultation, role domain.Role, userID uuid.UUID) error {
	if c == nil || c.ID == uuid.Nil {
		return apperrors.ValidationError("consultation must be created before joining")
	}
	if !role.IsValid() {
		return apperrors.ValidationError("unknown call party role")
	}
	duration := c.DurationMins
	if duration < 1 {
		return apperrors.ValidationError("consultation duration must be at least one minute")
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return apperrors.ConflictError("session already joined")
	}
	s.state = StateConnecting
	s.consultationID = c.ID
	s.identity = domain.ParticipantIdentity(role, userID)
	s.roomName = domain.RoomName(c)
	s.durationMins = duration
	s.mu.Unlock()

	token, err := s.cfg.Tokens.FetchToken(ctx, s.identity, s.roomName)
	if err != nil {
		s.failJoin()
		return apperrors.TokenError(err)
	}

	tracks, err := s.cfg.Devices.Acquire(ctx)
	if err != nil {
		s.failJoin()
		return apperrors.MediaError(err)
	}

	room, err := s.cfg.Provider.Connect(ctx, s.roomName, token, tracks)
	if err != nil {
		tracks.StopAll()
		s.failJoin()
		return apperrors.RoomConnectError(err)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.tracks = tracks
	s.room = room
	s.stopTick = make(chan struct{})
	s.armDeadlinesLocked()
	s.mu.Unlock()

	if s.cfg.Presence != nil {
		if err := s.cfg.Presence.MarkJoined(ctx, c.ID, s.identity); err != nil {
			logger.Warn("Failed to mark call presence",
				zap.String("consultation_id", c.ID.String()),
				zap.Error(err))
		}
	}

	go s.runElapsedCounter()
	go s.runEventLoop(room.Events())

	logger.Info("Joined consultation room",
		zap.String("consultation_id", c.ID.String()),
		zap.String("room", s.roomName),
		zap.String("identity", s.identity))

	return nil
}

// armDeadlinesLocked arms the warning timer one minute before the nominal
// end, and the forced-end timer one minute after that. Both are anchored at
// join time from this party's own durationMins snapshot.
func (s *Session) armDeadlinesLocked() {
	warnAfter := time.Duration(s.durationMins*60-60) * time.Second
	s.warningTimer = s.afterFunc(warnAfter, s.onWarningDeadline)
}

func (s *Session) onWarningDeadline() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateWarning
	s.endTimer = s.afterFunc(60*time.Second, s.onFinalDeadline)
	s.mu.Unlock()

	s.notify(Notice{Kind: NoticeEndingSoon, Message: "The consultation ends in one minute"})
}

func (s *Session) onFinalDeadline() {
	// Not pre-empted by a manual end, so force one
	if err := s.End(context.Background(), true); err != nil {
		logger.Warn("Auto-end status update failed", zap.Error(err))
	}
}

// End terminates this party's session and requests the COMPLETED transition.
//
// Local teardown (stop tracks, disconnect, cancel timers) always runs to
// completion; the status update is best-effort from the teardown's
// perspective and its error is returned only after the user is already out
// of the call. auto marks a deadline-driven end. Ending a session that never
// joined is rejected as a conflict.
func (s *Session) End(ctx context.Context, auto bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateIdle {
		s.mu.Unlock()
		return apperrors.ConflictError("session has not joined")
	}
	s.closed = true
	consultationID := s.consultationID
	s.mu.Unlock()

	reason := EndReasonManual
	notice := Notice{Kind: NoticeCallEnded, Message: "The consultation has ended"}
	if auto {
		reason = EndReasonAuto
		notice = Notice{Kind: NoticeTimeUp, Message: "The scheduled consultation time is up"}
	}

	s.teardown(ctx, StateEnded)

	var statusErr error
	if s.cfg.Store != nil {
		statusErr = s.cfg.Store.RequestTransition(ctx, consultationID, domain.StatusCompleted)
		if statusErr != nil {
			logger.Warn("Failed to record consultation completion",
				zap.String("consultation_id", consultationID.String()),
				zap.Error(statusErr))
		}
	}

	s.notify(notice)
	s.close(reason)

	return statusErr
}

// Leave tears the session down without requesting any status transition.
// Used when the user closes the call UI without explicitly ending the
// consultation; the record stays as it was.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown(ctx, StateEnded)
	s.close(EndReasonLeft)
}

// teardown releases devices, disconnects, and cancels timers. Every step
// runs even if an earlier one fails. Callers must have claimed the closed
// flag first so teardown runs at most once.
func (s *Session) teardown(ctx context.Context, final State) {
	s.mu.Lock()
	s.state = final
	tracks := s.tracks
	room := s.room
	warningTimer := s.warningTimer
	endTimer := s.endTimer
	stopTick := s.stopTick
	consultationID := s.consultationID
	identity := s.identity
	s.tracks = nil
	s.room = nil
	s.warningTimer = nil
	s.endTimer = nil
	s.stopTick = nil
	s.mu.Unlock()

	tracks.StopAll()

	if room != nil {
		if err := room.Disconnect(); err != nil {
			logger.Warn("Room disconnect failed",
				zap.String("consultation_id", consultationID.String()),
				zap.Error(err))
		}
	}

	if warningTimer != nil {
		warningTimer.Stop()
	}
	if endTimer != nil {
		endTimer.Stop()
	}
	if stopTick != nil {
		close(stopTick)
	}

	if s.cfg.Presence != nil && consultationID != uuid.Nil {
		if err := s.cfg.Presence.MarkLeft(ctx, consultationID, identity); err != nil {
			logger.Warn("Failed to clear call presence",
				zap.String("consultation_id", consultationID.String()),
				zap.Error(err))
		}
	}
}

// ToggleMute flips the local audio track and reports the new enabled state
func (s *Session) ToggleMute() bool {
	return s.toggleTrack(func(t *LocalTracks) LocalTrack { return t.Audio })
}

// ToggleCamera flips the local video track and reports the new enabled state
func (s *Session) ToggleCamera() bool {
	return s.toggleTrack(func(t *LocalTracks) LocalTrack { return t.Video })
}

func (s *Session) toggleTrack(pick func(*LocalTracks) LocalTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks == nil {
		return false
	}
	track := pick(s.tracks)
	if track == nil {
		return false
	}
	track.SetEnabled(!track.Enabled())
	return track.Enabled()
}

// State returns the session's current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ElapsedSeconds reports how long this party has been connected
func (s *Session) ElapsedSeconds() int64 {
	return s.elapsedSecs.Load()
}

func (s *Session) runElapsedCounter() {
	s.mu.Lock()
	stop := s.stopTick
	consultationID := s.consultationID
	s.mu.Unlock()
	if stop == nil {
		return
	}

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n := s.elapsedSecs.Add(1)
			if s.cfg.Presence != nil && n%presenceRefreshEvery == 0 {
				if err := s.cfg.Presence.Refresh(context.Background(), consultationID); err != nil {
					logger.Debug("Presence refresh failed", zap.Error(err))
				}
			}
		}
	}
}

// runEventLoop reacts to room events until the room's channel closes.
//
// A remote party vanishing is not terminal for this client: their media is
// cleared and the session waits for a reconnect. A disconnect of the local
// connection is terminal and requires a re-join.
func (s *Session) runEventLoop(events <-chan Event) {
	for ev := range events {
		switch ev.Type {
		case EventParticipantJoined:
			logger.Info("Remote party joined",
				zap.String("identity", ev.ParticipantIdentity))

		case EventTrackPublished:
			if ev.Track != nil && s.cfg.Callbacks.OnRemoteTrack != nil {
				s.cfg.Callbacks.OnRemoteTrack(*ev.Track)
			}

		case EventTrackUnpublished, EventParticipantLeft:
			if s.cfg.Callbacks.OnRemoteCleared != nil {
				s.cfg.Callbacks.OnRemoteCleared(ev.ParticipantIdentity)
			}

		case EventDominantSpeaker:
			if s.cfg.Callbacks.OnDominantSpeaker != nil {
				s.cfg.Callbacks.OnDominantSpeaker(ev.ParticipantIdentity)
			}

		case EventDisconnected:
			s.onLocalDisconnect(ev.Err)
			return
		}
	}
}

func (s *Session) onLocalDisconnect(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	logger.Warn("Lost room connection",
		zap.String("consultation_id", s.consultationID.String()),
		zap.Error(cause))

	s.teardown(context.Background(), StateErrored)
	s.close(EndReasonError)
}

func (s *Session) failJoin() {
	s.mu.Lock()
	s.state = StateErrored
	// A failed join is retryable with a fresh Session; this one stays dead.
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) notify(notice Notice) {
	if s.cfg.Callbacks.OnNotice != nil {
		s.cfg.Callbacks.OnNotice(notice)
	}
}

func (s *Session) close(reason EndReason) {
	if s.cfg.Callbacks.OnClose != nil {
		s.cfg.Callbacks.OnClose(reason)
	}
}
