package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleclinic-backend/internal/domain"
	apperrors "teleclinic-backend/pkg/errors"
)

type fakeTokenSource struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeTokenSource) FetchToken(_ context.Context, identity, roomName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, identity+"@"+roomName)
	if f.err != nil {
		return "", f.err
	}
	return "grant-" + roomName, nil
}

type fakeTrack struct {
	mu      sync.Mutex
	kind    TrackKind
	enabled bool
	stopped bool
}

func (f *fakeTrack) Kind() TrackKind { return f.kind }

func (f *fakeTrack) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTrack) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeDevices struct {
	err    error
	audio  *fakeTrack
	video  *fakeTrack
	called bool
}

func (f *fakeDevices) Acquire(_ context.Context) (*LocalTracks, error) {
	f.called = true
	if f.err != nil {
		return nil, f.err
	}
	f.audio = &fakeTrack{kind: TrackKindAudio, enabled: true}
	f.video = &fakeTrack{kind: TrackKindVideo, enabled: true}
	return &LocalTracks{Audio: f.audio, Video: f.video}, nil
}

type fakeRoom struct {
	mu           sync.Mutex
	events       chan Event
	disconnected bool
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{events: make(chan Event, 16)}
}

func (f *fakeRoom) Events() <-chan Event { return f.events }

func (f *fakeRoom) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.disconnected {
		f.disconnected = true
		close(f.events)
	}
	return nil
}

func (f *fakeRoom) Disconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// dropConnection simulates the provider-side connection dying
func (f *fakeRoom) dropConnection(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events <- Event{Type: EventDisconnected, Err: err}
	close(f.events)
	f.disconnected = true
}

type fakeProvider struct {
	err      error
	room     *fakeRoom
	connects int
}

func (f *fakeProvider) Connect(_ context.Context, _, _ string, _ *LocalTracks) (Room, error) {
	f.connects++
	if f.err != nil {
		return nil, f.err
	}
	return f.room, nil
}

type fakeStore struct {
	mu          sync.Mutex
	err         error
	transitions []domain.ConsultationStatus
}

func (f *fakeStore) RequestTransition(_ context.Context, _ uuid.UUID, target domain.ConsultationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.transitions = append(f.transitions, target)
	return nil
}

func (f *fakeStore) Transitions() []domain.ConsultationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConsultationStatus(nil), f.transitions...)
}

// timerControl captures armed deadlines so tests fire them on demand
type timerControl struct {
	mu    sync.Mutex
	armed []struct {
		delay time.Duration
		fire  func()
	}
}

func (tc *timerControl) afterFunc(d time.Duration, f func()) *time.Timer {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.armed = append(tc.armed, struct {
		delay time.Duration
		fire  func()
	}{d, f})
	return time.NewTimer(24 * time.Hour)
}

func (tc *timerControl) fire(i int) {
	tc.mu.Lock()
	entry := tc.armed[i]
	tc.mu.Unlock()
	entry.fire()
}

func (tc *timerControl) count() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.armed)
}

func (tc *timerControl) delay(i int) time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.armed[i].delay
}

type sessionFixture struct {
	session  *Session
	tokens   *fakeTokenSource
	devices  *fakeDevices
	provider *fakeProvider
	room     *fakeRoom
	store    *fakeStore
	timers   *timerControl
	notices  chan Notice
	closes   chan EndReason
	remotes  chan RemoteTrack
	cleared  chan string
}

func newFixture() *sessionFixture {
	fx := &sessionFixture{
		tokens:   &fakeTokenSource{},
		devices:  &fakeDevices{},
		provider: &fakeProvider{room: newFakeRoom()},
		store:    &fakeStore{},
		timers:   &timerControl{},
		notices:  make(chan Notice, 8),
		closes:   make(chan EndReason, 8),
		remotes:  make(chan RemoteTrack, 8),
		cleared:  make(chan string, 8),
	}
	fx.room = fx.provider.room

	fx.session = NewSession(Config{
		Tokens:   fx.tokens,
		Devices:  fx.devices,
		Provider: fx.provider,
		Store:    fx.store,
		Callbacks: Callbacks{
			OnNotice:        func(n Notice) { fx.notices <- n },
			OnClose:         func(r EndReason) { fx.closes <- r },
			OnRemoteTrack:   func(t RemoteTrack) { fx.remotes <- t },
			OnRemoteCleared: func(id string) { fx.cleared <- id },
		},
	})
	fx.session.afterFunc = fx.timers.afterFunc
	return fx
}

func testConsultation(durationMins int) *domain.Consultation {
	id := uuid.New()
	return &domain.Consultation{
		ID:           id,
		DoctorID:     uuid.New(),
		PatientID:    uuid.New(),
		ScheduledAt:  time.Now(),
		DurationMins: durationMins,
		RoomName:     domain.DeriveRoomName(id),
		Status:       domain.StatusScheduled,
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		panic("unreachable")
	}
}

func TestJoin_ConnectsWithoutStatusWrite(t *testing.T) {
	fx := newFixture()
	c := testConsultation(30)
	userID := uuid.New()

	err := fx.session.Join(context.Background(), c, domain.RoleDoctor, userID)
	require.NoError(t, err)

	assert.Equal(t, StateConnected, fx.session.State())
	assert.Equal(t, []string{
		domain.ParticipantIdentity(domain.RoleDoctor, userID) + "@" + c.RoomName,
	}, fx.tokens.calls)

	// A join alone never touches the persisted status
	assert.Empty(t, fx.store.Transitions())
}

func TestJoin_TokenFailureIsRetryableAndDistinct(t *testing.T) {
	fx := newFixture()
	fx.tokens.err = errors.New("issuer down")

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RolePatient, uuid.New())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeToken))
	assert.Equal(t, StateErrored, fx.session.State())
	// The join aborted before touching devices or the provider
	assert.False(t, fx.devices.called)
	assert.Zero(t, fx.provider.connects)
	assert.Empty(t, fx.store.Transitions())
}

func TestJoin_MediaFailureIsDistinctFromToken(t *testing.T) {
	fx := newFixture()
	fx.devices.err = errors.New("permission denied")

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMedia))
	assert.Equal(t, StateErrored, fx.session.State())
	assert.Zero(t, fx.provider.connects)
}

func TestJoin_RoomConnectFailureReleasesDevices(t *testing.T) {
	fx := newFixture()
	fx.provider.err = errors.New("gateway unreachable")

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRoomConnect))
	assert.True(t, fx.devices.audio.Stopped())
	assert.True(t, fx.devices.video.Stopped())
}

func TestDeadlines_WarningThenForcedAutoEnd(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	// Warning armed one minute before the nominal 30-minute end
	require.Equal(t, 1, fx.timers.count())
	assert.Equal(t, 29*time.Minute, fx.timers.delay(0))

	fx.timers.fire(0)
	assert.Equal(t, StateWarning, fx.session.State())
	assert.Equal(t, NoticeEndingSoon, recv(t, fx.notices).Kind)

	// Final deadline armed 60 seconds after the warning
	require.Equal(t, 2, fx.timers.count())
	assert.Equal(t, time.Minute, fx.timers.delay(1))

	fx.timers.fire(1)
	assert.Equal(t, StateEnded, fx.session.State())
	assert.Equal(t, NoticeTimeUp, recv(t, fx.notices).Kind)
	assert.Equal(t, EndReasonAuto, recv(t, fx.closes))
	assert.Equal(t, []domain.ConsultationStatus{domain.StatusCompleted}, fx.store.Transitions())
	assert.True(t, fx.room.Disconnected())
	assert.True(t, fx.devices.audio.Stopped())
}

func TestEnd_ManualEndCancelsPendingDeadlines(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	require.NoError(t, fx.session.End(context.Background(), false))

	assert.Equal(t, NoticeCallEnded, recv(t, fx.notices).Kind)
	assert.Equal(t, EndReasonManual, recv(t, fx.closes))
	assert.Equal(t, []domain.ConsultationStatus{domain.StatusCompleted}, fx.store.Transitions())

	// A late warning fire is a no-op: no notice, no second transition
	fx.timers.fire(0)
	assert.Equal(t, StateEnded, fx.session.State())
	select {
	case n := <-fx.notices:
		t.Fatalf("unexpected notice after end: %v", n.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []domain.ConsultationStatus{domain.StatusCompleted}, fx.store.Transitions())
}

func TestEnd_TeardownCompletesDespiteStoreFailure(t *testing.T) {
	fx := newFixture()
	fx.store.err = errors.New("session store down")

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	err = fx.session.End(context.Background(), false)
	assert.Error(t, err)

	// The user is out of the call regardless of the failed status write
	assert.True(t, fx.devices.audio.Stopped())
	assert.True(t, fx.devices.video.Stopped())
	assert.True(t, fx.room.Disconnected())
	assert.Equal(t, EndReasonManual, recv(t, fx.closes))
}

func TestEnd_SecondEndIsNoOp(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	require.NoError(t, fx.session.End(context.Background(), false))
	require.NoError(t, fx.session.End(context.Background(), false))

	assert.Equal(t, []domain.ConsultationStatus{domain.StatusCompleted}, fx.store.Transitions())
	assert.Equal(t, EndReasonManual, recv(t, fx.closes))
	select {
	case r := <-fx.closes:
		t.Fatalf("close fired twice: %v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnd_BeforeJoinIsRejected(t *testing.T) {
	fx := newFixture()

	err := fx.session.End(context.Background(), false)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))

	// Nothing to tear down, nothing to complete, session still usable
	assert.Equal(t, StateIdle, fx.session.State())
	assert.Empty(t, fx.store.Transitions())
	select {
	case r := <-fx.closes:
		t.Fatalf("close fired for a session that never joined: %v", r)
	case <-time.After(50 * time.Millisecond):
	}

	fx.session.Leave(context.Background())
	assert.Equal(t, StateIdle, fx.session.State())

	require.NoError(t, fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New()))
	assert.Equal(t, StateConnected, fx.session.State())
}

func TestRemoteParty_AttachAndDisconnectIsNotTerminal(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	remoteIdentity := domain.ParticipantIdentity(domain.RolePatient, uuid.New())
	fx.room.events <- Event{Type: EventParticipantJoined, ParticipantIdentity: remoteIdentity}
	fx.room.events <- Event{
		Type:                EventTrackPublished,
		ParticipantIdentity: remoteIdentity,
		Track:               &RemoteTrack{ParticipantIdentity: remoteIdentity, Kind: TrackKindVideo},
	}

	attached := recv(t, fx.remotes)
	assert.Equal(t, remoteIdentity, attached.ParticipantIdentity)

	// Remote drops abruptly: their media clears, we keep waiting
	fx.room.events <- Event{Type: EventParticipantLeft, ParticipantIdentity: remoteIdentity}
	assert.Equal(t, remoteIdentity, recv(t, fx.cleared))
	assert.Equal(t, StateConnected, fx.session.State())
	assert.Empty(t, fx.store.Transitions())
}

func TestLocalDisconnect_IsTerminalWithoutStatusWrite(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	fx.room.dropConnection(errors.New("network drop"))

	assert.Equal(t, EndReasonError, recv(t, fx.closes))
	assert.Equal(t, StateErrored, fx.session.State())
	assert.True(t, fx.devices.audio.Stopped())
	assert.Empty(t, fx.store.Transitions())
}

func TestLeave_TearsDownWithoutCompleting(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	fx.session.Leave(context.Background())

	assert.Equal(t, EndReasonLeft, recv(t, fx.closes))
	assert.True(t, fx.devices.audio.Stopped())
	assert.True(t, fx.room.Disconnected())
	assert.Empty(t, fx.store.Transitions())
}

func TestToggleMuteAndCamera(t *testing.T) {
	fx := newFixture()

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	assert.False(t, fx.session.ToggleMute())
	assert.True(t, fx.session.ToggleMute())
	assert.False(t, fx.session.ToggleCamera())
	assert.False(t, fx.devices.video.Enabled())
	assert.True(t, fx.devices.audio.Enabled())
}

func TestJoin_RejectsSecondJoinOnSameSession(t *testing.T) {
	fx := newFixture()
	c := testConsultation(30)

	require.NoError(t, fx.session.Join(context.Background(), c, domain.RoleDoctor, uuid.New()))

	err := fx.session.Join(context.Background(), c, domain.RoleDoctor, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	assert.Equal(t, 1, fx.provider.connects)
}

func TestElapsedCounter(t *testing.T) {
	fx := newFixture()
	fx.session.tickEvery = 5 * time.Millisecond

	err := fx.session.Join(context.Background(), testConsultation(30), domain.RoleDoctor, uuid.New())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return fx.session.ElapsedSeconds() >= 3
	}, time.Second, 5*time.Millisecond)

	fx.session.Leave(context.Background())
}
