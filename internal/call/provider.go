package call

import "context"

// TrackKind distinguishes audio from video tracks
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// LocalTrack is a capture track owned by this client. Stop releases the
// underlying device; SetEnabled mutes/blanks without releasing it.
type LocalTrack interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// LocalTracks bundles the audio and video capture acquired for one session
type LocalTracks struct {
	Audio LocalTrack
	Video LocalTrack
}

// StopAll releases every acquired device. Safe on a partially-acquired bundle.
func (lt *LocalTracks) StopAll() {
	if lt == nil {
		return
	}
	if lt.Audio != nil {
		lt.Audio.Stop()
	}
	if lt.Video != nil {
		lt.Video.Stop()
	}
}

// MediaDevices acquires local audio/video capture
type MediaDevices interface {
	Acquire(ctx context.Context) (*LocalTracks, error)
}

// RemoteTrack is a counterpart's published media as received through the room
type RemoteTrack struct {
	ParticipantIdentity string
	Kind                TrackKind
	SID                 string
}

// EventType enumerates the room events the orchestrator reacts to
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventTrackPublished    EventType = "track_published"
	EventTrackUnpublished  EventType = "track_unpublished"
	EventDominantSpeaker   EventType = "dominant_speaker"
	EventDisconnected      EventType = "disconnected"
)

// Event is a room notification delivered asynchronously after connect.
// Track is set for the track events; Err only for EventDisconnected.
type Event struct {
	Type                EventType
	ParticipantIdentity string
	Track               *RemoteTrack
	Err                 error
}

// Room is a live connection to one provider-hosted media room
type Room interface {
	// Events delivers room notifications in arrival order. The channel is
	// closed after an EventDisconnected is delivered or Disconnect is called.
	Events() <-chan Event
	Disconnect() error
}

// RoomProvider joins provider-hosted media rooms. The token must be scoped
// to exactly the (identity, room) pair being joined.
type RoomProvider interface {
	Connect(ctx context.Context, roomName, token string, tracks *LocalTracks) (Room, error)
}

// TokenSource obtains a short-lived room grant for an identity/room pair
type TokenSource interface {
	FetchToken(ctx context.Context, identity, roomName string) (string, error)
}
