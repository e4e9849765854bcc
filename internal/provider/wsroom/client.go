// Package wsroom implements the media-room provider contract against the
// websocket room gateway. It handles the join handshake, announces local
// tracks, and translates gateway wire events into orchestrator events.
package wsroom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teleclinic-backend/internal/call"
	"teleclinic-backend/internal/handler/ws"
	"teleclinic-backend/pkg/logger"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pongWait     = 90 * time.Second
)

// Provider dials the room gateway. Implements call.RoomProvider.
type Provider struct {
	gatewayURL string
	dialer     *websocket.Dialer
}

// NewProvider creates a provider against the given gateway base URL
// (e.g. "wss://gateway.example.com").
func NewProvider(gatewayURL string) *Provider {
	return &Provider{
		gatewayURL: gatewayURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
	}
}

// Connect joins the named room with the given grant and announces the local
// tracks. The returned room delivers gateway events until disconnect.
func (p *Provider) Connect(ctx context.Context, roomName, token string, tracks *call.LocalTracks) (call.Room, error) {
	endpoint, err := url.Parse(p.gatewayURL + "/ws/room")
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("token", token)
	endpoint.RawQuery = q.Encode()

	conn, _, err := p.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial room gateway: %w", err)
	}

	room := &gatewayRoom{
		conn:   conn,
		name:   roomName,
		events: make(chan call.Event, 16),
	}

	if err := room.announceTracks(tracks); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to announce local tracks: %w", err)
	}

	go room.readLoop()

	return room, nil
}

// gatewayRoom is one live connection to a gateway room
type gatewayRoom struct {
	conn   *websocket.Conn
	name   string
	events chan call.Event

	mu     sync.Mutex
	closed bool
}

func (r *gatewayRoom) Events() <-chan call.Event {
	return r.events
}

// Disconnect closes the gateway connection. The hub announces the departure
// to the remaining participant.
func (r *gatewayRoom) Disconnect() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	return r.conn.Close()
}

// announceTracks publishes the local capture tracks so the counterpart can
// attach them as they arrive
func (r *gatewayRoom) announceTracks(tracks *call.LocalTracks) error {
	if tracks == nil {
		return nil
	}
	for i, track := range []call.LocalTrack{tracks.Audio, tracks.Video} {
		if track == nil {
			continue
		}
		event := ws.RoomEvent{
			Type: ws.RoomEventTrackPublished,
			Track: &ws.RoomTrack{
				SID:  fmt.Sprintf("%s-%d", track.Kind(), i),
				Kind: string(track.Kind()),
			},
		}
		if err := r.writeJSON(&event); err != nil {
			return err
		}
	}
	return nil
}

func (r *gatewayRoom) writeJSON(event *ws.RoomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("room is disconnected")
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return r.conn.WriteJSON(event)
}

// readLoop translates gateway wire events into orchestrator events until
// the connection dies
func (r *gatewayRoom) readLoop() {
	defer close(r.events)

	r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPingHandler(func(appData string) error {
		r.conn.SetReadDeadline(time.Now().Add(pongWait))
		deadline := time.Now().Add(writeTimeout)
		return r.conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			wasClosed := r.closed
			r.mu.Unlock()
			if !wasClosed {
				r.events <- call.Event{Type: call.EventDisconnected, Err: err}
			}
			return
		}

		var wire ws.RoomEvent
		if err := json.Unmarshal(message, &wire); err != nil {
			logger.Warn("Malformed gateway event",
				zap.String("room", r.name),
				zap.Error(err))
			continue
		}

		event, ok := translate(&wire)
		if !ok {
			continue
		}

		select {
		case r.events <- event:
		default:
			// A stalled consumer sheds events rather than blocking reads
			logger.Warn("Dropping room event for slow consumer",
				zap.String("room", r.name),
				zap.String("type", string(event.Type)))
		}
	}
}

func translate(wire *ws.RoomEvent) (call.Event, bool) {
	switch wire.Type {
	case ws.RoomEventParticipantJoined:
		return call.Event{
			Type:                call.EventParticipantJoined,
			ParticipantIdentity: wire.Participant,
		}, true

	case ws.RoomEventParticipantLeft:
		return call.Event{
			Type:                call.EventParticipantLeft,
			ParticipantIdentity: wire.Participant,
		}, true

	case ws.RoomEventTrackPublished:
		if wire.Track == nil {
			return call.Event{}, false
		}
		return call.Event{
			Type:                call.EventTrackPublished,
			ParticipantIdentity: wire.Participant,
			Track: &call.RemoteTrack{
				ParticipantIdentity: wire.Participant,
				Kind:                call.TrackKind(wire.Track.Kind),
				SID:                 wire.Track.SID,
			},
		}, true

	case ws.RoomEventTrackUnpublished:
		return call.Event{
			Type:                call.EventTrackUnpublished,
			ParticipantIdentity: wire.Participant,
		}, true

	case ws.RoomEventDominantSpeaker:
		return call.Event{
			Type:                call.EventDominantSpeaker,
			ParticipantIdentity: wire.Participant,
		}, true
	}

	return call.Event{}, false
}
