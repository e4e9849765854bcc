package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teleclinic-backend/internal/service/token"
	"teleclinic-backend/pkg/constants"
	"teleclinic-backend/pkg/logger"
)

// RoomEvent types on the room gateway wire. The client orchestrator maps
// these onto its own event model.
const (
	RoomEventParticipantJoined = "participant_joined"
	RoomEventParticipantLeft   = "participant_left"
	RoomEventTrackPublished    = "track_published"
	RoomEventTrackUnpublished  = "track_unpublished"
	RoomEventDominantSpeaker   = "dominant_speaker"
)

// RoomEvent is one gateway wire message
type RoomEvent struct {
	Type        string     `json:"type"`
	Room        string     `json:"room"`
	Participant string     `json:"participant,omitempty"`
	Track       *RoomTrack `json:"track,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RoomTrack describes a published media track on the wire
type RoomTrack struct {
	SID  string `json:"sid"`
	Kind string `json:"kind"`
}

// RoomHub relays room events between the participants of each media room.
// Rooms are keyed by room name; a participant enters by presenting a room
// grant scoped to exactly that room. Cross-instance fan-out goes through
// Redis Pub/Sub so both parties may land on different gateway replicas.
type RoomHub struct {
	rooms map[string]map[*RoomClient]bool

	subscriptionCancels map[string]context.CancelFunc

	redisClient *redis.Client

	tokens *token.Service

	mu sync.RWMutex

	register   chan *RoomClient
	unregister chan *RoomClient
	broadcast  chan *RoomEvent

	maxConnections int
	semaphore      chan struct{}
}

// RoomClient is one connected participant
type RoomClient struct {
	hub      *RoomHub
	conn     *websocket.Conn
	send     chan []byte
	identity string
	room     string
	ctx      context.Context
	cancel   context.CancelFunc
}

var roomUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for allowed := range GetAllowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// GetAllowedOrigins returns the origin allowlist for websocket upgrades
func GetAllowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}
	return allowed
}

// NewRoomHub creates a new room hub
func NewRoomHub(redisClient *redis.Client, tokens *token.Service) *RoomHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_ROOM_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &RoomHub{
		rooms:               make(map[string]map[*RoomClient]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		tokens:              tokens,
		register:            make(chan *RoomClient),
		unregister:          make(chan *RoomClient),
		broadcast:           make(chan *RoomEvent, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *RoomHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*RoomClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.room] = cancel

				go h.subscribeToRoom(ctx, client.room)
			}
			h.rooms[client.room][client] = true
			h.mu.Unlock()

			h.publish(&RoomEvent{
				Type:        RoomEventParticipantJoined,
				Room:        client.room,
				Participant: client.identity,
				Timestamp:   time.Now(),
			})

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if clients, ok := h.rooms[client.room]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()
					removed = true

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.room]; ok {
							cancel()
							delete(h.subscriptionCancels, client.room)
						}
						delete(h.rooms, client.room)
					}
				}
			}
			h.mu.Unlock()

			if removed {
				h.publish(&RoomEvent{
					Type:        RoomEventParticipantLeft,
					Room:        client.room,
					Participant: client.identity,
					Timestamp:   time.Now(),
				})
			}

		case event := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.rooms[event.Room]; ok {
				eventJSON, _ := json.Marshal(event)

				// Fan out to everyone but the originator: a participant
				// already knows about its own tracks
				for client := range clients {
					if client.identity == event.Participant {
						continue
					}
					select {
					case client.send <- eventJSON:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// publish pushes an event onto the room's Redis channel so every gateway
// replica (including this one) fans it out to its local participants
func (h *RoomHub) publish(event *RoomEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.redisClient.Publish(ctx, roomChannel(event.Room), payload).Err(); err != nil {
		logger.Warn("Failed to publish room event",
			zap.String("room", event.Room),
			zap.String("type", event.Type),
			zap.Error(err))
		// Degrade to local-only fan-out
		select {
		case h.broadcast <- event:
		default:
		}
	}
}

// subscribeToRoom subscribes to Redis Pub/Sub for one room
func (h *RoomHub) subscribeToRoom(ctx context.Context, room string) {
	pubsub := h.redisClient.Subscribe(ctx, roomChannel(room))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to room channel",
			zap.String("room", room),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var event RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Failed to unmarshal room event",
					zap.String("room", room),
					zap.Error(err))
				continue
			}

			h.broadcast <- &event
		}
	}
}

func roomChannel(room string) string {
	return fmt.Sprintf("room:%s", room)
}

// ServeWS upgrades a participant's connection into a room. The room grant
// arrives as a query parameter; the room joined is always the grant's room,
// never a client-chosen one.
func (h *RoomHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("Room connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	grant := c.Query("token")
	if grant == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "room token required"})
		return
	}

	claims, err := h.tokens.ValidateRoomToken(grant)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid room token"})
		return
	}

	conn, err := roomUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Room upgrade failed",
			zap.String("room", claims.Room),
			zap.String("identity", claims.Identity),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RoomClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: claims.Identity,
		room:     claims.Room,
		ctx:      ctx,
		cancel:   cancel,
	}

	client.hub.register <- client

	go client.writePump()
	client.readPump()
}

// readPump reads track/speaker events published by this participant
func (c *RoomClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("Room connection closed",
					zap.String("room", c.room),
					zap.String("identity", c.identity),
					zap.Error(err))
			}
			break
		}

		var event RoomEvent
		if err := json.Unmarshal(message, &event); err != nil {
			logger.Warn("Invalid room event from participant",
				zap.String("room", c.room),
				zap.String("identity", c.identity),
				zap.Error(err))
			continue
		}

		switch event.Type {
		case RoomEventTrackPublished, RoomEventTrackUnpublished, RoomEventDominantSpeaker:
		default:
			// Join/leave are hub-originated; clients cannot forge them
			continue
		}

		// Identity and room come from the grant, never from the payload
		event.Participant = c.identity
		event.Room = c.room
		event.Timestamp = time.Now()

		c.hub.publish(&event)
	}
}

// writePump writes events to the participant
func (c *RoomClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
