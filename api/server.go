package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/policethief/realtime/transport/ws"
)

// Server is the demo broker: room directory REST endpoints plus the
// pub/sub WebSocket endpoint, backed by an in-memory membership store.
type Server struct {
	hub    *ws.Hub
	router *mux.Router

	mu    sync.Mutex
	rooms map[int64]*brokerRoom
}

type brokerRoom struct {
	room    Room
	members map[int64]bool
	started bool
}

// DefaultRooms seeds the demo broker's directory.
func DefaultRooms() []Room {
	return []Room{
		{ID: 1, Name: "Gwanghwamun Chase", Location: "Seoul Jongno-gu"},
		{ID: 2, Name: "Han River Run", Location: "Seoul Yeongdeungpo-gu"},
		{ID: 3, Name: "Night Market Tag", Location: "Seoul Mapo-gu"},
	}
}

// NewServer builds a broker seeded with the given rooms. Call Start before
// serving and Stop when done.
func NewServer(seed []Room) *Server {
	s := &Server{
		rooms: make(map[int64]*brokerRoom),
	}
	for _, room := range seed {
		s.rooms[room.ID] = &brokerRoom{room: room, members: make(map[int64]bool)}
	}
	s.hub = ws.NewHub(s.handlePublish)

	s.router = mux.NewRouter()
	s.router.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	s.router.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods("GET")
	s.router.HandleFunc("/rooms/{id}/start", s.handleStartRoom).Methods("POST")
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	return s
}

// Start launches the hub loop.
func (s *Server) Start() {
	go s.hub.Run()
}

// Stop halts the hub and disconnects all clients.
func (s *Server) Stop() {
	s.hub.Stop()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	// latitude/longitude are accepted for forward compatibility; the demo
	// directory has no geo index and returns everything.
	s.mu.Lock()
	rooms := make([]Room, 0, len(s.rooms))
	for _, br := range s.rooms {
		room := br.room
		room.PlayerCount = len(br.members)
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	// Stable order for clients and tests.
	for i := 1; i < len(rooms); i++ {
		for j := i; j > 0 && rooms[j-1].ID > rooms[j].ID; j-- {
			rooms[j-1], rooms[j] = rooms[j], rooms[j-1]
		}
	}
	respondJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	s.mu.Lock()
	br, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		respondError(w, http.StatusNotFound, "room not found")
		return
	}
	room := br.room
	room.PlayerCount = len(br.members)
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleStartRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	s.mu.Lock()
	br, ok := s.rooms[roomID]
	if ok {
		br.started = true
	}
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}

	s.broadcastEvent(roomID, "START", 0, map[string]any{"status": "started"})
	respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handlePublish consumes client publishes from the hub and rebroadcasts
// them as room events, mirroring the production backend's socket
// controller.
func (s *Server) handlePublish(destination string, body []byte) {
	roomID, action, ok := parseDestination(destination)
	if !ok {
		log.Printf("[broker] ignoring publish to %q", destination)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[broker] bad payload on %s: %v", destination, err)
		return
	}

	switch action {
	case "join":
		playerID, ok := numberArg(payload, "playerId")
		if !ok {
			return
		}
		count := s.joinRoom(roomID, playerID)
		s.broadcastEvent(roomID, "JOIN", playerID, map[string]any{
			"nickname":    payload["nickname"],
			"memberCount": count,
		})

	case "leave":
		playerID, ok := numberArg(payload, "playerId")
		if !ok {
			return
		}
		count := s.leaveRoom(roomID, playerID)
		s.broadcastEvent(roomID, "LEAVE", playerID, map[string]any{
			"memberCount": count,
		})

	case "start":
		hostID, ok := numberArg(payload, "hostId")
		if !ok {
			return
		}
		s.mu.Lock()
		if br, exists := s.rooms[roomID]; exists {
			br.started = true
		}
		s.mu.Unlock()
		s.broadcastEvent(roomID, "START", hostID, map[string]any{"status": "started"})

	case "location":
		playerID, ok := numberArg(payload, "playerId")
		if !ok {
			return
		}
		data := map[string]any{
			"latitude":  payload["latitude"],
			"longitude": payload["longitude"],
		}
		if acc, present := payload["accuracy"]; present {
			data["accuracy"] = acc
		}
		s.broadcastEvent(roomID, "LOCATION", playerID, data)

	case "tag":
		taggerID, ok := numberArg(payload, "taggerId")
		if !ok {
			return
		}
		s.broadcastEvent(roomID, "TAG", taggerID, map[string]any{
			"targetId": payload["targetId"],
			"qrCode":   payload["qrCode"],
		})

	default:
		log.Printf("[broker] unknown action %q on room %d", action, roomID)
	}
}

func (s *Server) joinRoom(roomID, playerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.rooms[roomID]
	if !ok {
		// Joining an unlisted room creates it on the fly, like the
		// production membership service.
		br = &brokerRoom{room: Room{ID: roomID}, members: make(map[int64]bool)}
		s.rooms[roomID] = br
	}
	br.members[playerID] = true
	return len(br.members)
}

func (s *Server) leaveRoom(roomID, playerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	delete(br.members, playerID)
	return len(br.members)
}

func (s *Server) broadcastEvent(roomID int64, eventType string, playerID int64, data map[string]any) {
	body, err := json.Marshal(map[string]any{
		"type":      eventType,
		"roomId":    roomID,
		"playerId":  playerID,
		"data":      data,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[broker] marshal %s event: %v", eventType, err)
		return
	}
	s.hub.Broadcast("/topic/game/"+strconv.FormatInt(roomID, 10), body)
}

// parseDestination splits "/app/game/{roomId}/{action}".
func parseDestination(destination string) (roomID int64, action string, ok bool) {
	rest, found := strings.CutPrefix(destination, "/app/game/")
	if !found {
		return 0, "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	roomID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return roomID, parts[1], true
}

func numberArg(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
