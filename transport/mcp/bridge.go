package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/policethief/realtime/api"
	"github.com/policethief/realtime/game/session"
	"github.com/policethief/realtime/geo"
	"github.com/policethief/realtime/transport/ws"
	"github.com/policethief/realtime/validate"
)

// Bridge exposes the room directory and live sessions as MCP tools
type Bridge struct {
	directory  *api.Client
	wsEndpoint string
	mcpServer  *server.MCPServer

	mu       sync.Mutex
	sessions map[int64]*liveSession
}

type liveSession struct {
	conn    *ws.Conn
	session *session.Session
}

// NewBridge creates an MCP bridge against a room directory and a pub/sub
// WebSocket endpoint
func NewBridge(directoryURL, wsEndpoint string) *Bridge {
	b := &Bridge{
		directory:  api.NewClient(directoryURL),
		wsEndpoint: wsEndpoint,
		sessions:   make(map[int64]*liveSession),
	}

	b.initMCPServer()
	return b
}

// initMCPServer initializes the MCP server with all tools
func (b *Bridge) initMCPServer() {
	b.mcpServer = server.NewMCPServer(
		"Police & Thief Realtime",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Police & Thief - realtime session interface

Browse nearby game rooms, open a live session into a room, and drive it:
join, share locations, tag players, start the game, and watch the roster
update in real time.

AVAILABLE TOOLS:
- list_rooms: List game rooms near a position
- get_room: Get one room's details
- open_session: Open a live session into a room (one per room)
- join_room: Request to join the room's roster
- leave_room: Leave the roster
- start_game: Start the game (host action)
- report_location: Publish your current position to the room
- report_tag: Report tagging another player via their QR code
- get_snapshot: Get the session's current state (roster, room, connection)
- close_session: Tear the session down

Open a session before calling the per-room tools. join_room must succeed
before report_location or report_tag will be accepted.`),
	)

	b.registerTools()
}

// GetMCPServer returns the underlying MCP server for serving
func (b *Bridge) GetMCPServer() *server.MCPServer {
	return b.mcpServer
}

// Close tears down every open session
func (b *Bridge) Close() {
	b.mu.Lock()
	live := make([]*liveSession, 0, len(b.sessions))
	for _, ls := range b.sessions {
		live = append(live, ls)
	}
	b.sessions = make(map[int64]*liveSession)
	b.mu.Unlock()

	for _, ls := range live {
		ls.session.Close()
	}
}

// registerTools registers all MCP tools
func (b *Bridge) registerTools() {
	roomIDProp := map[string]interface{}{
		"type":        "number",
		"description": "Room ID",
	}

	// Directory
	b.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List game rooms, optionally near a latitude/longitude",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Latitude to search around (optional)",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Longitude to search around (optional)",
				},
			},
		},
	}, b.handleListRooms)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "get_room",
		Description: "Get details of a single room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleGetRoom)

	// Session lifecycle
	b.mcpServer.AddTool(mcp.Tool{
		Name:        "open_session",
		Description: "Open a live session into a room with the given nickname",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
				"nickname": map[string]interface{}{
					"type":        "string",
					"description": "Display name for this player (max 32 chars)",
				},
			},
			Required: []string{"room_id", "nickname"},
		},
	}, b.handleOpenSession)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "close_session",
		Description: "Close the live session for a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleCloseSession)

	// Room actions
	b.mcpServer.AddTool(mcp.Tool{
		Name:        "join_room",
		Description: "Request to join the room's roster",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleJoinRoom)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_room",
		Description: "Leave the room's roster",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleLeaveRoom)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "start_game",
		Description: "Start the game in a room you have joined",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleStartGame)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "report_location",
		Description: "Publish your current position to the room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Latitude in decimal degrees",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Longitude in decimal degrees",
				},
				"accuracy": map[string]interface{}{
					"type":        "number",
					"description": "Accuracy in meters (optional)",
				},
			},
			Required: []string{"room_id", "latitude", "longitude"},
		},
	}, b.handleReportLocation)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "report_tag",
		Description: "Report tagging another player via their QR code",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
				"target_id": map[string]interface{}{
					"type":        "number",
					"description": "Player ID of the tagged player",
				},
				"qr_code": map[string]interface{}{
					"type":        "string",
					"description": "QR code scanned from the tagged player",
				},
			},
			Required: []string{"room_id", "target_id", "qr_code"},
		},
	}, b.handleReportTag)

	b.mcpServer.AddTool(mcp.Tool{
		Name:        "get_snapshot",
		Description: "Get the session's current state: connection, membership, room, roster",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": roomIDProp,
			},
			Required: []string{"room_id"},
		},
	}, b.handleGetSnapshot)
}

func (b *Bridge) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})

	var latitude, longitude *float64
	if v, ok := args["latitude"].(float64); ok {
		latitude = &v
	}
	if v, ok := args["longitude"].(float64); ok {
		longitude = &v
	}

	rooms, err := b.directory.ListRooms(ctx, latitude, longitude)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(rooms) == 0 {
		return mcp.NewToolResultText("No rooms found."), nil
	}
	result := fmt.Sprintf("Found %d rooms:\n", len(rooms))
	for _, room := range rooms {
		result += fmt.Sprintf("- [%d] %s (%s) - %d players\n", room.ID, room.Name, room.Location, room.PlayerCount)
	}
	return mcp.NewToolResultText(result), nil
}

func (b *Bridge) handleGetRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := roomIDArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	room, err := b.directory.GetRoom(ctx, roomID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Room %d: %s\nLocation: %s\nPlayers: %d\n", room.ID, room.Name, room.Location, room.PlayerCount)
	return mcp.NewToolResultText(result), nil
}

func (b *Bridge) handleOpenSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})

	roomID, err := roomIDArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nickname, _ := args["nickname"].(string)

	b.mu.Lock()
	if _, exists := b.sessions[roomID]; exists {
		b.mu.Unlock()
		return mcp.NewToolResultError(fmt.Sprintf("session for room %d is already open", roomID)), nil
	}
	b.mu.Unlock()

	identity, err := session.NewIdentity(nickname)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conn := ws.Open(b.wsEndpoint)
	sess, err := session.Open(roomID, identity, session.NewWSTransport(conn))
	if err != nil {
		conn.Close()
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Seed room metadata from the directory when it knows the room.
	if room, derr := b.directory.GetRoom(ctx, roomID); derr == nil {
		sess.SeedRoom(room.Name, room.Location, room.PlayerCount)
	}

	b.mu.Lock()
	if _, exists := b.sessions[roomID]; exists {
		b.mu.Unlock()
		sess.Close()
		return mcp.NewToolResultError(fmt.Sprintf("session for room %d is already open", roomID)), nil
	}
	b.sessions[roomID] = &liveSession{conn: conn, session: sess}
	b.mu.Unlock()

	result := fmt.Sprintf("Opened session for room %d\nPlayer ID: %d\nNickname: %s\n", roomID, identity.PlayerID, identity.Nickname)
	return mcp.NewToolResultText(result), nil
}

func (b *Bridge) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := roomIDArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	b.mu.Lock()
	ls, ok := b.sessions[roomID]
	delete(b.sessions, roomID)
	b.mu.Unlock()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no open session for room %d", roomID)), nil
	}

	if err := ls.session.Close(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Closed session for room %d\n", roomID)), nil
}

func (b *Bridge) handleJoinRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := sess.RequestJoin(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Join requested. Check get_snapshot for membership confirmation.\n"), nil
}

func (b *Bridge) handleLeaveRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := sess.RequestLeave(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Leave requested.\n"), nil
}

func (b *Bridge) handleStartGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}
	if err := sess.RequestStart(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Start requested.\n"), nil
}

func (b *Bridge) handleReportLocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})

	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}

	latitude, ok := args["latitude"].(float64)
	if !ok {
		return mcp.NewToolResultError("latitude is required"), nil
	}
	longitude, ok := args["longitude"].(float64)
	if !ok {
		return mcp.NewToolResultError("longitude is required"), nil
	}
	if err := validate.Coordinate(latitude, longitude); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	coords := geo.Coordinates{Latitude: latitude, Longitude: longitude}
	if acc, present := args["accuracy"].(float64); present {
		coords.Accuracy = &acc
	}

	if err := sess.ReportLocation(coords); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reported location %.6f,%.6f\n", latitude, longitude)), nil
}

func (b *Bridge) handleReportTag(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})

	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}

	targetID, ok := args["target_id"].(float64)
	if !ok {
		return mcp.NewToolResultError("target_id is required"), nil
	}
	qrCode, _ := args["qr_code"].(string)
	if qrCode == "" {
		return mcp.NewToolResultError("qr_code is required"), nil
	}

	if err := sess.ReportTag(int64(targetID), qrCode); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reported tag of player %d\n", int64(targetID))), nil
}

func (b *Bridge) handleGetSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := b.lookupSession(request)
	if errResult != nil {
		return errResult, nil
	}

	snap := sess.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// lookupSession resolves room_id to an open session, or returns a tool
// error result to hand back to the caller.
func (b *Bridge) lookupSession(request mcp.CallToolRequest) (*session.Session, *mcp.CallToolResult) {
	roomID, err := roomIDArg(request)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}

	b.mu.Lock()
	ls, ok := b.sessions[roomID]
	b.mu.Unlock()
	if !ok {
		return nil, mcp.NewToolResultError(fmt.Sprintf("no open session for room %d; call open_session first", roomID))
	}
	return ls.session, nil
}

func roomIDArg(request mcp.CallToolRequest) (int64, error) {
	args := request.Params.Arguments.(map[string]interface{})
	v, ok := args["room_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("room_id is required")
	}
	return int64(v), nil
}
