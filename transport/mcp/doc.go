// Package mcp exposes the realtime game client over the Model Context
// Protocol.
//
// The mcp package implements:
//   - MCP server bridging tools to the room directory and live sessions
//   - A per-room session registry (one live session per room)
//   - Stdio transport via the mcp-go server
//
// MCP Tools:
//
// The package exposes the following tools for AI agents:
//   - list_rooms: List game rooms near a position
//   - get_room: Get one room's details
//   - open_session: Open a live session into a room
//   - join_room: Request to join the room's roster
//   - leave_room: Leave the roster
//   - start_game: Start the game
//   - report_location: Publish a position to the room
//   - report_tag: Report tagging another player
//   - get_snapshot: Get the session's current state
//   - close_session: Tear the session down
package mcp
