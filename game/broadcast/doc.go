// Package broadcast drives periodic location reporting for a joined room
// session.
//
// The Scheduler watches the session's snapshot stream. While the local
// player is Joined and the connection is Connected it samples the location
// source on a fixed cadence (default 5s) and calls ReportLocation; the
// moment either condition stops holding, the ticker is cancelled so no
// stale timer ever attempts a report against a non-joined session.
//
// Per-attempt location failures are surfaced through the error callback and
// retried on the next tick. A terminal capability failure (unsupported or
// insecure context) is surfaced once and stops the scheduler for good.
package broadcast
