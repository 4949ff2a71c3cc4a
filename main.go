// Police & Thief realtime client: room directory, live session watcher,
// demo broker, and MCP bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"

	"github.com/policethief/realtime/api"
	"github.com/policethief/realtime/config"
	"github.com/policethief/realtime/game/broadcast"
	"github.com/policethief/realtime/game/session"
	"github.com/policethief/realtime/geo"
	"github.com/policethief/realtime/transport/mcp"
	"github.com/policethief/realtime/transport/ws"
)

const (
	appName = "policethief"
	version = "1.0.0"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	cmd := &cli.Command{
		Name:    appName,
		Usage:   "realtime client for the Police & Thief location game",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "include file/line in log output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			roomsCommand(),
			watchCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func roomsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "list game rooms from the directory",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "lat", Usage: "latitude to search around"},
			&cli.Float64Flag{Name: "lon", Usage: "longitude to search around"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var latitude, longitude *float64
			if cmd.IsSet("lat") {
				v := cmd.Float64("lat")
				latitude = &v
			}
			if cmd.IsSet("lon") {
				v := cmd.Float64("lon")
				longitude = &v
			}

			rooms, err := api.NewClient(cfg.DirectoryURL).ListRooms(ctx, latitude, longitude)
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no rooms")
				return nil
			}
			for _, room := range rooms {
				fmt.Printf("[%d] %s (%s) - %d players\n", room.ID, room.Name, room.Location, room.PlayerCount)
			}
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "join a room and stream its live state, sharing a simulated position",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "room", Usage: "room ID to join", Required: true},
			&cli.StringFlag{Name: "nickname", Usage: "display name", Value: "watcher"},
			&cli.Float64Flag{Name: "lat", Usage: "starting latitude for the simulated position", Value: 37.5665},
			&cli.Float64Flag{Name: "lon", Usage: "starting longitude for the simulated position", Value: 126.9780},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runWatch(ctx, cfg, int64(cmd.Int("room")), cmd.String("nickname"), cmd.Float64("lat"), cmd.Float64("lon"))
		},
	}
}

func runWatch(ctx context.Context, cfg config.Config, roomID int64, nickname string, lat, lon float64) error {
	identity, err := session.NewIdentity(nickname)
	if err != nil {
		return err
	}
	log.Printf("joining room %d as %s (player %d)", roomID, identity.Nickname, identity.PlayerID)

	conn := ws.Open(cfg.WSEndpoint, ws.WithReconnectDelay(cfg.ReconnectDelay))
	sess, err := session.Open(roomID, identity, session.NewWSTransport(conn))
	if err != nil {
		conn.Close()
		return err
	}

	// Best effort: room metadata from the directory.
	if room, derr := api.NewClient(cfg.DirectoryURL).GetRoom(ctx, roomID); derr == nil {
		sess.SeedRoom(room.Name, room.Location, room.PlayerCount)
	}

	source := geo.NewSource(geo.NewSimProvider(lat, lon, 0.0005, time.Second))
	scheduler := broadcast.New(sess, source,
		broadcast.WithInterval(cfg.BroadcastInterval),
		broadcast.WithErrorFunc(func(err error) {
			log.Printf("broadcast: %v", err)
		}),
	)

	snapshots, cancelWatch := sess.Watch()
	scheduler.Start()

	// Join once the transport comes up. Joining again after a drop stays a
	// manual decision, so only the never-joined state triggers this.
	joinWhenConnected := func(snap session.Snapshot) {
		if snap.Connection == session.ConnConnected && snap.Membership == session.NotJoined {
			if jerr := sess.RequestJoin(); jerr != nil && !errors.Is(jerr, session.ErrNotConnected) {
				log.Printf("join: %v", jerr)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	teardown := func() error {
		scheduler.Stop()
		source.CancelAll()
		cancelWatch()
		return sess.Close()
	}

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			joinWhenConnected(snap)
			printSnapshot(snap)
		case err := <-sess.Errors():
			log.Printf("session: %v", err)
		case <-sigCh:
			log.Println("shutting down")
			return teardown()
		case <-ctx.Done():
			return teardown()
		}
	}
}

func printSnapshot(snap session.Snapshot) {
	status := fmt.Sprintf("conn=%s membership=%s players=%d", snap.Connection, snap.Membership, snap.Room.PlayerCount)
	if snap.Room.Started {
		status += " started"
	}
	fmt.Println(status)
	for _, p := range snap.Roster {
		line := fmt.Sprintf("  [%d] %s", p.ID, p.Nickname)
		if p.Latitude != nil && p.Longitude != nil {
			line += fmt.Sprintf(" @ %.5f,%.5f", *p.Latitude, *p.Longitude)
		}
		fmt.Println(line)
	}
	if snap.LastTag != nil {
		fmt.Printf("  tag: %d -> %d\n", snap.LastTag.TaggerID, snap.LastTag.TargetID)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the demo broker (room directory + pub/sub endpoint)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			broker := api.NewServer(api.DefaultRooms())
			broker.Start()
			defer broker.Stop()

			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: broker,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("broker listening on %s", cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-sigCh:
			case <-ctx.Done():
			}

			log.Println("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the MCP bridge over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			bridge := mcp.NewBridge(cfg.DirectoryURL, cfg.WSEndpoint)
			defer bridge.Close()

			log.Printf("serving MCP bridge on stdio (directory %s)", cfg.DirectoryURL)
			return mcpserver.ServeStdio(bridge.GetMCPServer())
		},
	}
}
