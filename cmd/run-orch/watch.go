package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/run-orchestrator/web/api"
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch ENTITY",
		Short: "Follow live events for a run or pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)
}

// wsURL converts the server URL into the WebSocket endpoint for an entity
func wsURL(entityID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws/" + entityID
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	target, err := wsURL(args[0])
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case "snapshot":
			snap := msg.Snapshot
			fmt.Printf("--- %s %s: %s (%d%%) ---\n", snap.EntityType, snap.EntityID, snap.Status, snap.Progress)
			for _, entry := range snap.Logs {
				fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
			}
		case "update":
			ev := msg.Event
			for _, entry := range ev.NewLogs {
				fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message)
			}
			if ev.Status.Terminal() {
				fmt.Printf("--- %s: %s (%d%%) ---\n", strings.ToUpper(string(ev.EntityType)), ev.Status, ev.Progress)
			}
		}
	}
}
