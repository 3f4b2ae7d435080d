package main

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/meshroom/internal/mesh"
	"github.com/1ureka/meshroom/internal/session"
	"github.com/1ureka/meshroom/internal/util"
)

// announceRoom prints the room id so it can be shared with others.
func announceRoom(sess *session.Session) {
	title := "Joining room"
	if sess.Hosting() {
		title = "Hosting room (share this id)"
	}
	pterm.DefaultBox.WithTitle(title).Println(string(sess.RoomID()))
	pterm.Println()
}

// watchRegistry logs every remote participant change and redraws the peer
// table.
func watchRegistry(sess *session.Session) {
	reg := sess.Registry()
	reg.OnChange(func(c mesh.Change) {
		switch {
		case c.Removed:
			util.LogInfo("participant %s left", c.ID)
		case c.Entry.Loading:
			util.LogInfo("participant %s connecting…", c.ID)
		default:
			util.LogSuccess("participant %s live (%s)", c.ID, c.Entry.Stream.Kinds())
		}
		renderPeers(reg)
	})
}

func renderPeers(reg *mesh.Registry) {
	snap := reg.Snapshot()
	if len(snap) == 0 {
		return
	}

	data := pterm.TableData{{"Participant", "Status", "Media"}}
	for _, id := range reg.IDs() {
		e, ok := snap[id]
		if !ok {
			continue
		}
		status, kinds := "loading", "-"
		if !e.Loading && e.Stream != nil {
			status, kinds = "live", e.Stream.Kinds()
		}
		data = append(data, []string{id.String(), status, kinds})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		util.LogDebug("%v", fmt.Errorf("render peer table: %w", err))
	}
}
