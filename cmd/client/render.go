package main

import (
	"fmt"
	"strings"

	"github.com/tdnguyen-dev/numberhunt/internal/game"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

// renderLoop reprints the round view whenever the projection changes in a
// way worth redrawing. Frames dropped by the non-blocking subscription are
// fine; the next snapshot supersedes them.
func renderLoop(client *game.Client) {
	frames := make(chan game.State, 8)
	client.Subscribe("render", frames)
	defer client.Unsubscribe("render")

	var last game.State
	for s := range frames {
		if !dirty(last, s) {
			last = s
			continue
		}
		last = s
		fmt.Print(renderState(s))
	}
}

// dirty reports whether the new snapshot needs a redraw. Per-second timer
// ticks only update the clock line, so they redraw too, but identical
// snapshots are skipped.
func dirty(old, cur game.State) bool {
	if old.Round != cur.Round || old.Provisional != cur.Provisional {
		return true
	}
	if old.PlayersCount != cur.PlayersCount || len(old.Locked) != len(cur.Locked) {
		return true
	}
	return (old.Winner == nil) != (cur.Winner == nil)
}

func renderState(s game.State) string {
	var b strings.Builder
	b.WriteByte('\n')

	if s.Winner != nil {
		fmt.Fprintf(&b, "round over, winner: %s (%d points)\n", s.Winner.Name, s.Winner.Score)
	}

	if !s.Round.Started || s.Round.Completed {
		fmt.Fprintf(&b, "[%d players] score %d, waiting for a round\n", s.PlayersCount, s.Provisional)
		return b.String()
	}

	fmt.Fprintf(&b, "find %d | %s | score %d | %d players\n",
		s.Round.Target, formatTime(s.Round.Timer), s.Provisional, s.PlayersCount)
	b.WriteString(renderGrid(s))
	return b.String()
}

// renderGrid draws the shuffled board as a 10x10 table. Locked cells show
// as ###; cells on wrong-guess cooldown as ...
func renderGrid(s game.State) string {
	var b strings.Builder
	for i, n := range s.Grid {
		switch {
		case s.Locked[n].PlayerID != "":
			b.WriteString(" ###")
		case s.Cooldown[n]:
			b.WriteString(" ...")
		default:
			fmt.Fprintf(&b, " %3d", n)
		}
		if (i+1)%10 == 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func formatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func printBoard(title string, players []protocol.Player) {
	fmt.Println(title + ":")
	if len(players) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i, p := range players {
		fmt.Printf("  %d. %-16s %d\n", i+1, p.Name, p.Score)
	}
}
