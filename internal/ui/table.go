package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AsafMeizner/reels-battle/internal/peer"
	"github.com/AsafMeizner/reels-battle/internal/protocol"
	"github.com/AsafMeizner/reels-battle/internal/session"
)

// RosterView renders the room's role map. The local participant is highlighted.
func RosterView(players []session.Player) string {
	if len(players) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	rows := make([][]string, 0, len(players))
	self := -1
	for i, p := range players {
		name := shortID(p.ID)
		if p.Self {
			name += " (you)"
			self = i
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name, roleLabel(p.Role)})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Player", "Role").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row == self:
				return TableSelfStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// LinksView lists the peer links with their negotiation and transport state.
func LinksView(links []peer.LinkInfo) string {
	if len(links) == 0 {
		return MutedStyle.Render("No peer links")
	}

	rows := make([][]string, 0, len(links))
	for _, l := range links {
		media := "-"
		if l.HasStream {
			media = IconLive + " live"
		}
		rows = append(rows, []string{shortID(l.RemoteID), l.State.String(), l.Transport.String(), media})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Secondary)).
		Headers("Peer", "Link", "Transport", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableRowStyle
		}).
		Render()
}

func roleLabel(r protocol.Role) string {
	switch r {
	case protocol.RoleSharer:
		return IconSharer + " sharer"
	case protocol.RoleWatcher:
		return IconWatcher + " watcher"
	default:
		return "choosing..."
	}
}

// shortID trims relay socket ids for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
