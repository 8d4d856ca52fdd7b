package game

import (
	"fmt"
	"math/rand"
	"strings"
)

const (
	maxNameLength  = 15
	spectatorColor = "#AAAAAA"
)

// ColorPalette is the fixed set of racer colors, assigned round-robin.
var ColorPalette = []string{
	"#EF4444", // red
	"#3B82F6", // blue
	"#22C55E", // green
	"#EAB308", // yellow
	"#F472B6", // pink
	"#8B5CF6", // purple
	"#06B6D4", // cyan
	"#F97316", // orange
}

// Player is a connection-bound participant in a race. The player id is the
// fan-out layer's connection id.
type Player struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Color        string  `json:"color"`
	Position     float64 `json:"position"`
	CurrentIndex int     `json:"currentIndex"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
	IsReady      bool    `json:"isReady"`
	FinishTime   *int64  `json:"finishTime"`
	IsConnected  bool    `json:"isConnected"`
	IsSpectator  bool    `json:"isSpectator"`
}

// NewPlayer creates a racer with a sanitized display name.
func NewPlayer(id, name, color string) *Player {
	return &Player{
		ID:          id,
		Name:        SanitizeName(name),
		Color:       color,
		IsConnected: true,
	}
}

// NewSpectator creates a spectator. Spectators are always ready and their
// progress fields are never written.
func NewSpectator(id, name string) *Player {
	return &Player{
		ID:          id,
		Name:        SanitizeName(name) + " (Spectator)",
		Color:       spectatorColor,
		IsReady:     true,
		IsConnected: true,
		IsSpectator: true,
	}
}

// SanitizeName trims the display name, clamps it to 15 characters, and
// replaces empty input with a generated fallback.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Sprintf("Player-%04d", rand.Intn(10000))
	}
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	return name
}

// resetProgress clears typing progress at race start.
func (p *Player) resetProgress() {
	p.Position = 0
	p.CurrentIndex = 0
	p.WPM = 0
	p.Accuracy = 0
	p.FinishTime = nil
}

// snapshot returns a copy safe to hand outside the session lock.
func (p *Player) snapshot() Player {
	cp := *p
	if p.FinishTime != nil {
		ft := *p.FinishTime
		cp.FinishTime = &ft
	}
	return cp
}
