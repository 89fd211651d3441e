// Package identity persists the player record, the last-joined room and the
// per-session display color, and replays them through the rejoin flow when a
// connection is (re)established.
package identity

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

const (
	keyRoomID = "currentRoomId"
	keyPlayer = "currentPlayer"
	keyColor  = "playerColor"
)

// Manager wraps a Store with the two keyed blobs the engine cares about.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Player returns the persisted player record, if any.
func (m *Manager) Player() (protocol.Player, bool) {
	raw, ok, err := m.store.Get(keyPlayer)
	if err != nil || !ok {
		return protocol.Player{}, false
	}
	var p protocol.Player
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return protocol.Player{}, false
	}
	return p, true
}

// SavePlayer is called when a record is first created and again whenever the
// authority pushes a corrected record after a join or rejoin.
func (m *Manager) SavePlayer(p protocol.Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.store.Set(keyPlayer, raw)
}

// RoomID returns the last-joined room id, if any.
func (m *Manager) RoomID() (string, bool) {
	raw, ok, err := m.store.Get(keyRoomID)
	if err != nil || !ok {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (m *Manager) SaveRoomID(id string) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.store.Set(keyRoomID, raw)
}

// ClearRoom forgets the room membership. Only an explicit leave calls this;
// connection loss never does.
func (m *Manager) ClearRoom() error {
	return m.store.Delete(keyRoomID)
}

// Color returns the display color used for this player's claimed numbers,
// generating and persisting one on first use so claims stay visually
// consistent across the session.
func (m *Manager) Color() (string, error) {
	raw, ok, err := m.store.Get(keyColor)
	if err == nil && ok {
		var c string
		if json.Unmarshal(raw, &c) == nil && c != "" {
			return c, nil
		}
	}

	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate color: %w", err)
	}
	c := fmt.Sprintf("#%02x%02x%02x", buf[0], buf[1], buf[2])
	enc, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	if err := m.store.Set(keyColor, enc); err != nil {
		return "", err
	}
	return c, nil
}
