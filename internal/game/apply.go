package game

import (
	"errors"

	"github.com/tdnguyen-dev/numberhunt/internal/grid"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

var (
	ErrNoPlayer        = errors.New("no local player")
	ErrNoRoom          = errors.New("not in a room")
	ErrRoundNotActive  = errors.New("round not active")
	ErrRoundInProgress = errors.New("round already in progress")
	ErrNotHost         = errors.New("only the host can start a round")
	ErrNeedPlayers     = errors.New("waiting for another player")
	ErrOutOfRange      = errors.New("number out of range")
	ErrNumberLocked    = errors.New("number already claimed")
	ErrNumberCooldown  = errors.New("number on cooldown")
)

// Command is a local, UI-triggered action. Unlike pushes, commands can be
// rejected.
type Command interface{ isGameCommand() }

// Guess resolves a tapped number. Color is the guesser's persisted display
// color, attached to correct guesses.
type Guess struct {
	Number int
	Color  string
}

// StartRound asks the authority to start or restart the round. Host only;
// the authority re-arbitrates regardless.
type StartRound struct{}

// LeaveRoom announces an explicit departure.
type LeaveRoom struct{}

func (Guess) isGameCommand()      {}
func (StartRound) isGameCommand() {}
func (LeaveRoom) isGameCommand()  {}

// Emission is a named event the caller must send to the authority.
type Emission struct {
	Event string
	Data  any
}

// Apply validates a command against the projection, applies the optimistic
// local effect and returns the events to emit. The returned state is the
// provisional view; authoritative pushes reconcile it later.
func Apply(s State, cmd Command) ([]Emission, State, error) {
	if !s.HasSelf {
		return nil, s, ErrNoPlayer
	}
	if s.RoomID == "" {
		return nil, s, ErrNoRoom
	}

	switch c := cmd.(type) {
	case Guess:
		if !s.Round.Started || s.Round.Completed || s.Round.Target == 0 {
			return nil, s, ErrRoundNotActive
		}
		if c.Number < 1 || c.Number > grid.Size {
			return nil, s, ErrOutOfRange
		}
		if _, locked := s.Locked[c.Number]; locked {
			return nil, s, ErrNumberLocked
		}
		if s.Cooldown[c.Number] {
			return nil, s, ErrNumberCooldown
		}

		if c.Number == s.Round.Target {
			s.Provisional += CorrectReward
			s.Locked = cloneLocks(s.Locked)
			s.Locked[c.Number] = Lock{PlayerID: s.Self.ID, Color: c.Color}
			em := Emission{Event: protocol.EventCorrectGuess, Data: protocol.Guess{
				RoomID:        s.RoomID,
				PlayerID:      s.Self.ID,
				Points:        CorrectReward,
				GuessedNumber: c.Number,
				TargetNumber:  s.Round.Target,
				Color:         c.Color,
			}}
			return []Emission{em}, s, nil
		}

		s.Provisional -= WrongPenalty
		if s.Provisional < 0 {
			s.Provisional = 0
		}
		s.Cooldown = cloneCooldown(s.Cooldown)
		s.Cooldown[c.Number] = true
		em := Emission{Event: protocol.EventWrongGuess, Data: protocol.Guess{
			RoomID:        s.RoomID,
			PlayerID:      s.Self.ID,
			Points:        -WrongPenalty,
			GuessedNumber: c.Number,
			TargetNumber:  s.Round.Target,
		}}
		return []Emission{em}, s, nil

	case StartRound:
		if !s.Self.IsHost {
			return nil, s, ErrNotHost
		}
		if s.Round.Started && !s.Round.Completed {
			return nil, s, ErrRoundInProgress
		}
		// UX gate before the first start only; the authority enforces the
		// real rule.
		if !s.Round.Started && len(s.Players) < MinPlayersToStart {
			return nil, s, ErrNeedPlayers
		}
		em := Emission{Event: protocol.EventStartRound, Data: protocol.StartRound{
			RoomID:   s.RoomID,
			PlayerID: s.Self.ID,
		}}
		return []Emission{em}, s, nil

	case LeaveRoom:
		em := Emission{Event: protocol.EventLeaveRoom, Data: protocol.LeaveRoom{
			RoomID:   s.RoomID,
			PlayerID: s.Self.ID,
		}}
		// Forget the room but keep our identity for the next join.
		next := NewState()
		next.Self = s.Self
		next.HasSelf = true
		return []Emission{em}, next, nil

	default:
		return nil, s, errors.New("unsupported command")
	}
}
