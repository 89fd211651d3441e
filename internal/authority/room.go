package authority

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/game"
	"github.com/tdnguyen-dev/numberhunt/internal/grid"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

var (
	errNotMember    = errors.New("player is not in this room")
	errNotHost      = errors.New("only the host can start the round")
	errRoundRunning = errors.New("round already running")
	errNeedPlayers  = errors.New("need at least two players")
)

type RoomMsg interface{ isRoomMsg() }

type Join struct {
	Player protocol.Player
	Outbox chan protocol.Envelope
	Reply  chan protocol.JoinRoomResponse
}

// Leave removes a member. Outbox, when set, identifies the connection the
// departure came from: a teardown from a connection the player has already
// rejoined away from is ignored. A nil Outbox always applies.
type Leave struct {
	PlayerID string
	Outbox   chan protocol.Envelope
}

type Start struct {
	PlayerID string
	Reply    chan error
}

// GuessReport is a correct or wrong guess forwarded from a client.
type GuessReport struct {
	Guess   protocol.Guess
	Correct bool
}

type GetView struct{ Reply chan View }

type Shutdown struct{}

func (Join) isRoomMsg()        {}
func (Leave) isRoomMsg()       {}
func (Start) isRoomMsg()       {}
func (GuessReport) isRoomMsg() {}
func (GetView) isRoomMsg()     {}
func (Shutdown) isRoomMsg()    {}

// View is a read-only snapshot for the HTTP surface and tests.
type View struct {
	Info    protocol.Room
	Ranking []protocol.Player
	Target  int
	Started bool
}

type member struct {
	player protocol.Player
	outbox chan protocol.Envelope
}

type roundState struct {
	started   bool
	completed bool
	target    int
	remaining int
	seed      int64
	locked    map[int]string
}

type RoomConfig struct {
	Info   protocol.Room
	Clock  clockwork.Clock
	Seed   int64
	Notify chan<- HubMsg
	Logger *zap.Logger
}

// Room is one room actor: a single goroutine owns membership and round
// state, fed by the inbox and its round ticker.
type Room struct {
	inbox   chan RoomMsg
	info    protocol.Room
	members map[string]*member
	order   []string
	round   roundState
	ticker  clockwork.Ticker

	clock  clockwork.Clock
	rng    *rand.Rand
	notify chan<- HubMsg
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRoom(parent context.Context, cfg RoomConfig) *Room {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:   make(chan RoomMsg, 64),
		info:    cfg.Info,
		members: make(map[string]*member),
		clock:   cfg.Clock,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		notify:  cfg.Notify,
		log:     cfg.Logger.With(zap.String("room_id", cfg.Info.ID)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) ID() string { return r.info.ID }

func (r *Room) Inbox() chan<- RoomMsg { return r.inbox }

// View blocks for one snapshot from the room goroutine.
func (r *Room) View() View {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetView{Reply: reply}:
		select {
		case v := <-reply:
			return v
		case <-r.ctx.Done():
		}
	case <-r.ctx.Done():
	}
	return View{Info: r.info}
}

func (r *Room) loop() {
	for {
		var tickC <-chan time.Time
		if r.ticker != nil {
			tickC = r.ticker.Chan()
		}
		select {
		case <-r.ctx.Done():
			r.stopTicker()
			return

		case <-tickC:
			r.tick()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)
			case Leave:
				r.leave(msg)
			case Start:
				msg.Reply <- r.start(msg.PlayerID)
			case GuessReport:
				r.guess(msg)
			case GetView:
				msg.Reply <- r.view()
			case Shutdown:
				r.stopTicker()
				for _, m := range r.members {
					close(m.outbox)
				}
				clear(r.members)
				r.cancel()
				return
			}
		}
	}
}

func (r *Room) join(msg Join) {
	if m, ok := r.members[msg.Player.ID]; ok {
		// Rejoin after a reconnect: swap the outbox, keep the record.
		m.outbox = msg.Outbox
		p := m.player
		msg.Reply <- protocol.JoinRoomResponse{Success: true, Player: &p}
		r.broadcast(protocol.EventPlayerJoined, p)
		r.broadcast(protocol.EventPlayersCount, protocol.PlayersCount{PlayersCount: len(r.members)})
		r.log.Info("player rejoined", zap.String("player_id", p.ID))
		return
	}

	p := msg.Player
	p.Score = 0
	p.IsHost = len(r.members) == 0
	r.members[p.ID] = &member{player: p, outbox: msg.Outbox}
	r.order = append(r.order, p.ID)

	msg.Reply <- protocol.JoinRoomResponse{Success: true, Player: &p}
	r.broadcast(protocol.EventPlayerJoined, p)
	r.broadcast(protocol.EventPlayersCount, protocol.PlayersCount{PlayersCount: len(r.members)})
	r.log.Info("player joined",
		zap.String("player_id", p.ID), zap.Bool("is_host", p.IsHost))
}

func (r *Room) leave(msg Leave) {
	m, ok := r.members[msg.PlayerID]
	if !ok {
		return
	}
	if msg.Outbox != nil && msg.Outbox != m.outbox {
		// A dead connection tearing down after the player already rejoined
		// on a fresh one; the membership record stays.
		r.log.Info("stale leave ignored", zap.String("player_id", msg.PlayerID))
		return
	}
	wasHost := m.player.IsHost
	delete(r.members, msg.PlayerID)
	for i, id := range r.order {
		if id == msg.PlayerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.broadcast(protocol.EventPlayerLeft, msg.PlayerID)
	r.broadcast(protocol.EventPlayersCount, protocol.PlayersCount{PlayersCount: len(r.members)})

	if len(r.members) == 0 {
		r.log.Info("room emptied")
		if r.notify != nil {
			select {
			case r.notify <- RemoveRoom{ID: r.info.ID}:
			default:
			}
		}
		return
	}
	if wasHost {
		// Oldest remaining member inherits the host seat.
		next := r.members[r.order[0]]
		next.player.IsHost = true
		r.broadcast(protocol.EventPlayerJoined, next.player)
		r.log.Info("host promoted", zap.String("player_id", next.player.ID))
	}
}

func (r *Room) start(playerID string) error {
	m, ok := r.members[playerID]
	if !ok {
		return errNotMember
	}
	if !m.player.IsHost {
		return errNotHost
	}
	if r.round.started && !r.round.completed {
		return errRoundRunning
	}
	if len(r.members) < game.MinPlayersToStart {
		return errNeedPlayers
	}

	for _, m := range r.members {
		m.player.Score = 0
	}
	r.round = roundState{
		started:   true,
		target:    r.rng.Intn(grid.Size) + 1,
		remaining: game.RoundSeconds,
		seed:      r.rng.Int63(),
		locked:    make(map[int]string),
	}
	r.info.Status = "playing"
	r.broadcast(protocol.EventRoundStarted, protocol.RoundStarted{
		TargetNumber:  r.round.target,
		TimeRemaining: r.round.remaining,
		Seed:          r.round.seed,
	})
	r.stopTicker()
	r.ticker = r.clock.NewTicker(time.Second)
	r.log.Info("round started",
		zap.Int("target", r.round.target), zap.Int64("seed", r.round.seed))
	return nil
}

func (r *Room) tick() {
	if !r.round.started || r.round.completed {
		return
	}
	r.round.remaining--
	r.broadcast(protocol.EventTimeUpdate, r.round.remaining)
	if r.round.remaining <= 0 {
		r.endRound()
	}
}

func (r *Room) guess(msg GuessReport) {
	m, ok := r.members[msg.Guess.PlayerID]
	if !ok || !r.round.started || r.round.completed {
		return
	}

	if !msg.Correct {
		m.player.Score -= game.WrongPenalty
		if m.player.Score < 0 {
			m.player.Score = 0
		}
		r.broadcast(protocol.EventScoreUpdated, m.player)
		return
	}

	n := msg.Guess.GuessedNumber
	if n != r.round.target {
		// Raced against a target advance; the claim is void.
		return
	}
	if _, locked := r.round.locked[n]; locked {
		return
	}
	r.round.locked[n] = m.player.ID
	m.player.Score += game.CorrectReward
	r.broadcast(protocol.EventNumberCorrect, protocol.NumberCorrect{
		GuessedNumber: n,
		PlayerID:      m.player.ID,
		Color:         msg.Guess.Color,
	})
	r.broadcast(protocol.EventScoreUpdated, m.player)

	next, ok := r.nextTarget()
	if !ok {
		// Pool exhausted: the round ends early.
		r.endRound()
		return
	}
	r.round.target = next
	r.broadcast(protocol.EventTargetUpdate, next)
}

// nextTarget picks a random unclaimed number.
func (r *Room) nextTarget() (int, bool) {
	free := make([]int, 0, grid.Size-len(r.round.locked))
	for n := 1; n <= grid.Size; n++ {
		if _, locked := r.round.locked[n]; !locked {
			free = append(free, n)
		}
	}
	if len(free) == 0 {
		return 0, false
	}
	return free[r.rng.Intn(len(free))], true
}

func (r *Room) endRound() {
	r.round.completed = true
	r.round.target = 0
	r.stopTicker()
	r.info.Status = "open"

	ranking := r.ranking()
	var winner *protocol.Player
	if len(ranking) > 0 {
		winner = &ranking[0]
	}
	r.broadcast(protocol.EventRoundEnd, protocol.RoundEnd{Winner: winner})
	if r.notify != nil {
		select {
		case r.notify <- RecordScores{Players: ranking}:
		default:
		}
	}
	r.log.Info("round ended")
}

// ranking orders members by score descending, join order breaking ties.
func (r *Room) ranking() []protocol.Player {
	out := make([]protocol.Player, 0, len(r.members))
	for _, id := range r.order {
		out = append(out, r.members[id].player)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func (r *Room) view() View {
	info := r.info
	info.PlayersCount = len(r.members)
	return View{
		Info:    info,
		Ranking: r.ranking(),
		Target:  r.round.target,
		Started: r.round.started && !r.round.completed,
	}
}

func (r *Room) broadcast(event string, payload any) {
	env, err := protocol.Marshal(event, payload)
	if err != nil {
		r.log.Warn("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	for id, m := range r.members {
		select {
		case m.outbox <- env:
		default:
			// Slow consumer: drop the frame, the reader is likely gone and
			// the reconnect path will resynchronize it.
			r.log.Warn("dropping frame for slow client", zap.String("player_id", id))
		}
	}
}

func (r *Room) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}
