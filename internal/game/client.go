package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/identity"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
	"github.com/tdnguyen-dev/numberhunt/internal/session"
)

// Transport is the slice of the session the engine needs.
type Transport interface {
	On(event string, h session.Handler)
	Off(event string)
	Emit(event string, payload any, ack session.AckFunc) error
}

type clientMsg interface{ isClientMsg() }

type pushMsg struct{ ev Event }
type connectedMsg struct{}
type commandMsg struct {
	cmd   Command
	reply chan error
}
type joinMsg struct {
	roomID string
	reply  chan error
}
type joinResultMsg struct {
	resp  protocol.JoinRoomResponse
	err   error
	reply chan error
}
type subscribeMsg struct {
	id  string
	out chan State
}
type unsubscribeMsg struct{ id string }
type getStateMsg struct{ reply chan State }
type cooldownMsg struct{ number int }

func (pushMsg) isClientMsg()        {}
func (connectedMsg) isClientMsg()   {}
func (commandMsg) isClientMsg()     {}
func (joinMsg) isClientMsg()        {}
func (joinResultMsg) isClientMsg()  {}
func (subscribeMsg) isClientMsg()   {}
func (unsubscribeMsg) isClientMsg() {}
func (getStateMsg) isClientMsg()    {}
func (cooldownMsg) isClientMsg()    {}

// Client owns the room/round projection. A single goroutine drains the inbox
// and is the only writer of the state; session handlers, timers and UI calls
// all post messages here, so handlers run to completion one at a time.
type Client struct {
	inbox  chan clientMsg
	state  State
	subs   map[string]chan State
	ticker clockwork.Ticker

	transport Transport
	ident     *identity.Manager
	clock     clockwork.Clock
	log       *zap.Logger

	roundEnd chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

type Config struct {
	Transport Transport
	Identity  *identity.Manager
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

func NewClient(parent context.Context, cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	c := &Client{
		inbox:     make(chan clientMsg, 64),
		state:     NewState(),
		subs:      make(map[string]chan State),
		transport: cfg.Transport,
		ident:     cfg.Identity,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		roundEnd:  make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	if p, ok := c.ident.Player(); ok {
		c.state.Self = p
		c.state.HasSelf = true
		c.state.Confirmed = p.Score
		c.state.Provisional = p.Score
	}
	if roomID, ok := c.ident.RoomID(); ok {
		c.state.RoomID = roomID
	}

	c.bind()
	go c.loop()
	return c
}

// bind registers the push handlers. Each handler only decodes and forwards;
// all state changes happen on the loop goroutine.
func (c *Client) bind() {
	c.transport.On(protocol.EventConnect, func(json.RawMessage) {
		c.post(connectedMsg{})
	})
	for _, event := range []string{
		protocol.EventPlayerJoined,
		protocol.EventPlayerLeft,
		protocol.EventPlayersCount,
		protocol.EventRoundStarted,
		protocol.EventTargetUpdate,
		protocol.EventTimeUpdate,
		protocol.EventRoundEnd,
		protocol.EventScoreUpdated,
		protocol.EventNumberCorrect,
	} {
		event := event
		c.transport.On(event, func(data json.RawMessage) {
			ev, err := decodeEvent(event, data)
			if err != nil {
				c.log.Warn("bad push payload", zap.String("event", event), zap.Error(err))
				return
			}
			c.post(pushMsg{ev: ev})
		})
	}
}

func decodeEvent(event string, data json.RawMessage) (Event, error) {
	switch event {
	case protocol.EventPlayerJoined:
		var p protocol.Player
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return PlayerJoined{Player: p}, nil
	case protocol.EventPlayerLeft:
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, err
		}
		return PlayerLeft{PlayerID: id}, nil
	case protocol.EventPlayersCount:
		var pc protocol.PlayersCount
		if err := json.Unmarshal(data, &pc); err != nil {
			return nil, err
		}
		return PlayersCount{Count: pc.PlayersCount}, nil
	case protocol.EventRoundStarted:
		var rs protocol.RoundStarted
		if err := json.Unmarshal(data, &rs); err != nil {
			return nil, err
		}
		return RoundStarted{Target: rs.TargetNumber, Seconds: rs.TimeRemaining, Seed: rs.Seed}, nil
	case protocol.EventTargetUpdate:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return TargetUpdate{Target: n}, nil
	case protocol.EventTimeUpdate:
		var sec int
		if err := json.Unmarshal(data, &sec); err != nil {
			return nil, err
		}
		return TimeUpdate{Seconds: sec}, nil
	case protocol.EventRoundEnd:
		var end protocol.RoundEnd
		if len(data) > 0 {
			if err := json.Unmarshal(data, &end); err != nil {
				return nil, err
			}
		}
		return RoundEnded{Winner: end.Winner}, nil
	case protocol.EventScoreUpdated:
		var p protocol.Player
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return ScoreUpdated{Player: p}, nil
	case protocol.EventNumberCorrect:
		var nc protocol.NumberCorrect
		if err := json.Unmarshal(data, &nc); err != nil {
			return nil, err
		}
		return NumberLocked{Number: nc.GuessedNumber, PlayerID: nc.PlayerID, Color: nc.Color}, nil
	}
	return nil, fmt.Errorf("unknown event %q", event)
}

func (c *Client) post(m clientMsg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

// Guess resolves a tapped number against the local round state and reports
// it to the authority. The returned error is the local rejection, if any.
func (c *Client) Guess(number int) error {
	color, err := c.ident.Color()
	if err != nil {
		return err
	}
	return c.command(Guess{Number: number, Color: color})
}

// StartRound asks the authority to start or restart the round. No-op errors
// for non-hosts and under-filled rooms are returned to the caller.
func (c *Client) StartRound() error {
	return c.command(StartRound{})
}

// LeaveRoom announces the departure and forgets the persisted room id.
func (c *Client) LeaveRoom() error {
	return c.command(LeaveRoom{})
}

func (c *Client) command(cmd Command) error {
	reply := make(chan error, 1)
	c.post(commandMsg{cmd: cmd, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// JoinRoom persists the room id and sends the join request, blocking until
// the authority acknowledges or the ack times out.
func (c *Client) JoinRoom(roomID string) error {
	reply := make(chan error, 1)
	c.post(joinMsg{roomID: roomID, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Subscribe registers a snapshot channel. Sends are non-blocking: a slow
// consumer misses frames rather than stalling the engine. The channel is
// closed on Unsubscribe and on Close, so range loops over it terminate.
func (c *Client) Subscribe(id string, out chan State) {
	c.post(subscribeMsg{id: id, out: out})
}

func (c *Client) Unsubscribe(id string) {
	c.post(unsubscribeMsg{id: id})
}

// State returns a copy of the current projection.
func (c *Client) State() State {
	reply := make(chan State, 1)
	c.post(getStateMsg{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-c.ctx.Done():
		return State{}
	}
}

// RoundEnded signals round completions; the leaderboard aggregator consumes
// it to refresh its projections.
func (c *Client) RoundEnded() <-chan struct{} {
	return c.roundEnd
}

func (c *Client) Close() {
	c.cancel()
}

func (c *Client) loop() {
	for {
		var tickC <-chan time.Time
		if c.ticker != nil {
			tickC = c.ticker.Chan()
		}
		select {
		case <-c.ctx.Done():
			c.stopTicker()
			for id, out := range c.subs {
				delete(c.subs, id)
				close(out)
			}
			return

		case <-tickC:
			c.applyPush(LocalTick{})

		case m := <-c.inbox:
			switch msg := m.(type) {
			case pushMsg:
				c.applyPush(msg.ev)

			case connectedMsg:
				c.rejoin()

			case joinMsg:
				c.handleJoin(msg)

			case joinResultMsg:
				c.handleJoinResult(msg)

			case commandMsg:
				msg.reply <- c.handleCommand(msg.cmd)

			case cooldownMsg:
				c.applyPush(CooldownExpired{Number: msg.number})

			case subscribeMsg:
				c.subs[msg.id] = msg.out
				c.notify(msg.out)

			case unsubscribeMsg:
				if out, ok := c.subs[msg.id]; ok {
					delete(c.subs, msg.id)
					close(out)
				}

			case getStateMsg:
				msg.reply <- c.state
			}
		}
	}
}

// applyPush reduces one event and performs its side effects: persistence of
// an adopted self record, timer management and the round-end signal.
func (c *Client) applyPush(ev Event) {
	before := c.state
	c.state = Reduce(c.state, ev)

	if pj, ok := ev.(PlayerJoined); ok {
		adopted := !before.HasSelf || pj.Player.ID == before.Self.ID
		if adopted {
			if err := c.ident.SavePlayer(c.state.Self); err != nil {
				c.log.Warn("persist player", zap.Error(err))
			}
		}
	}

	wasActive := before.Round.Started && !before.Round.Completed
	isActive := c.state.Round.Started && !c.state.Round.Completed
	if isActive && c.ticker == nil {
		c.ticker = c.clock.NewTicker(time.Second)
	}
	if !isActive {
		c.stopTicker()
	}
	if wasActive && c.state.Round.Completed {
		select {
		case c.roundEnd <- struct{}{}:
		default:
		}
	}

	c.broadcast()
}

func (c *Client) handleCommand(cmd Command) error {
	emissions, next, err := Apply(c.state, cmd)
	if err != nil {
		return err
	}
	prev := c.state
	c.state = next

	for _, em := range emissions {
		var ack session.AckFunc
		if em.Event == protocol.EventStartRound {
			// A start that never acknowledges leaves us idle with no
			// automatic retry; just record the rejection for the host UI.
			ack = func(_ json.RawMessage, err error) {
				if err != nil {
					c.log.Warn("start request not acknowledged", zap.Error(err))
				}
			}
		}
		if err := c.transport.Emit(em.Event, em.Data, ack); err != nil {
			c.log.Warn("emit failed", zap.String("event", em.Event), zap.Error(err))
		}
	}

	if g, ok := cmd.(Guess); ok && c.state.Cooldown[g.Number] && !prev.Cooldown[g.Number] {
		number := g.Number
		c.clock.AfterFunc(CooldownSeconds*time.Second, func() {
			c.post(cooldownMsg{number: number})
		})
	}

	if _, ok := cmd.(LeaveRoom); ok {
		if err := c.ident.ClearRoom(); err != nil {
			c.log.Warn("clear room", zap.Error(err))
		}
		c.stopTicker()
	}

	c.broadcast()
	return nil
}

func (c *Client) handleJoin(msg joinMsg) {
	if !c.state.HasSelf {
		msg.reply <- ErrNoPlayer
		return
	}
	c.state.RoomID = msg.roomID
	if err := c.ident.SaveRoomID(msg.roomID); err != nil {
		c.log.Warn("persist room id", zap.Error(err))
	}
	c.sendJoin(msg.roomID, msg.reply)
	c.broadcast()
}

// rejoin replays the join request with the persisted identity. Fired on
// every connect, including reconnects mid-round.
func (c *Client) rejoin() {
	roomID, okRoom := c.ident.RoomID()
	player, okPlayer := c.ident.Player()
	if !okRoom || !okPlayer {
		return
	}
	c.log.Info("rejoining room",
		zap.String("room_id", roomID),
		zap.String("player_id", player.ID))
	c.sendJoin(roomID, nil)
}

func (c *Client) sendJoin(roomID string, reply chan error) {
	req := protocol.JoinRoom{
		RoomID:   roomID,
		PlayerID: c.state.Self.ID,
		IsHost:   c.state.Self.IsHost,
	}
	err := c.transport.Emit(protocol.EventJoinRoom, req, func(data json.RawMessage, err error) {
		res := joinResultMsg{err: err, reply: reply}
		if err == nil {
			if uerr := json.Unmarshal(data, &res.resp); uerr != nil {
				res.err = uerr
			}
		}
		c.post(res)
	})
	if err != nil {
		if reply != nil {
			reply <- err
		} else {
			c.log.Warn("join emit failed", zap.Error(err))
		}
	}
}

func (c *Client) handleJoinResult(msg joinResultMsg) {
	err := msg.err
	switch {
	case err != nil:
		// Non-fatal: keep the last-known state and let subsequent
		// membership pushes re-synchronize.
		c.log.Warn("join not acknowledged", zap.Error(err))
	case !msg.resp.Success:
		err = errors.New(msg.resp.Error)
		if msg.resp.Error == "" {
			err = errors.New("join rejected")
		}
		c.log.Warn("join rejected", zap.Error(err))
	case msg.resp.Player != nil:
		// The authoritative record replaces the locally held identity.
		c.applyPush(PlayerJoined{Player: *msg.resp.Player})
		c.applyPush(ScoreUpdated{Player: *msg.resp.Player})
	}
	if msg.reply != nil {
		msg.reply <- err
	}
}

func (c *Client) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Client) broadcast() {
	for _, out := range c.subs {
		c.notify(out)
	}
}

func (c *Client) notify(out chan State) {
	select {
	case out <- c.state:
	default:
		// Slow subscriber; it will catch the next snapshot.
	}
}
