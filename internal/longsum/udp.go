package longsum

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/dcrodman/muxnet/internal/core"
	"github.com/dcrodman/muxnet/internal/core/reactor"
	"github.com/dcrodman/muxnet/internal/packets"
	"github.com/dcrodman/muxnet/internal/session"
)

const defaultSweepInterval = 30 * time.Second

// Recorder persists the outcome of completed sessions.
type Recorder interface {
	Record(peer string, sessionID, operands, sum int64) error
}

// UDPServer is the reliable long-sum server. Every operand it accepts is
// acknowledged, the sum of a session is sent once its last operand arrives
// and a Clean request forgets the session.
type UDPServer struct {
	Name   string
	Config *core.Config
	Logger *zap.SugaredLogger
	// Ledger records every completed session when set.
	Ledger Recorder

	sessions *session.Tracker
	stats    struct {
		ops, acks, results, cleans, malformed, rejected, swept uint64
	}
}

func (s *UDPServer) Identifier() string { return s.Name }

// Init binds address, registers the sweep of idle sessions and returns the
// bound address.
func (s *UDPServer) Init(loop *reactor.Loop, address string) (net.Addr, error) {
	idle, sweep := session.DefaultIdleTimeout, defaultSweepInterval
	if s.Config != nil {
		if s.Config.LongSumUDPServer.SessionIdleTimeout > 0 {
			idle = s.Config.LongSumUDPServer.SessionIdleTimeout
		}
		if s.Config.LongSumUDPServer.SweepInterval > 0 {
			sweep = s.Config.LongSumUDPServer.SweepInterval
		}
	}
	s.sessions = session.New(idle, s.Logger)

	p, err := loop.ListenPacket(address, s)
	if err != nil {
		return nil, err
	}
	loop.AddTimer(reactor.Every(sweep, func(time.Time) {
		if n := s.sessions.Sweep(); n > 0 {
			s.stats.swept += uint64(n)
			s.Logger.Debugf("[%s] dropped %d idle sessions", s.Name, n)
		}
	}))
	return p.LocalAddr(), nil
}

func (s *UDPServer) HandlePacket(p *reactor.PacketConn, from *net.UDPAddr, payload []byte) error {
	d, err := packets.DecodeLongSum(payload)
	if err != nil {
		s.stats.malformed++
		s.Logger.Debugf("[%s] dropping datagram from %v: %v", s.Name, from, err)
		return nil
	}

	switch d := d.(type) {
	case packets.Op:
		return s.handleOp(p, from, d)
	case packets.Clean:
		s.stats.cleans++
		if s.sessions.Remove(from.String(), d.SessionID) {
			s.Logger.Debugf("[%s] session %d of %v cleaned", s.Name, d.SessionID, from)
		}
		return p.SendMessage(from, packets.AckClean{SessionID: d.SessionID})
	default:
		s.stats.malformed++
		s.Logger.Debugf("[%s] dropping unexpected %T from %v", s.Name, d, from)
		return nil
	}
}

func (s *UDPServer) handleOp(p *reactor.PacketConn, from *net.UDPAddr, op packets.Op) error {
	s.stats.ops++
	if op.Index < 0 || op.Index >= op.Total {
		s.stats.rejected++
		s.Logger.Debugf("[%s] rejecting operand from %v: index %d not in [0, %d)", s.Name, from, op.Index, op.Total)
		return nil
	}
	state, err := s.sessions.Get(from.String(), op.SessionID, op.Total)
	if err != nil {
		s.stats.rejected++
		s.Logger.Debugf("[%s] rejecting operand from %v: %v", s.Name, from, err)
		return nil
	}
	alreadyComplete := state.Complete()
	sum, done, err := state.Update(op.Index, op.Value)
	if err != nil {
		s.stats.rejected++
		s.Logger.Debugf("[%s] rejecting operand from %v: %v", s.Name, from, err)
		return nil
	}

	s.stats.acks++
	if err := p.SendMessage(from, packets.Ack{SessionID: op.SessionID, Index: op.Index}); err != nil {
		return err
	}

	switch {
	case done:
		s.record(state)
	case alreadyComplete:
		// The peer is still retransmitting, so it may have lost the result.
		sum = state.Sum
	default:
		return nil
	}
	s.stats.results++
	return p.SendMessage(from, packets.Res{SessionID: op.SessionID, Sum: sum})
}

func (s *UDPServer) record(state *session.State) {
	s.Logger.Infof("[%s] session %s complete: %d operands, sum %d", s.Name, state.Key, state.Total, state.Sum)
	if s.Ledger == nil {
		return
	}
	if err := s.Ledger.Record(state.Peer, state.ID, state.Total, state.Sum); err != nil {
		s.Logger.Warnf("[%s] failed to record session %s: %v", s.Name, state.Key, err)
	}
}

// Report summarizes the server for the INFO command.
func (s *UDPServer) Report() string {
	return fmt.Sprintf("%d live sessions; %d operands, %d acks, %d results, %d cleans, %d rejected, %d malformed, %d swept",
		s.sessions.Len(), s.stats.ops, s.stats.acks, s.stats.results, s.stats.cleans,
		s.stats.rejected, s.stats.malformed, s.stats.swept)
}
