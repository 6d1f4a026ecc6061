package comm

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Heartbeat message.
type HBeatMessage struct {
	EpochNonce uint64 // Identifies this monitor instance.
	SeqNum     uint64 // Unique for each heartbeat in an epoch.
}

// An ack message; response to a heartbeat.
type AckMessage struct {
	HBEatEpochNonce uint64 // Copy of what was received in the heartbeat.
	HBEatSeqNum     uint64 // Copy of what was received in the heartbeat.
}

// FailureDetected reports a peer that missed LostMsgsThresh heartbeats in
// a row.
type FailureDetected struct {
	Proc      int
	UDPIpPort string
	Timestamp time.Time
}

const DefaultHeartbeatRTT = time.Second

func writeMessage(msg interface{}, conn *net.UDPConn, to *net.UDPAddr) error {
	var msgBuf bytes.Buffer
	if err := gob.NewEncoder(&msgBuf).Encode(msg); err != nil {
		return err
	}
	var err error
	if to == nil {
		_, err = conn.Write(msgBuf.Bytes())
	} else {
		_, err = conn.WriteToUDP(msgBuf.Bytes(), to)
	}
	return err
}

// Responder acks every heartbeat it receives.
type Responder struct {
	conn *net.UDPConn
	done chan struct{}
}

func ListenHeartbeats(addr string) (*Responder, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	r := &Responder{conn: conn, done: make(chan struct{})}
	go r.serve()
	return r, nil
}

func (r *Responder) serve() {
	defer close(r.done)
	buf := make([]byte, 1024)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("component", "heartbeat").Msg("serve: read error")
			}
			return
		}
		var hbeat HBeatMessage
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&hbeat); err != nil {
			continue
		}
		ack := AckMessage{HBEatEpochNonce: hbeat.EpochNonce, HBEatSeqNum: hbeat.SeqNum}
		if err := writeMessage(ack, r.conn, src); err != nil {
			log.Warn().Err(err).Str("component", "heartbeat").Msg("serve: write error")
		}
	}
}

func (r *Responder) Addr() string { return r.conn.LocalAddr().String() }

func (r *Responder) Close() error {
	err := r.conn.Close()
	<-r.done
	return err
}

// MonitorPeer sends a heartbeat to remote every rtt. A heartbeat that is
// not acked within rtt is lost; thresh consecutive losses report the peer
// on the returned channel, which is then closed. Cancelling ctx stops the
// monitor and closes the channel without a report.
func MonitorPeer(ctx context.Context, proc int, remote string, rtt time.Duration, thresh uint8) (<-chan FailureDetected, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	if rtt <= 0 {
		rtt = DefaultHeartbeatRTT
	}
	if thresh == 0 {
		thresh = 1
	}

	notifyCh := make(chan FailureDetected, 1)
	go func() {
		defer close(notifyCh)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		logger := log.With().Str("component", "heartbeat").Int("peer", proc).Logger()
		epoch := rand.Uint64()
		lostMsgs := uint8(0)
		buf := make([]byte, 1024)

		for seq := uint64(0); ; seq++ {
			sent := time.Now()
			deadline := sent.Add(rtt)
			if err := writeMessage(HBeatMessage{EpochNonce: epoch, SeqNum: seq}, conn, nil); err != nil && ctx.Err() != nil {
				return
			}

			acked := false
			for !acked {
				if err := conn.SetReadDeadline(deadline); err != nil {
					return
				}
				n, err := conn.Read(buf)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					// timeouts and refused datagrams both count as a loss
					break
				}
				var ack AckMessage
				if gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&ack) != nil {
					continue
				}
				acked = ack.HBEatEpochNonce == epoch && ack.HBEatSeqNum == seq
			}

			if acked {
				lostMsgs = 0
			} else {
				lostMsgs++
				logger.Debug().Uint8("lost", lostMsgs).Uint8("thresh", thresh).Msg("heartbeat lost")
				if lostMsgs >= thresh {
					notifyCh <- FailureDetected{Proc: proc, UDPIpPort: remote, Timestamp: time.Now()}
					return
				}
			}

			select {
			case <-time.After(time.Until(deadline)):
			case <-ctx.Done():
				return
			}
		}
	}()
	return notifyCh, nil
}

// StartHeartbeats answers heartbeats on addrs[c.ProcID()] and monitors
// every other process. A detected failure fails the control with
// ErrPeerFailed. Cancel ctx and close the responder to stop.
func (c *RPCControl) StartHeartbeats(ctx context.Context, addrs []string, rtt time.Duration, thresh uint8) (*Responder, error) {
	if len(addrs) != len(c.peers) {
		return nil, fmt.Errorf("heartbeats: %d addrs for %d procs", len(addrs), len(c.peers))
	}
	resp, err := ListenHeartbeats(addrs[c.id])
	if err != nil {
		return nil, err
	}
	for proc, addr := range addrs {
		if proc == c.id {
			continue
		}
		notifyCh, err := MonitorPeer(ctx, proc, addr, rtt, thresh)
		if err != nil {
			resp.Close()
			return nil, err
		}
		go func() {
			if failure, ok := <-notifyCh; ok {
				c.fail(fmt.Errorf("%w: proc %d (%s) missed %d heartbeats",
					ErrPeerFailed, failure.Proc, failure.UDPIpPort, thresh))
			}
		}()
	}
	return resp, nil
}
