package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bagelbfs/util"
)

const defaultDialWait = 30 * time.Second

type RPCConfig struct {
	ProcID int
	Procs  []string
	// Listener, when set, is used instead of listening on Procs[ProcID].
	Listener net.Listener
	DialWait time.Duration
}

type DeliverArgs struct {
	From    int
	Channel string
	Payload []byte
}

// Ack carries the number of payload bytes a peer accepted.
type Ack struct {
	Bytes int
}

type CollectArgs struct {
	Gen     uint64
	Proc    int
	Payload []byte
}

type CollectReply struct {
	Payloads [][]byte
}

// ProcService is served by every process as "Proc".
type ProcService struct {
	c *RPCControl
}

func (s *ProcService) Deliver(args DeliverArgs, reply *Ack) error {
	if err := s.c.handlers.dispatch(args.Channel, args.From, args.Payload); err != nil {
		return err
	}
	reply.Bytes = len(args.Payload)
	return nil
}

// CoordService is served by process 0 as "Coord". Collect blocks until
// every process has contributed to generation Gen.
type CoordService struct {
	c *RPCControl
}

func (s *CoordService) Collect(args CollectArgs, reply *CollectReply) error {
	payloads, err := s.c.coll.collect(s.c.ctx, args.Gen, args.Proc, args.Payload)
	if err != nil {
		return err
	}
	reply.Payloads = payloads
	return nil
}

type peer struct {
	mu     sync.Mutex
	addr   string
	client *rpc.Client
}

// RPCControl connects processes over net/rpc. Process 0 doubles as the
// coordinator for collectives.
type RPCControl struct {
	id       int
	peers    []*peer
	lis      net.Listener
	server   *rpc.Server
	coll     *collector
	gen      uint64
	dialWait time.Duration

	handlers handlerTable
	stats    counters
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	failMu  sync.Mutex
	failErr error
	failCh  chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewRPCControl(cfg RPCConfig) (*RPCControl, error) {
	n := len(cfg.Procs)
	if cfg.ProcID < 0 || cfg.ProcID >= n {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadProc, cfg.ProcID, n)
	}

	lis := cfg.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", cfg.Procs[cfg.ProcID])
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", cfg.Procs[cfg.ProcID], err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RPCControl{
		id:       cfg.ProcID,
		lis:      lis,
		server:   rpc.NewServer(),
		dialWait: cfg.DialWait,
		log:      log.With().Str("component", "comm").Int("proc", cfg.ProcID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		failCh:   make(chan struct{}),
	}
	if c.dialWait == 0 {
		c.dialWait = defaultDialWait
	}
	for _, addr := range cfg.Procs {
		c.peers = append(c.peers, &peer{addr: addr})
	}

	if err := c.server.RegisterName("Proc", &ProcService{c: c}); err != nil {
		cancel()
		lis.Close()
		return nil, err
	}
	if c.id == 0 {
		c.coll = newCollector(n)
		if err := c.server.RegisterName("Coord", &CoordService{c: c}); err != nil {
			cancel()
			lis.Close()
			return nil, err
		}
	}

	c.wg.Add(1)
	go c.listen()
	c.log.Info().Str("addr", lis.Addr().String()).Int("procs", n).Msg("listening for peers")
	return c, nil
}

func (c *RPCControl) listen() {
	defer c.wg.Done()
	for {
		conn, err := c.lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Msg("listen: error accepting peer")
			continue
		}
		go c.server.ServeConn(conn) // blocks until the peer hangs up
	}
}

func (c *RPCControl) Addr() net.Addr { return c.lis.Addr() }

func (c *RPCControl) ProcID() int   { return c.id }
func (c *RPCControl) NumProcs() int { return len(c.peers) }

func (c *RPCControl) Barrier(ctx context.Context) error {
	_, err := c.AllGather(ctx, nil)
	return err
}

// AllGather must not be called concurrently on the same control.
func (c *RPCControl) AllGather(ctx context.Context, payload []byte) ([][]byte, error) {
	gen := c.gen
	c.gen++
	if err := c.failure(); err != nil {
		return nil, err
	}
	if c.id == 0 {
		return c.coll.collect(ctx, gen, 0, payload)
	}
	var reply CollectReply
	c.stats.add(len(payload))
	if err := c.call(ctx, 0, "Coord.Collect", CollectArgs{Gen: gen, Proc: c.id, Payload: payload}, &reply); err != nil {
		return nil, err
	}
	return reply.Payloads, nil
}

func (c *RPCControl) AllReduceSum(ctx context.Context, v uint64) (uint64, error) {
	return allReduceSum(ctx, c.AllGather, v)
}

func (c *RPCControl) Send(ctx context.Context, proc int, channel string, payload []byte) error {
	if proc < 0 || proc >= len(c.peers) {
		return fmt.Errorf("%w: %d", ErrBadProc, proc)
	}
	if proc == c.id {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return c.handlers.dispatch(channel, c.id, cp)
	}
	c.stats.add(len(payload))
	var ack Ack
	return c.call(ctx, proc, "Proc.Deliver", DeliverArgs{From: c.id, Channel: channel, Payload: payload}, &ack)
}

func (c *RPCControl) Handle(channel string, h Handler) { c.handlers.set(channel, h) }

func (c *RPCControl) Stats() Stats { return c.stats.snapshot() }

func (c *RPCControl) client(ctx context.Context, proc int) (*rpc.Client, error) {
	p := c.peers[proc]
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := util.DialRPC(ctx, p.addr, c.dialWait)
	if err != nil {
		return nil, fmt.Errorf("%w: proc %d: %v", ErrPeerFailed, proc, err)
	}
	p.client = client
	return client, nil
}

func (c *RPCControl) call(ctx context.Context, proc int, method string, args interface{}, reply interface{}) error {
	client, err := c.client(ctx, proc)
	if err != nil {
		c.fail(err)
		return err
	}
	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case done := <-call.Done:
		if done.Error == nil {
			return nil
		}
		if errors.Is(done.Error, rpc.ErrShutdown) || errors.Is(done.Error, io.ErrUnexpectedEOF) {
			err := fmt.Errorf("%w: proc %d: %v", ErrPeerFailed, proc, done.Error)
			c.fail(err)
			return err
		}
		return fmt.Errorf("%s on proc %d: %w", method, proc, done.Error)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.failCh:
		return c.failure()
	}
}

// Fail aborts pending and future collectives with err.
func (c *RPCControl) Fail(err error) { c.fail(err) }

func (c *RPCControl) fail(err error) {
	c.failMu.Lock()
	if c.failErr != nil {
		c.failMu.Unlock()
		return
	}
	c.failErr = err
	close(c.failCh)
	c.failMu.Unlock()

	c.log.Error().Err(err).Msg("control failed")
	if c.coll != nil {
		c.coll.fail(err)
	}
}

func (c *RPCControl) failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

func (c *RPCControl) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.coll != nil {
			c.coll.fail(fmt.Errorf("%w: proc %d closed", ErrClosed, c.id))
		}
		// served connections end when their peers hang up, so replies to
		// a finished collective are still delivered
		c.lis.Close()
		for _, p := range c.peers {
			p.mu.Lock()
			if p.client != nil {
				p.client.Close()
			}
			p.mu.Unlock()
		}
		c.wg.Wait()
	})
	return nil
}
