package comm

import (
	"context"
	"fmt"
	"net"
	"time"

	"bagelbfs/util"
)

// Cluster is this process's membership in a run described by a cluster
// file: the RPC control plus, when the file lists heartbeat addresses, the
// heartbeat responder and monitors.
type Cluster struct {
	*RPCControl

	responder *Responder
	stopHB    context.CancelFunc
}

// JoinCluster starts process proc of cfg.
func JoinCluster(ctx context.Context, cfg util.ClusterConfig, proc int) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rpcCfg := RPCConfig{ProcID: proc, Procs: cfg.Procs}
	if cfg.ListenAllInterfaces && proc >= 0 && proc < len(cfg.Procs) {
		addr, err := util.IPEmptyPortOnly(cfg.Procs[proc])
		if err != nil {
			return nil, err
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		rpcCfg.Listener = lis
	}
	ctl, err := NewRPCControl(rpcCfg)
	if err != nil {
		if rpcCfg.Listener != nil {
			rpcCfg.Listener.Close()
		}
		return nil, err
	}
	c := &Cluster{RPCControl: ctl, stopHB: func() {}}
	if len(cfg.HeartbeatAddrs) == 0 {
		return c, nil
	}

	rtt := DefaultHeartbeatRTT
	if cfg.HeartbeatRTTMs > 0 {
		rtt = time.Duration(cfg.HeartbeatRTTMs) * time.Millisecond
	}
	thresh := cfg.LostMsgsThresh
	if thresh == 0 {
		thresh = util.DefaultLostMsgsThresh
	}
	hbCtx, cancel := context.WithCancel(ctx)
	resp, err := ctl.StartHeartbeats(hbCtx, cfg.HeartbeatAddrs, rtt, thresh)
	if err != nil {
		cancel()
		ctl.Close()
		return nil, err
	}
	c.responder, c.stopHB = resp, cancel
	return c, nil
}

func (c *Cluster) Close() error {
	c.stopHB()
	if c.responder != nil {
		c.responder.Close()
	}
	return c.RPCControl.Close()
}
