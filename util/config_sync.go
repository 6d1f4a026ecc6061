package util

import (
	"fmt"
	"net"
	"strconv"
)

const DefaultLostMsgsThresh = 3

// GenerateClusterConfig lays out n processes on host with consecutive RPC
// ports from basePort and heartbeat ports from hbBasePort. hbBasePort 0
// leaves heartbeats off.
func GenerateClusterConfig(n int, host string, basePort, hbBasePort int) (ClusterConfig, error) {
	if n < 1 {
		return ClusterConfig{}, fmt.Errorf("need at least one process, got %d", n)
	}
	cfg := ClusterConfig{LostMsgsThresh: DefaultLostMsgsThresh}
	for k := 0; k < n; k++ {
		cfg.Procs = append(cfg.Procs, net.JoinHostPort(host, strconv.Itoa(basePort+k)))
		if hbBasePort != 0 {
			cfg.HeartbeatAddrs = append(cfg.HeartbeatAddrs, net.JoinHostPort(host, strconv.Itoa(hbBasePort+k)))
		}
	}
	return cfg, cfg.Validate()
}

// SynchronizeConfig rewrites the heartbeat addresses of an existing cluster
// file so that process k answers heartbeats on its RPC host at
// RPC port + offset.
func SynchronizeConfig(filename string, offset int) error {
	var cfg ClusterConfig
	if err := ReadJSONConfig(filename, &cfg); err != nil {
		return err
	}
	cfg.HeartbeatAddrs = cfg.HeartbeatAddrs[:0]
	for _, addr := range cfg.Procs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("proc %s: %w", addr, err)
		}
		cfg.HeartbeatAddrs = append(cfg.HeartbeatAddrs, net.JoinHostPort(host, strconv.Itoa(p+offset)))
	}
	if cfg.LostMsgsThresh == 0 {
		cfg.LostMsgsThresh = DefaultLostMsgsThresh
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return WriteJSONConfig(filename, cfg)
}
