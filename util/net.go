package util

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

func DialTCPCustom(localAddr string, remoteAddr string) (*net.TCPConn, error) {
	var laddr *net.TCPAddr
	var err error

	if localAddr != "" {
		laddr, err = net.ResolveTCPAddr("tcp", localAddr)
		if err != nil {
			return nil, fmt.Errorf("could not resolve local address %v: %w", localAddr, err)
		}
	}

	raddr, err := net.ResolveTCPAddr("tcp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("could not resolve remote address %v: %w", remoteAddr, err)
	}

	return net.DialTCP("tcp", laddr, raddr)
}

// IPEmptyPortOnly turns "host:port" into ":port" so a listener binds every
// interface.
func IPEmptyPortOnly(addr string) (string, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	return ":" + port, nil
}

// DialRPC dials an net/rpc server, retrying with exponential backoff until
// ctx is done or maxWait has elapsed. Peers of a run start in any order, so
// the first few attempts are expected to fail.
func DialRPC(ctx context.Context, addr string, maxWait time.Duration) (*rpc.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = maxWait

	var client *rpc.Client
	op := func() error {
		conn, err := DialTCPCustom("", addr)
		if err != nil {
			return err
		}
		client = rpc.NewClient(conn)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("addr", addr).Dur("retry_in", wait).Msg("DialRPC: retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}
