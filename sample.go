package main

import (
	"context"
	"encoding/binary"
	"runtime"

	"github.com/maxpert/termlog/publication"
	"github.com/maxpert/termlog/rate"
)

// Offerer is the part of a publication the sample loop drives
type Offerer interface {
	Offer(msg []byte) (publication.Result, error)
}

type streamStats struct {
	Sent          int64
	AdminActions  int64
	BackPressured int64
	NotConnected  int64
}

// streamMessages offers count messages of length bytes (forever when count
// is 0) until ctx is done. Admin actions are retried immediately; back
// pressure and a missing consumer yield the processor before retrying.
func streamMessages(ctx context.Context, pub Offerer, reporter *rate.Reporter, length int, count int64) (streamStats, error) {
	var stats streamStats
	msg := make([]byte, max(length, 8))[:length]

	for count == 0 || stats.Sent < count {
		if ctx.Err() != nil {
			return stats, nil
		}
		if length >= 8 {
			binary.LittleEndian.PutUint64(msg, uint64(stats.Sent))
		}

		res, err := pub.Offer(msg)
		if err != nil {
			return stats, err
		}

		switch res.Status() {
		case publication.StatusOK:
			stats.Sent++
			reporter.OnMessage(1, int64(length))
		case publication.AdminAction:
			stats.AdminActions++
		case publication.BackPressured:
			stats.BackPressured++
			runtime.Gosched()
		case publication.NotConnected:
			stats.NotConnected++
			runtime.Gosched()
		}
	}
	return stats, nil
}
