package main

import (
	"context"
	"time"

	"github.com/orca-control/orca-go/pkg/simulator"
)

// runFrames advances every capturing camera at the given frame rate.
// Rates above 100 frames per second advance several frames per tick.
func runFrames(ctx context.Context, servers []*simulator.Server, fps float64) {
	interval := time.Duration(float64(time.Second) / fps)
	perTick := 1
	if interval < 10*time.Millisecond {
		perTick = int(fps / 100)
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, srv := range servers {
				srv.Device().AdvanceFrames(perTick)
			}
		}
	}
}
