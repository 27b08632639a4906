// Command cloud-tail follows a point cloud server's stream and prints one
// summary line per record.
//
// Usage:
//
//	go run ./cmd/tools/cloud-tail [flags]
//
// Flags:
//
//	-url       Server base URL (default: http://localhost:3000)
//	-ws        Use the websocket stream instead of NDJSON
//	-count     Stop after this many records (default: 0, unlimited)
//	-timeout   Maximum gap between records (default: 2s)
//	-snapshot  Fetch a single measurement and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/pointcloud-server/internal/pointclient"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

var errDone = errors.New("record limit reached")

func describe(m *pointcloud.Measurement) string {
	line := fmt.Sprintf("size=%d color=%t value=%t", m.Size(), m.HasColor(), m.HasValue())
	if e, ok := m.Extents(); ok {
		line += fmt.Sprintf(" x=[%.3f,%.3f] y=[%.3f,%.3f] z=[%.3f,%.3f]",
			e.MinX, e.MaxX, e.MinY, e.MaxY, e.MinZ, e.MaxZ)
	}
	return line
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Server base URL")
	useWS := flag.Bool("ws", false, "Use the websocket stream")
	count := flag.Int("count", 0, "Stop after this many records (0 = unlimited)")
	timeout := flag.Duration("timeout", pointclient.DefaultRecordTimeout, "Maximum gap between records")
	snapshot := flag.Bool("snapshot", false, "Fetch a single measurement and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := pointclient.New(*baseURL, nil)
	client.RecordTimeout = *timeout

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := client.Hello(probeCtx)
	cancel()
	if err != nil {
		log.Fatalf("Server at %s is not reachable: %v", *baseURL, err)
	}

	if *snapshot {
		m, err := client.Snapshot(ctx)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		fmt.Println(describe(m))
		return
	}

	n := 0
	start := time.Now()
	handle := func(m *pointcloud.Measurement) error {
		n++
		fmt.Printf("%6d %8.3fs %s\n", n, time.Since(start).Seconds(), describe(m))
		if *count > 0 && n >= *count {
			return errDone
		}
		return nil
	}

	if *useWS {
		err = client.StreamWebSocket(ctx, handle)
	} else {
		err = client.Stream(ctx, handle)
	}

	elapsed := time.Since(start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(n) / elapsed.Seconds()
	}
	log.Printf("Received %d records in %v (%.1f Hz)", n, elapsed.Round(time.Millisecond), rate)

	switch {
	case err == nil, errors.Is(err, errDone), errors.Is(err, context.Canceled):
	default:
		log.Printf("Stream ended: %v", err)
		os.Exit(1)
	}
}
