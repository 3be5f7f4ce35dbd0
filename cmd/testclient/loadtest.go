package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
)

// 负载测试：每对连接由一个显示端创建房间、一个控制端加入后持续发送传感器数据

var (
	numPairs = flag.Int("pairs", 50, "number of display/controller pairs")
	rampUp   = flag.Duration("rampup", 5*time.Second, "ramp-up duration")
	duration = flag.Duration("duration", 30*time.Second, "test duration after ramp-up")
)

// 统计
type Stats struct {
	paired       int64
	disconnected int64
	msgSent      int64
	msgRecv      int64
	errors       int64
}

var stats Stats

func runLoad(ctx context.Context) error {
	log.Printf("starting load test...")
	log.Printf("  server: %s", *serverAddr)
	log.Printf("  pairs: %d", *numPairs)
	log.Printf("  ramp-up: %s", *rampUp)
	log.Printf("  duration: %s", *duration)
	log.Printf("  interval: %s", *interval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 启动统计输出
	go statsLoop(ctx)

	// 计算每对连接的启动间隔
	step := *rampUp / time.Duration(max(*numPairs, 1))

	var wg sync.WaitGroup

rampLoop:
	for i := 0; i < *numPairs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runPair(ctx, id)
		}(i)

		select {
		case <-ctx.Done():
			break rampLoop
		case <-time.After(step):
		}
	}

	log.Printf("all pairs started. running for %s...", *duration)

	select {
	case <-ctx.Done():
	case <-time.After(*duration):
		log.Printf("test duration completed.")
	}
	cancel()

	// 等待所有客户端退出
	wg.Wait()

	printFinalStats()
	return nil
}

func runPair(ctx context.Context, id int) {
	display := startSession(ctx, fmt.Sprintf("display_%04d", id))
	defer func() { display.c.Close(); <-display.done }()

	if err := display.awaitConnected(ctx); err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}
	if err := display.sendJSON(map[string]string{"type": protocol.TypeCreateRoom}); err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}

	code, err := awaitRoomCode(ctx, display)
	if err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}

	controller := startSession(ctx, fmt.Sprintf("controller_%04d", id))
	defer func() { controller.c.Close(); <-controller.done }()

	if err := controller.awaitConnected(ctx); err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}
	if err := controller.sendJSON(map[string]string{"type": protocol.TypeJoinRoom, "code": code}); err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}

	atomic.AddInt64(&stats.paired, 1)
	defer func() {
		atomic.AddInt64(&stats.paired, -1)
		atomic.AddInt64(&stats.disconnected, 1)
	}()

	// 显示端统计收到的转发帧
	go func() {
		for data := range display.c.Incoming() {
			switch decode(data).Type {
			case protocol.TypeSensorData, protocol.TypeCalibrationData:
				atomic.AddInt64(&stats.msgRecv, 1)
			case protocol.TypeError:
				atomic.AddInt64(&stats.errors, 1)
			}
		}
	}()
	go func() {
		for data := range controller.c.Incoming() {
			if decode(data).Type == protocol.TypeError {
				atomic.AddInt64(&stats.errors, 1)
			}
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := controller.sendJSON(sensorFrame(time.Since(start))); err != nil {
				atomic.AddInt64(&stats.errors, 1)
				continue
			}
			atomic.AddInt64(&stats.msgSent, 1)
		}
	}
}

// awaitRoomCode 等待 ROOM_CREATED
func awaitRoomCode(ctx context.Context, s *session) (string, error) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", fmt.Errorf("timed out waiting for %s", protocol.TypeRoomCreated)
		case data, ok := <-s.c.Incoming():
			if !ok {
				return "", fmt.Errorf("connection closed")
			}
			msg := decode(data)
			switch msg.Type {
			case protocol.TypeRoomCreated:
				return msg.Code, nil
			case protocol.TypeError:
				return "", fmt.Errorf("%s: %s", msg.Code, msg.Message)
			}
		}
	}
}

func statsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastSent, lastRecv int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent := atomic.LoadInt64(&stats.msgSent)
			recv := atomic.LoadInt64(&stats.msgRecv)
			log.Printf("[stats] paired=%d disconnected=%d sent=%d (+%d) recv=%d (+%d) errors=%d",
				atomic.LoadInt64(&stats.paired),
				atomic.LoadInt64(&stats.disconnected),
				sent, sent-lastSent,
				recv, recv-lastRecv,
				atomic.LoadInt64(&stats.errors),
			)
			lastSent, lastRecv = sent, recv
		}
	}
}

func printFinalStats() {
	sent := atomic.LoadInt64(&stats.msgSent)
	recv := atomic.LoadInt64(&stats.msgRecv)

	log.Printf("========== final stats ==========")
	log.Printf("  pairs completed:   %d", atomic.LoadInt64(&stats.disconnected))
	log.Printf("  messages sent:     %d", sent)
	log.Printf("  messages received: %d", recv)
	log.Printf("  errors:            %d", atomic.LoadInt64(&stats.errors))
	if sent > 0 {
		log.Printf("  delivery ratio:    %.2f%%", float64(recv)*100/float64(sent))
	}
	log.Printf("=================================")
}
