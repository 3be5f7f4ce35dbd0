// Package main 提供中继服务的测试客户端
//
// 模式：
//
//	create       创建房间，打印房间码，打印收到的所有消息
//	join         以 -code 加入房间并按 -interval 发送模拟传感器数据
//	interactive  从标准输入读取命令
//	load         启动 -pairs 对显示端/控制端做简单压测
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/client"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/transport"
	"go.uber.org/zap"
)

// 配置
var (
	serverAddr  = flag.String("addr", "ws://localhost:8080/ws", "relay server WebSocket address")
	mode        = flag.String("mode", "create", "create | join | interactive | load")
	roomCode    = flag.String("code", "", "room code for join mode")
	interval    = flag.Duration("interval", 50*time.Millisecond, "sensor data interval")
	maxAttempts = flag.Int("max-attempts", 8, "reconnect attempts before giving up")
	verbose     = flag.Bool("v", false, "verbose output")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if err := logger.Init(logger.Config{Level: level, Format: "console", Output: "stderr"}); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch *mode {
	case "create":
		err = runCreate(ctx)
	case "join":
		err = runJoin(ctx)
	case "interactive":
		err = runInteractive(ctx)
	case "load":
		err = runLoad(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%s: %v", *mode, err)
	}
}

func newClient() *client.Client {
	cfg := client.DefaultConfig(*serverAddr)
	cfg.MaxAttempts = *maxAttempts
	return client.New(cfg, transport.NewWebSocketDialer(transport.DefaultWebSocketConfig()),
		client.WithLogger(logger.With(zap.String("component", "testclient"))))
}

// session 一个运行中的客户端
type session struct {
	c    *client.Client
	done chan error
}

func startSession(ctx context.Context, name string) *session {
	s := &session{c: newClient(), done: make(chan error, 1)}
	go func() { s.done <- s.c.Run(ctx) }()
	go func() {
		for sc := range s.c.StateChanges() {
			if *verbose || sc.To == client.StateFailed || sc.To == client.StateReconnecting {
				log.Printf("[%s] %s -> %s (attempt=%d err=%v)", name, sc.From, sc.To, sc.Attempt, sc.Err)
			}
		}
	}()
	return s
}

// awaitConnected 等待连接建立
func (s *session) awaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch s.c.State() {
		case client.StateConnected:
			return nil
		case client.StateFailed:
			return client.ErrReconnectExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.done:
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		case <-ticker.C:
		}
	}
}

func (s *session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.c.Send(data)
}

type inbound struct {
	Type      string          `json:"type"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Payload   json.RawMessage `json:"payload"`
}

func decode(data []byte) inbound {
	var msg inbound
	_ = json.Unmarshal(data, &msg)
	return msg
}

func runCreate(ctx context.Context) error {
	s := startSession(ctx, "display")
	if err := s.awaitConnected(ctx); err != nil {
		return err
	}
	if err := s.sendJSON(map[string]string{"type": protocol.TypeCreateRoom}); err != nil {
		return err
	}

	for {
		select {
		case data, ok := <-s.c.Incoming():
			if !ok {
				return <-s.done
			}
			msg := decode(data)
			switch msg.Type {
			case protocol.TypeRoomCreated:
				log.Printf("room created: %s", msg.Code)
			case protocol.TypeSensorData, protocol.TypeCalibrationData:
				if *verbose {
					log.Printf("RECV %s %s", msg.Type, msg.Payload)
				}
			default:
				log.Printf("RECV %s", data)
			}
		case <-ctx.Done():
			s.c.Close()
			return <-s.done
		}
	}
}

func runJoin(ctx context.Context) error {
	if !protocol.ValidRoomCode(*roomCode) {
		return fmt.Errorf("invalid room code %q", *roomCode)
	}

	s := startSession(ctx, "controller")
	if err := s.awaitConnected(ctx); err != nil {
		return err
	}
	if err := s.sendJSON(map[string]string{"type": protocol.TypeJoinRoom, "code": *roomCode}); err != nil {
		return err
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	paired := false
	var sent int
	start := time.Now()

	for {
		select {
		case data, ok := <-s.c.Incoming():
			if !ok {
				return <-s.done
			}
			msg := decode(data)
			log.Printf("RECV %s", data)
			switch msg.Type {
			case protocol.TypeRoomFull:
				paired = true
			case protocol.TypePartnerDisconnected:
				paired = false
			}
		case <-ticker.C:
			if !paired {
				continue
			}
			if err := s.sendJSON(sensorFrame(time.Since(start))); err == nil {
				sent++
				if *verbose && sent%100 == 0 {
					log.Printf("sent %d sensor frames", sent)
				}
			}
		case <-ctx.Done():
			s.c.Close()
			log.Printf("sent %d sensor frames", sent)
			return <-s.done
		}
	}
}

// sensorFrame 模拟设备朝向数据
func sensorFrame(elapsed time.Duration) map[string]any {
	t := elapsed.Seconds()
	return map[string]any{
		"type": protocol.TypeSensorData,
		"payload": map[string]float64{
			"alpha": math.Mod(t*36, 360),
			"beta":  45 * math.Sin(t),
			"gamma": 30 * math.Cos(t),
		},
	}
}
