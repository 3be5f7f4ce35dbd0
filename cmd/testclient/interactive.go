package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/qiminjie89/motionlink/internal/protocol"
)

// runInteractive 交互式测试客户端
func runInteractive(ctx context.Context) error {
	log.Printf("interactive test client")
	log.Printf("  server: %s", *serverAddr)

	s := startSession(ctx, "peer")
	if err := s.awaitConnected(ctx); err != nil {
		return err
	}
	log.Printf("connected. type 'help' for commands.")

	// 启动消息接收
	go func() {
		for data := range s.c.Incoming() {
			fmt.Printf("\nRECV %s\n> ", data)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		var line string
		select {
		case <-ctx.Done():
			s.c.Close()
			return <-s.done
		case err := <-s.done:
			return err
		case l, ok := <-lines:
			if !ok {
				s.c.Close()
				return <-s.done
			}
			line = l
		}

		if line == "" {
			fmt.Print("> ")
			continue
		}

		parts := strings.Fields(line)
		var err error

		switch parts[0] {
		case "help":
			printHelp()

		case "create":
			err = s.sendJSON(map[string]string{"type": protocol.TypeCreateRoom})

		case "join":
			// join <code>
			if len(parts) < 2 {
				log.Printf("usage: join <code>")
				break
			}
			err = s.sendJSON(map[string]string{"type": protocol.TypeJoinRoom, "code": parts[1]})

		case "leave":
			err = s.sendJSON(map[string]string{"type": protocol.TypeLeaveRoom})

		case "ping":
			err = s.sendJSON(map[string]string{"type": protocol.TypePing})

		case "sensor":
			// sensor <alpha> <beta> <gamma>
			err = sendSensor(s, parts[1:])

		case "raw":
			// raw <json>
			err = s.c.Send([]byte(strings.TrimSpace(strings.TrimPrefix(line, "raw"))))

		case "state":
			log.Printf("state: %s", s.c.State())

		case "quit", "exit":
			s.c.Close()
			<-s.done
			log.Printf("bye")
			return nil

		default:
			log.Printf("unknown command: %s. type 'help' for usage.", parts[0])
		}

		if err != nil {
			log.Printf("send failed: %v", err)
		}
		fmt.Print("> ")
	}
}

func sendSensor(s *session, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: sensor <alpha> <beta> <gamma>")
	}

	values := make([]float64, 3)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", a)
		}
		values[i] = v
	}

	return s.sendJSON(map[string]any{
		"type": protocol.TypeSensorData,
		"payload": map[string]float64{
			"alpha": values[0],
			"beta":  values[1],
			"gamma": values[2],
		},
	})
}

func printHelp() {
	fmt.Println(`
Commands:
  create                      request a new room
  join <code>                 join a room by its 4-digit code
  leave                       leave the current room
  ping                        liveness probe
  sensor <alpha> <beta> <g>   send SENSOR_DATA to the partner
  raw <json>                  send an arbitrary frame
  state                       print connection state
  quit                        close with code 1000 and exit`)
}
