package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tdnguyen-dev/numberhunt/internal/api"
	"github.com/tdnguyen-dev/numberhunt/internal/game"
	"github.com/tdnguyen-dev/numberhunt/internal/identity"
	"github.com/tdnguyen-dev/numberhunt/internal/leaderboard"
	"github.com/tdnguyen-dev/numberhunt/internal/logging"
	"github.com/tdnguyen-dev/numberhunt/internal/session"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	// The terminal is the UI, so logs default to a file and only errors
	// reach stderr.
	logger, err := logging.New(logging.Config{
		Level: getEnv("LOG_LEVEL", "error"),
		File:  getEnv("LOG_FILE", "numberhunt.log"),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	store, err := identity.NewFileStore(getEnv("STATE_FILE", ".numberhunt.json"))
	if err != nil {
		log.Fatal(err)
	}
	ident := identity.NewManager(store)

	apiBase := getEnv("API_BASE_URL", "http://localhost:8080")
	rest := api.New(apiBase, logger)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)

	if _, ok := ident.Player(); !ok {
		fmt.Print("Pick a name: ")
		if !scanner.Scan() {
			return
		}
		name := strings.TrimSpace(scanner.Text())
		p, err := rest.CreatePlayer(ctx, name)
		if err != nil {
			log.Fatal(err)
		}
		if err := ident.SavePlayer(p); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Welcome, %s\n", p.Name)
	}

	sess := session.New(getEnv("WS_URL", "ws://localhost:8080/ws"), session.Options{
		Logger: logger,
	})
	client := game.NewClient(ctx, game.Config{
		Transport: sess,
		Identity:  ident,
		Logger:    logger,
	})
	sess.Connect(ctx)
	defer sess.Close()
	defer client.Close()

	boards := leaderboard.New(rest, nil, logger)
	if roomID, ok := ident.RoomID(); ok {
		boards.SetRoom(roomID)
	}
	go boards.Run(ctx, 30*time.Second, client.RoundEnded())

	go renderLoop(client)

	fmt.Println("commands: rooms | create <name> | join <id> | start | <number> | leave | board | top | quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if n, err := strconv.Atoi(line); err == nil {
			if err := client.Guess(n); err != nil {
				fmt.Println("guess:", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "rooms":
			rooms, err := rest.ListRooms(ctx)
			if err != nil {
				fmt.Println("rooms:", err)
				continue
			}
			for _, r := range rooms {
				fmt.Printf("  %s  %s (%d players)\n", r.ID, r.Name, r.PlayersCount)
			}
		case "create":
			room, err := rest.CreateRoom(ctx, strings.TrimSpace(arg))
			if err != nil {
				fmt.Println("create:", err)
				continue
			}
			fmt.Println("created room", room.ID)
		case "join":
			roomID := strings.TrimSpace(arg)
			if err := client.JoinRoom(roomID); err != nil {
				fmt.Println("join:", err)
				continue
			}
			boards.SetRoom(roomID)
			fmt.Println("joined", roomID)
		case "start":
			if err := client.StartRound(); err != nil {
				fmt.Println("start:", err)
			}
		case "leave":
			if err := client.LeaveRoom(); err != nil {
				fmt.Println("leave:", err)
			}
		case "board":
			if err := boards.RefreshRoom(ctx); err != nil {
				fmt.Println("board:", err)
				continue
			}
			printBoard("room leaderboard", boards.Room())
		case "top":
			if err := boards.RefreshGlobal(ctx); err != nil {
				fmt.Println("top:", err)
				continue
			}
			printBoard("top players", boards.Global())
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}
