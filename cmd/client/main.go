package main

import (
	"bufio"
	"chat-relay/client"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"CHAT_SERVER_ADDR,default=localhost:8080"`
	UserID        string `env:"CHAT_USER,required=true"`
	Token         string `env:"CHAT_TOKEN,required=true"`
	PeerID        string `env:"CHAT_PEER,required=true"`
	LogLevel      string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run opens one session, sends every stdin line to the peer and prints what the server pushes.
func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	me, peer := domain.UserID(config.UserID), domain.UserID(config.PeerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(config.ServerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	session, err := client.Open(ctx, conn, config.Token)
	if err != nil {
		return exitRuntime, err
	}
	defer session.Close()

	if err := session.OpenThread(peer); err != nil {
		return exitRuntime, fmt.Errorf("open thread: %w", err)
	}
	log.Info(fmt.Sprintf(">>> Connected to %s as %s, talking to %s (Ctrl+C to quit)...", config.ServerAddress, me, peer))

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := session.SendText(me, peer, line); err != nil {
				log.Error("Message not sent", "error", err)
				return
			}
		}
		// Piped input is exhausted, pending replies still drain through Next
		_ = session.CloseSend()
	}()

	for {
		e, err := session.Next()
		if err != nil {
			// Normal exit if the user triggered a shutdown or the server ended a half-closed session.
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("stream error: %w", err)
		}
		render(me, peer, session, e)
	}
}

func render(me, peer domain.UserID, session *client.Session, e event.Outbound) {
	switch evt := e.(type) {
	case event.OnlineUsers:
		fmt.Println(color.Gray.Render(fmt.Sprintf("online: %v", evt.UserIDs)))
	case event.PeerProfile:
		fmt.Println(color.Cyan.Render(fmt.Sprintf("talking to %s (%s)", evt.Profile.Name, evt.Profile.ID)))
	case event.MessageHistory:
		if evt.PeerID != peer || len(evt.Messages) == 0 {
			return
		}
		last := evt.Messages[len(evt.Messages)-1]
		author := color.Green.Render(last.AuthorID.String())
		if last.AuthorID != me {
			author = color.Yellow.Render(last.AuthorID.String())
			_ = session.MarkSeen(last.AuthorID)
		}
		fmt.Printf("[%s] %s: %s\n", last.CreatedAt.Local().Format(time.TimeOnly), author, last.Content.Text)
	case event.Failure:
		fmt.Println(color.Red.Render(fmt.Sprintf("error (%s): %s", evt.Event, evt.Message)))
	}
}
