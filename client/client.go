package main

import (
	"bufio"
	"chat-relay/infrastructure/grpc/chatapi"
	"chat-relay/infrastructure/grpc/client"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerAddress string `envconfig:"CHAT_SERVER_ADDR" default:"localhost:8080"`
	Token         string `envconfig:"CHAT_TOKEN" required:"true"`
	PeerID        string `envconfig:"CHAT_PEER_ID" required:"true"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	// CHAT_COLOURS tells own, peer and unsent lines apart
	Colours bool `envconfig:"CHAT_COLOURS" default:"true"`
}

type Command struct {
	Name string
	Arg  string
}

// ParseCommand reads "/open peer", "/resend key", "/refresh" and "/quit". Anything else is a message body.
func ParseCommand(line string) Command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Name: "send", Arg: line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return Command{Name: name, Arg: strings.TrimSpace(arg)}
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat, err := client.NewChatClient(config.ServerAddress, config.Token)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = chat.Close()
	}()

	conversation, err := chat.Connect(ctx, config.PeerID)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open conversation: %w", err)
	}
	defer func() { _ = conversation.Close() }()

	printer := NewPrinter(os.Stdout, config.Colours)
	printer.Notice(fmt.Sprintf(">>> Connected to %s, talking to %s (Ctrl+C to quit)", config.ServerAddress, config.PeerID))

	snapshots := make(chan *chatapi.ConversationSnapshot)
	recvErr := make(chan error, 1)
	go func() {
		for {
			snapshot, err := conversation.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case snapshots <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case err := <-recvErr:
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("stream error: %w", err)
		case snapshot := <-snapshots:
			printer.Print(snapshot)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			done, err := dispatch(conversation, printer, ParseCommand(line))
			if err != nil {
				return exitRuntime, err
			}
			if done {
				return exitOK, nil
			}
		}
	}
}

func dispatch(conversation *client.Conversation, printer *Printer, command Command) (bool, error) {
	switch command.Name {
	case "send":
		if command.Arg == "" {
			return false, nil
		}
		return false, conversation.Send(command.Arg)
	case "open":
		return false, conversation.Open(command.Arg)
	case "resend":
		return false, conversation.Resend(command.Arg)
	case "refresh":
		return false, conversation.Refresh()
	case "quit":
		return true, nil
	default:
		printer.Notice("unknown command /" + command.Name)
		return false, nil
	}
}
