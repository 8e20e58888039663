package main

import (
	"bufio"
	"chatus/client"
	"chatus/logger"
	"chatus/protocol"
	"chatus/retry"
	"chatus/tictactoe"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	errUnknownCommand = errors.New("unknown command, try /help")
	errUsage          = errors.New("bad arguments, try /help")
)

const connectHelp = `/typing, /idle       typing indicator on or off
/edit <id> <text>    edit one of your messages
/delete <id>         delete one of your messages
/read <id>           mark messages up to <id> as read
/history [before]    load older messages (before is unix ms)
/game                start or rematch tic-tac-toe
/move <0-8>          play a cell
/undo, /redo         canvas history
/quit                leave`

type connectOptions struct {
	server   string
	origin   string
	username string
	password string
	peer     string
	signup   bool
	debug    bool
}

func newConnectCmd(opts *connectOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Chat with another user from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.password == "" {
				opts.password = os.Getenv("CHATUS_PASSWORD")
			}
			if opts.username == "" || opts.peer == "" || opts.password == "" {
				return errors.New("--username, --peer and a password (--password or CHATUS_PASSWORD) are required")
			}
			logger.Init(os.Stderr, opts.debug)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, *opts, os.Stdin, os.Stdout)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.server, "server", "http://localhost:5000", "server base URL")
	fs.StringVar(&opts.origin, "origin", "http://localhost:5000", "Origin header, must be allow-listed by the server")
	fs.StringVar(&opts.username, "username", "", "your username")
	fs.StringVar(&opts.password, "password", "", "your password (env CHATUS_PASSWORD)")
	fs.StringVar(&opts.peer, "peer", "", "username to chat with")
	fs.BoolVar(&opts.signup, "signup", false, "create the account first")
	fs.BoolVar(&opts.debug, "debug", false, "verbose logs on stderr")
	return cmd
}

func runConnect(ctx context.Context, opts connectOptions, in io.Reader, out io.Writer) error {
	api, err := client.NewAPI(opts.server, opts.origin)
	if err != nil {
		return err
	}
	if opts.signup {
		err = api.Signup(ctx, opts.username, opts.password)
	} else {
		err = api.Login(ctx, opts.username, opts.password)
	}
	if err != nil {
		return err
	}

	conv, err := api.OpenConversation(ctx, opts.peer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "* chatting with %s, /help for commands\n", conv.PeerUsername)

	c := client.New(api.SocketConfig(conv.Id), retry.WithStateChange(func(s retry.State) {
		fmt.Fprintf(out, "* %s\n", s)
	}))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(runCtx) }()

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for p := range c.Incoming() {
			render(out, p.Payload)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	finish := func() error {
		cancel()
		err := <-runErr
		<-rendered
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for {
		select {
		case err := <-runErr:
			<-rendered
			return err
		case line, ok := <-lines:
			if !ok {
				return finish()
			}
			if strings.TrimSpace(line) == "/help" {
				fmt.Fprintln(out, connectHelp)
				continue
			}
			payload, quit, err := parseCommand(line)
			if quit {
				return finish()
			}
			if err != nil {
				fmt.Fprintln(out, "!", err)
				continue
			}
			if payload == nil {
				continue
			}
			if err := c.Send(payload); err != nil {
				fmt.Fprintln(out, "!", err)
			}
		}
	}
}

// parseCommand turns one input line into a packet. Plain text is a message.
func parseCommand(line string) (protocol.ClientPayload, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return &protocol.SendMessage{ClientId: uuid.NewString(), Text: line}, false, nil
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/quit":
		return nil, true, nil
	case "/typing":
		return &protocol.Typing{Active: true}, false, nil
	case "/idle":
		return &protocol.Typing{Active: false}, false, nil
	case "/game":
		return &protocol.GameStart{}, false, nil
	case "/undo":
		return &protocol.CanvasOp{Kind: protocol.CanvasUndo}, false, nil
	case "/redo":
		return &protocol.CanvasOp{Kind: protocol.CanvasRedo}, false, nil
	case "/move":
		if len(args) != 1 {
			return nil, false, errUsage
		}
		cell, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, false, errUsage
		}
		return &protocol.GameMove{Cell: cell}, false, nil
	case "/history":
		req := &protocol.FetchHistory{Limit: 20}
		if len(args) == 1 {
			before, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return nil, false, errUsage
			}
			req.Before = before
		}
		return req, false, nil
	case "/edit":
		if len(args) < 2 {
			return nil, false, errUsage
		}
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "/edit"), " "+args[0]))
		return &protocol.EditMessage{MessageId: args[0], Text: text}, false, nil
	case "/delete":
		if len(args) != 1 {
			return nil, false, errUsage
		}
		return &protocol.DeleteMessage{MessageId: args[0]}, false, nil
	case "/read":
		if len(args) != 1 {
			return nil, false, errUsage
		}
		return &protocol.MarkRead{MessageId: args[0]}, false, nil
	}
	return nil, false, errUnknownCommand
}

func render(out io.Writer, p protocol.ServerPayload) {
	switch m := p.(type) {
	case *protocol.ChatMessage:
		renderMessage(out, m)
	case *protocol.History:
		for i := range m.Messages {
			renderMessage(out, &m.Messages[i])
		}
		if m.HasMore && len(m.Messages) > 0 {
			fmt.Fprintf(out, "* older messages: /history %d\n", m.Messages[0].CreatedAt)
		}
	case *protocol.Snapshot:
		names := make([]string, 0, len(m.Online))
		for _, pr := range m.Online {
			names = append(names, pr.Username)
		}
		fmt.Fprintf(out, "* online: %s\n", strings.Join(names, ", "))
		render(out, &m.History)
		if m.Game != nil {
			render(out, m.Game)
		}
	case *protocol.Presence:
		state := "offline"
		if m.Online {
			state = "online"
		}
		fmt.Fprintf(out, "* %s is %s\n", m.Username, state)
	case *protocol.TypingUpdate:
		if m.Active {
			fmt.Fprintf(out, "* %s is typing...\n", m.Username)
		}
	case *protocol.ReadReceipt:
		fmt.Fprintf(out, "* read up to %s\n", m.MessageId)
	case *protocol.GameState:
		renderGame(out, m)
	case *protocol.StrokeBatch:
		fmt.Fprintf(out, "* %d new strokes on the canvas\n", len(m.Strokes))
	case *protocol.CanvasSnapshot:
		strokes := 0
		for _, l := range m.Layers {
			strokes += len(l.Strokes)
		}
		fmt.Fprintf(out, "* canvas: %d layers, %d strokes\n", len(m.Layers), strokes)
	case *protocol.Error:
		fmt.Fprintf(out, "! %s\n", m.Code)
	}
}

func renderMessage(out io.Writer, m *protocol.ChatMessage) {
	at := time.UnixMilli(m.CreatedAt).Format("15:04")
	text := m.Text
	switch {
	case m.Deleted:
		text = "(deleted)"
	case m.EditedAt != 0:
		text += " (edited)"
	}
	fmt.Fprintf(out, "[%s] %s: %s  #%s\n", at, m.SenderName, text, m.Id)
}

var markGlyphs = map[tictactoe.Mark]string{tictactoe.Empty: ".", tictactoe.X: "X", tictactoe.O: "O"}

func renderGame(out io.Writer, g *protocol.GameState) {
	for row := 0; row < 3; row++ {
		fmt.Fprintf(out, "  %s %s %s\n", markGlyphs[g.Board[row*3]], markGlyphs[g.Board[row*3+1]], markGlyphs[g.Board[row*3+2]])
	}
	switch g.Status {
	case tictactoe.InProgress:
		turn := g.Players[0]
		if g.Turn == tictactoe.O {
			turn = g.Players[1]
		}
		fmt.Fprintf(out, "* %s to move\n", turn)
	case tictactoe.XWon:
		fmt.Fprintf(out, "* %s wins\n", g.Players[0])
	case tictactoe.OWon:
		fmt.Fprintf(out, "* %s wins\n", g.Players[1])
	case tictactoe.Draw:
		fmt.Fprintln(out, "* draw")
	}
}
