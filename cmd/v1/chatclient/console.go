package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/api"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/store"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
)

var errQuit = errors.New("quit")

// chatSession is the part of session.ChatSession the console drives.
type chatSession interface {
	Store() *store.Store
	SendMessage(ctx context.Context, req types.SendMessageRequest) error
	OpenRoom(ctx context.Context, room types.ChatRoom) error
	LeaveRoom(ctx context.Context, roomID types.RoomIdType) error
	OpenConversation(ctx context.Context, user types.UserSummary) error
	SendTypingStatus(ctx context.Context, roomID types.RoomIdType, isTyping bool)
}

// directory is the part of the REST client the console uses.
type directory interface {
	ListRooms(ctx context.Context) ([]types.ChatRoom, error)
	FriendRequests(ctx context.Context) ([]api.FriendRequest, error)
	RespondToFriendRequest(ctx context.Context, requestID int64, accept bool) error
}

type command struct {
	name string
	args []string
	text string
}

// parseLine splits "/cmd arg rest of text". Lines without a leading slash are "say".
func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{name: "help"}
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	if len(fields) > 2 {
		// Text after the first argument, whitespace preserved.
		rest := strings.TrimSpace(line[1+len(fields[0]):])
		cmd.text = strings.TrimSpace(rest[len(fields[1]):])
	}
	return cmd
}

const helpText = `commands:
  /rooms                 list rooms
  /join <room>           join and open a room
  /leave                 leave the open room
  /dm <user> <text>      send a direct message
  /open <user>           open a direct conversation
  /typing                tell the room you are typing
  /requests              list friend requests
  /accept <id>           accept a friend request
  /decline <id>          decline a friend request
  /quit                  exit
anything else is sent to the open room or conversation`

type console struct {
	session chatSession
	dir     directory
	out     io.Writer
}

// run reads commands from in until EOF, /quit or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := c.exec(ctx, parseLine(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			// Categorized failures already went through the notifier.
			if _, reported := chaterrors.CategoryOf(err); err != nil && !reported {
				fmt.Fprintf(c.out, "! %s\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "say":
		return c.say(ctx, cmd.text)
	case "rooms":
		rooms, err := c.dir.ListRooms(ctx)
		if err != nil {
			return err
		}
		for _, r := range rooms {
			fmt.Fprintf(c.out, "  %s  %s (%d members)\n", r.ID, r.Name, r.MemberCount)
		}
		return nil
	case "join":
		if len(cmd.args) != 1 {
			return errors.New("usage: /join <room>")
		}
		return c.join(ctx, cmd.args[0])
	case "leave":
		room := c.session.Store().ActiveRoom()
		if room == nil {
			return errors.New("no room is open")
		}
		if err := c.session.LeaveRoom(ctx, room.ID); err != nil {
			return err
		}
		c.session.Store().SetActiveRoom(nil)
		fmt.Fprintf(c.out, "left %s\n", room.Name)
		return nil
	case "dm":
		if len(cmd.args) < 2 {
			return errors.New("usage: /dm <user> <text>")
		}
		return c.session.SendMessage(ctx, types.SendMessageRequest{
			ReceiverID: types.UserIdType(cmd.args[0]),
			Content:    cmd.text,
		})
	case "open":
		if len(cmd.args) != 1 {
			return errors.New("usage: /open <user>")
		}
		user := types.UserSummary{ID: types.UserIdType(cmd.args[0]), Username: cmd.args[0]}
		if err := c.session.OpenConversation(ctx, user); err != nil {
			return err
		}
		c.printDirectHistory(user.ID)
		return nil
	case "typing":
		room := c.session.Store().ActiveRoom()
		if room == nil {
			return errors.New("no room is open")
		}
		c.session.SendTypingStatus(ctx, room.ID, true)
		return nil
	case "requests":
		reqs, err := c.dir.FriendRequests(ctx)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			fmt.Fprintf(c.out, "  #%d from %s (%s)\n", r.ID, r.Sender.Username, r.Status)
		}
		return nil
	case "accept", "decline":
		if len(cmd.args) != 1 {
			return fmt.Errorf("usage: /%s <id>", cmd.name)
		}
		id, err := strconv.ParseInt(cmd.args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request id %q", cmd.args[0])
		}
		return c.dir.RespondToFriendRequest(ctx, id, cmd.name == "accept")
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, helpText)
		return nil
	default:
		return fmt.Errorf("unknown command /%s (try /help)", cmd.name)
	}
}

func (c *console) say(ctx context.Context, text string) error {
	st := c.session.Store()
	if room := st.ActiveRoom(); room != nil {
		err := c.session.SendMessage(ctx, types.SendMessageRequest{RoomID: room.ID, Content: text})
		c.session.SendTypingStatus(ctx, room.ID, false)
		return err
	}
	if user := st.ActiveConversation(); user != nil {
		return c.session.SendMessage(ctx, types.SendMessageRequest{ReceiverID: user.ID, Content: text})
	}
	return errors.New("open a room with /join or a conversation with /open first")
}

func (c *console) join(ctx context.Context, ref string) error {
	room := types.ChatRoom{ID: types.RoomIdType(ref), Name: ref}
	if rooms, err := c.dir.ListRooms(ctx); err == nil {
		for _, r := range rooms {
			if string(r.ID) == ref || strings.EqualFold(r.Name, ref) {
				room = r
				break
			}
		}
	}

	if err := c.session.OpenRoom(ctx, room); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "joined %s\n", room.Name)
	for _, m := range c.session.Store().Messages(room.ID) {
		fmt.Fprintln(c.out, formatRoomMessage(m))
	}
	return nil
}

func (c *console) printDirectHistory(user types.UserIdType) {
	for _, m := range c.session.Store().DirectMessages(user) {
		fmt.Fprintln(c.out, formatDirectMessage(m))
	}
}

func formatRoomMessage(m types.ChatMessage) string {
	return fmt.Sprintf("[%s] %s: %s", m.SentAt.Local().Format("15:04"), m.Sender.Username, m.Content)
}

func formatDirectMessage(m types.DirectMessage) string {
	return fmt.Sprintf("[%s] %s -> %s: %s", m.SentAt.Local().Format("15:04"), m.Sender.Username, m.Receiver.Username, m.Content)
}
