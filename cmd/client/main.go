package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"lets-chat/domain"
	"lets-chat/domain/event"
	"lets-chat/projection"
	"lets-chat/search"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
)

const usage = `commands:
  /users                     list users, online first
  /to <username|id>          pick who to talk to
  /history                   open the conversation (marks it read)
  /find <terms> [--with id] [--limit n]
  /online                    ask for the online list
  /quit
anything else is sent to the current peer`

type client struct {
	config Config
	rest   *restClient
	conn     *websocket.Conn
	me       domain.User
	timeline *projection.Timeline

	mu   sync.Mutex
	peer *domain.DirectoryEntry
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	color.Enable = config.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &client{config: config, rest: newRestClient(config.ServerURL)}
	if c.me, err = c.rest.login(ctx, config.Email, config.Password); err != nil {
		return err
	}
	color.Green.Printf("Logged in as %s (%s)\n", c.me.Username, c.me.ID)
	c.timeline = projection.NewTimeline(c.me.ID)

	wsURL := "ws" + strings.TrimPrefix(config.ServerURL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + c.rest.token}}
	c.conn, _, err = websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer c.conn.Close()

	if config.Peer != "" {
		c.choose(ctx, config.Peer)
	}
	fmt.Println(usage)

	go c.listen(stop)
	go c.prompt(ctx, stop)

	<-ctx.Done()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

// listen prints server events until the socket closes.
func (c *client) listen(stop context.CancelFunc) {
	defer stop()
	for {
		var env event.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			color.Red.Printf("connection closed: %v\n", err)
			return
		}
		c.render(env)
	}
}

func (c *client) render(env event.Envelope) {
	switch env.Type {
	case event.MessageType:
		var m domain.Message
		if json.Unmarshal(env.Data, &m) == nil && c.timeline.Consume(event.LiveMessage{Message: m}) {
			c.print(m)
		}
	case event.TypingType:
		var t event.TypingNotice
		if json.Unmarshal(env.Data, &t) == nil && t.IsTyping {
			color.Gray.Printf("%s is typing...\n", t.Username)
		}
	case event.UserOnlineType, event.UserOfflineType:
		var u event.UserOnline
		if json.Unmarshal(env.Data, &u) == nil {
			state := "online"
			if env.Type == event.UserOfflineType {
				state = "offline"
			}
			color.Yellow.Printf("%s is %s\n", u.Username, state)
		}
	case event.MessageReadType:
		var r event.MessageRead
		if json.Unmarshal(env.Data, &r) == nil && c.timeline.Consume(r) {
			color.Gray.Printf("read by %s\n", r.ReadBy)
		}
	case event.OnlineUsersType:
		color.Yellow.Printf("online: %s\n", string(env.Data))
	case event.ErrorType:
		var e event.Error
		if json.Unmarshal(env.Data, &e) == nil {
			color.Red.Printf("error: %s\n", e.Message)
		}
	}
}

func (c *client) prompt(ctx context.Context, stop context.CancelFunc) {
	defer stop()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		command, arg, _ := strings.Cut(line, " ")
		switch command {
		case "/quit":
			return
		case "/users":
			c.users(ctx)
		case "/to":
			c.choose(ctx, strings.TrimSpace(arg))
		case "/history":
			c.history(ctx)
		case "/find":
			c.find(ctx, line)
		case "/online":
			c.emit(event.GetOnlineUsersType, struct{}{})
		default:
			c.say(ctx, line)
		}
	}
}

func (c *client) users(ctx context.Context) {
	entries, err := c.rest.directory(ctx)
	if err != nil {
		color.Red.Println(err)
		return
	}
	for _, e := range entries {
		state := color.Gray.Render("offline")
		if e.IsOnline {
			state = color.Green.Render("online")
		}
		fmt.Printf("  %-20s %s  %s\n", e.Username, state, e.ID)
	}
}

func (c *client) choose(ctx context.Context, who string) {
	entries, err := c.rest.directory(ctx)
	if err != nil {
		color.Red.Println(err)
		return
	}
	for _, e := range entries {
		if e.ID == who || strings.EqualFold(e.Username, who) {
			c.mu.Lock()
			c.peer = &e
			c.mu.Unlock()
			color.Green.Printf("talking to %s\n", e.Username)
			return
		}
	}
	color.Red.Printf("no user %q\n", who)
}

func (c *client) current() *domain.DirectoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *client) history(ctx context.Context) {
	peer := c.current()
	if peer == nil {
		color.Red.Println("pick someone with /to first")
		return
	}
	messages, err := c.rest.history(ctx, peer.ID, 50)
	if err != nil {
		color.Red.Println(err)
		return
	}
	c.timeline.Merge(messages...)
	conversationID := domain.ConversationID(c.me.ID, peer.ID)
	for _, m := range c.timeline.Conversation(conversationID) {
		c.print(m)
	}
}

func (c *client) print(m domain.Message) {
	at := m.CreatedAt.Local().Format(time.Kitchen)
	if m.SenderID != c.me.ID {
		color.Cyan.Printf("[%s] %s: %s\n", at, m.SenderUsername, m.Content)
		return
	}
	tick := ""
	if m.IsRead {
		tick = " ✓"
	}
	color.Gray.Printf("[%s] me -> %s: %s%s\n", at, m.ReceiverUsername, m.Content, tick)
}

func (c *client) find(ctx context.Context, line string) {
	results, err := c.rest.search(ctx, search.ParseQuery(line))
	if err != nil {
		color.Red.Println(err)
		return
	}
	if len(results) == 0 {
		color.Gray.Println("no match")
	}
	for _, m := range results {
		fmt.Printf("  [%s] %s -> %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), m.SenderUsername, m.ReceiverUsername, m.Content)
	}
}

// say stores the message, then pushes the live copy.
func (c *client) say(ctx context.Context, content string) {
	peer := c.current()
	if peer == nil {
		color.Red.Println("pick someone with /to first")
		return
	}
	if _, err := c.rest.send(ctx, peer.ID, content); err != nil {
		color.Red.Println(err)
		return
	}
	c.emit(event.SendMessageType, event.SendMessage{
		Content:          content,
		ReceiverID:       peer.ID,
		ReceiverUsername: peer.Username,
		ConversationID:   domain.ConversationID(c.me.ID, peer.ID),
	})
}

func (c *client) emit(kind event.Type, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := c.conn.WriteJSON(event.Envelope{Type: kind, Data: payload}); err != nil {
		color.Red.Printf("send failed: %v\n", err)
	}
}
