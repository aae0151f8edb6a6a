// Command chatviewer is a terminal viewer for one stream's chat. Lines typed
// on stdin are sent as messages, or run as commands when they start with "/".
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/syncclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "chat server base URL")
	streamID := flag.String("stream", "", "stream to watch")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email address")
	poll := flag.Duration("poll", 3*time.Second, "poll interval")
	noPush := flag.Bool("no-push", false, "disable the WebSocket push channel")
	flag.Parse()

	if *streamID == "" || *name == "" || *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	r := &renderer{out: bufio.NewWriter(os.Stdout)}

	cfg := syncclient.DefaultConfig(*streamID, chat.Author{Name: *name, Email: *email})
	cfg.PollInterval = *poll
	cfg.OnChange = r.render

	var push syncclient.Subscriber
	if !*noPush {
		push = syncclient.NewWSSubscriber(*server)
	}
	client := syncclient.New(cfg, syncclient.NewHTTPClient(*server), push)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := client.Submit(ctx, line); err != nil {
				r.error(err)
			}
		}
	}
}

// renderer prints only what changed since the previous snapshot.
type renderer struct {
	mu       sync.Mutex
	out      *bufio.Writer
	state    syncclient.State
	role     chat.Role
	shown    map[int64]bool
	notices  int
	rendered bool
}

func (r *renderer) render(s syncclient.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.rendered || s.State != r.state || s.Role != r.role {
		fmt.Fprintf(r.out, "-- %s (%s) --\n", s.State, s.Role)
		r.state, r.role = s.State, s.Role
	}

	current := make(map[int64]bool, len(s.Messages))
	if r.rendered && len(s.Messages) == 0 && len(r.shown) > 0 {
		fmt.Fprintln(r.out, "-- chat limpo --")
	}
	for _, m := range s.Messages {
		current[m.ID] = true
		// Optimistic entries have negative ids; print them once settled.
		if m.ID <= 0 || r.shown[m.ID] {
			continue
		}
		fmt.Fprintln(r.out, formatMessage(m))
	}
	r.shown = current

	for _, n := range s.Notices[min(r.notices, len(s.Notices)):] {
		fmt.Fprintln(r.out, formatNotice(n))
	}
	r.notices = len(s.Notices)
	r.rendered = true
	r.out.Flush()
}

func (r *renderer) error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, formatError(err))
	r.out.Flush()
}

// formatMessage renders one chat line. Every field that may carry participant
// input goes through TerminalSafe.
func formatMessage(m chat.Message) string {
	return fmt.Sprintf("[%s] %s%s: %s",
		chat.TerminalSafe(m.Timestamp), chat.TerminalSafe(m.Author.Name), badge(m.Role), chat.TerminalSafe(m.Text))
}

func formatNotice(n chat.Message) string {
	return "* " + chat.TerminalSafe(n.Text)
}

func formatError(err error) string {
	if kind := chat.KindOf(err); kind != "" {
		return fmt.Sprintf("! %s: %s", kind, chat.TerminalSafe(err.Error()))
	}
	return "! " + chat.TerminalSafe(err.Error())
}

func badge(r chat.Role) string {
	switch r {
	case chat.RoleOwner:
		return " [dono]"
	case chat.RoleModerator:
		return " [mod]"
	}
	return ""
}
