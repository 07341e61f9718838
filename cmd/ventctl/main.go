package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/config"
	"github.com/matheus3301/ventchat/internal/daemon"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/lock"
	"github.com/matheus3301/ventchat/internal/logging"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/session"
	"github.com/matheus3301/ventchat/internal/status"
	intsync "github.com/matheus3301/ventchat/internal/sync"
)

const lockHolder = "ventctl"

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	levelFlag := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: config: %v\n", err)
		os.Exit(1)
	}

	ctl := &ctl{
		session: sessionName,
		cfg:     cfg,
		json:    *jsonFlag,
		out:     os.Stdout,
		logger:  logging.NewConsole(sessionName, logging.ParseLevel(*levelFlag)),
	}
	defer func() { _ = ctl.logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctl.run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: ventctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status             Show lock holder and storage backend")
	fmt.Fprintln(os.Stderr, "  stats              Count cached entities")
	fmt.Fprintln(os.Stderr, "  chats <userID>     List the cached chat list of a user")
	fmt.Fprintln(os.Stderr, "  messages <chatID>  List cached messages of a chat")
	fmt.Fprintln(os.Stderr, "  clear              Remove every cached entity")
	fmt.Fprintln(os.Stderr, "  sessions list      List known sessions")
}

var errUsage = errors.New("bad usage")

type ctl struct {
	session string
	cfg     *config.Config
	json    bool
	out     io.Writer
	logger  *zap.Logger
	// storage is open only inside withManager.
	storage *daemon.Storage
}

func (c *ctl) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "status":
		return c.status()
	case "stats":
		return c.withManager(ctx, c.stats)
	case "chats":
		if len(args) < 2 {
			return fmt.Errorf("%w: ventctl chats <userID>", errUsage)
		}
		return c.withManager(ctx, func(ctx context.Context, m *offline.Manager) error {
			return c.chats(m, args[1])
		})
	case "messages":
		if len(args) < 2 {
			return fmt.Errorf("%w: ventctl messages <chatID>", errUsage)
		}
		return c.withManager(ctx, func(ctx context.Context, m *offline.Manager) error {
			return c.messages(m, args[1])
		})
	case "clear":
		return c.withManager(ctx, func(ctx context.Context, m *offline.Manager) error {
			if err := m.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Cleared cache of session %s.\n", c.session)
			return nil
		})
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			return c.sessionsList()
		}
		return fmt.Errorf("%w: ventctl sessions list", errUsage)
	}
	printUsage()
	return fmt.Errorf("unknown command: %s", args[0])
}

// withManager takes the session lock, opens storage and loads the caches.
func (c *ctl) withManager(ctx context.Context, fn func(context.Context, *offline.Manager) error) error {
	lk, err := lock.Acquire(session.Dir(c.session), lockHolder)
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			return fmt.Errorf("%w (stop the daemon first)", err)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	st, err := daemon.OpenStorage(c.cfg, c.session, c.logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	c.storage = st
	defer func() { c.storage = nil }()

	b := bus.New()
	var opts []offline.Option
	if st.Recorder != nil {
		opts = append(opts, offline.WithCheckpointRecorder(st.Recorder))
	}
	mgr := offline.NewManager(offline.NewSession(kv.NewLocal(st.Store, c.logger)), status.NewMachine(b), b, c.logger, opts...)
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	return fn(ctx, mgr)
}

type statusOutput struct {
	Session     string     `json:"session"`
	Backend     string     `json:"backend"`
	Running     bool       `json:"running"`
	Holder      string     `json:"holder,omitempty"`
	PID         int        `json:"pid,omitempty"`
	LockedSince *time.Time `json:"locked_since,omitempty"`
}

func (c *ctl) status() error {
	info, ok, err := lock.Inspect(session.Dir(c.session))
	if err != nil {
		return err
	}
	out := statusOutput{Session: c.session, Backend: c.cfg.Storage.Backend, Running: ok}
	if ok {
		out.Holder, out.PID, out.LockedSince = info.Holder, info.PID, &info.Acquired
	}
	if c.json {
		return c.outputJSON(out)
	}
	fmt.Fprintf(c.out, "Session: %s\n", out.Session)
	fmt.Fprintf(c.out, "Backend: %s\n", out.Backend)
	if ok {
		fmt.Fprintf(c.out, "Locked:  by %s (PID %d) since %s\n", out.Holder, out.PID, out.LockedSince.Format(time.RFC3339))
	} else {
		fmt.Fprintln(c.out, "Locked:  no")
	}
	return nil
}

type statsOutput struct {
	Messages    int    `json:"messages"`
	Chats       int    `json:"chats"`
	Users       int    `json:"users"`
	Connections int    `json:"connections"`
	Unsynced    int    `json:"unsynced"`
	Schema      uint   `json:"schema_version,omitempty"`
	Checkpoint  string `json:"last_checkpoint,omitempty"`
}

func (c *ctl) stats(ctx context.Context, m *offline.Manager) error {
	s := m.Session()
	out := statsOutput{
		Messages:    s.Messages.Len(),
		Chats:       len(s.Chats.Chats()),
		Users:       len(s.Users.Users()),
		Connections: len(s.Connections.Connections()),
		Unsynced:    len(s.Messages.UnsyncedMessages()),
	}
	if db := c.storage.DB; db != nil {
		if v, ok, err := db.SchemaVersion(); err == nil && ok {
			out.Schema = v
		}
		if cp, ok, err := db.Checkpoint(ctx, offline.CheckpointKey); err == nil && ok {
			out.Checkpoint = cp
		}
	}
	if c.json {
		return c.outputJSON(out)
	}
	fmt.Fprintf(c.out, "Messages:    %d (%d unsynced)\n", out.Messages, out.Unsynced)
	fmt.Fprintf(c.out, "Chats:       %d\n", out.Chats)
	fmt.Fprintf(c.out, "Users:       %d\n", out.Users)
	fmt.Fprintf(c.out, "Connections: %d\n", out.Connections)
	if out.Checkpoint != "" {
		fmt.Fprintf(c.out, "Checkpoint:  %s (schema v%d)\n", out.Checkpoint, out.Schema)
	}
	return nil
}

func (c *ctl) chats(m *offline.Manager, userID string) error {
	rows := intsync.NewReconciler(m.Session(), nil, nil, c.logger).CachedChatList(userID)
	if c.json {
		return c.outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No chats cached.")
		return nil
	}
	for _, r := range rows {
		unread := ""
		if r.Unread > 0 {
			unread = fmt.Sprintf(" [%d]", r.Unread)
		}
		fmt.Fprintf(c.out, "%-22s %-16s %s%s\n", r.ChatID, r.Partner.Username, r.Preview, unread)
	}
	return nil
}

func (c *ctl) messages(m *offline.Manager, chatID string) error {
	msgs := m.Session().Messages.Messages(chatID)
	if c.json {
		return c.outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(c.out, "No messages cached.")
		return nil
	}
	for _, msg := range msgs {
		fmt.Fprintf(c.out, "%s %-10s %-9s %s\n",
			msg.CreatedAt.Format(time.RFC3339), msg.SenderID, msg.Status, msg.Content)
	}
	return nil
}

type sessionEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func (c *ctl) sessionsList() error {
	entries, err := os.ReadDir(session.Dir(""))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var list []sessionEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		_, running, _ := lock.Inspect(session.Dir(e.Name()))
		list = append(list, sessionEntry{Name: e.Name(), Path: session.Dir(e.Name()), Running: running})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	if c.json {
		return c.outputJSON(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No sessions found.")
		return nil
	}
	for _, s := range list {
		running := "stopped"
		if s.Running {
			running = "running"
		}
		fmt.Fprintf(c.out, "%-20s %s (%s)\n", s.Name, s.Path, running)
	}
	return nil
}

func (c *ctl) outputJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
