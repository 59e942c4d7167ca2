package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/veldt-ai/go-chat/internal/client"
	"github.com/veldt-ai/go-chat/internal/config"
	"github.com/veldt-ai/go-chat/internal/eventbus"
	"github.com/veldt-ai/go-chat/internal/idgen"
	"github.com/veldt-ai/go-chat/internal/monitor"
	"github.com/veldt-ai/go-chat/internal/protocol"
	"github.com/veldt-ai/go-chat/internal/reasoning"
	"github.com/veldt-ai/go-chat/internal/state"
	"github.com/veldt-ai/go-chat/internal/tasks"
	"github.com/veldt-ai/go-chat/internal/transcript"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := state.NewStore(db)

	bus := eventbus.NewBus()
	api := client.New(cfg.BaseURL, client.WithBus(bus), client.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MonitorAddr != "" {
		mon := &monitor.Server{Bus: bus}
		srv := &http.Server{Addr: cfg.MonitorAddr, Handler: mon.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("monitor listening", "addr", cfg.MonitorAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("monitor server", "error", err)
			}
		}()
		defer srv.Close()
	}

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var runErr error
	switch args[0] {
	case "send":
		runErr = cmdSend(ctx, cfg, api, store, bus, args[1:])
	case "tasks":
		runErr = cmdTasks(ctx, api, store, args[1:])
	case "history":
		runErr = cmdHistory(ctx, api, store, args[1:])
	case "prefs":
		runErr = cmdPrefs(ctx, store, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		logger.Error(args[0], "error", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  chatctl send <message>
  chatctl tasks run <batch.json>
  chatctl tasks cancel <parent_chat_id> <task_id>
  chatctl history [limit]
  chatctl prefs [<provider> <model>]`)
}

func cmdSend(ctx context.Context, cfg config.Config, api *client.Client, store *state.Store, bus *eventbus.Bus, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("message is required")
	}
	message := strings.Join(args, " ")

	provider, model, err := resolveSelection(ctx, cfg, store)
	if err != nil {
		return err
	}

	tr := transcript.New(transcript.WithHistoryRefresh(func() {
		_, _ = bus.Publish(eventbus.EventInput{
			Stream: eventbus.StreamHistory,
			Body:   "chat history changed",
		})
	}))

	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	go renderStream(renderCtx, bus, tr)

	msg, err := api.ChatStream(ctx, protocol.ChatRequest{
		Message:  message,
		AgentID:  cfg.AgentID,
		Provider: provider,
		Model:    model,
	}, tr)
	if err != nil {
		return err
	}
	stopRender()

	split := reasoning.SplitThought(msg.Content)
	fmt.Println()
	if split.Seen && split.Thought != "" {
		fmt.Printf("--- reasoning (%.1fs) ---\n%s\n---\n", msg.ThoughtDuration, split.Thought)
	}
	fmt.Println(split.Content)
	if msg.TotalTokens > 0 {
		fmt.Printf("\n[%d tokens, %.1f tok/s, first token %dms]\n", msg.TotalTokens, msg.TPS, msg.FirstTokenMS)
	}

	if tr.ChatID != "" {
		_ = store.UpsertChat(ctx, tr.ChatID, firstLine(message))
	}
	_ = store.SetPreference(ctx, state.PrefProvider, provider)
	_ = store.SetPreference(ctx, state.PrefModel, model)
	return nil
}

// renderStream prints visible content incrementally as deltas land,
// running the reasoning split over the full accumulated text each time
// so partial tags never flicker into the output.
func renderStream(ctx context.Context, bus *eventbus.Bus, tr *transcript.Transcript) {
	sub := bus.Subscribe(ctx, []string{eventbus.StreamProtocol})
	printed := 0
	thinking := false
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			msg := tr.Current()
			if msg == nil {
				continue
			}
			split := reasoning.SplitThought(msg.Content)
			if split.Thinking && !thinking {
				fmt.Fprint(os.Stderr, "(thinking...)\n")
				thinking = true
			}
			if len(split.Content) > printed {
				fmt.Print(split.Content[printed:])
				printed = len(split.Content)
			}
		}
	}
}

func cmdTasks(ctx context.Context, api *client.Client, store *state.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tasks subcommand is required")
	}
	switch args[0] {
	case "run":
		if len(args) != 2 {
			return fmt.Errorf("usage: chatctl tasks run <batch.json>")
		}
		return runTaskBatch(ctx, api, store, args[1])
	case "cancel":
		if len(args) != 3 {
			return fmt.Errorf("usage: chatctl tasks cancel <parent_chat_id> <task_id>")
		}
		return api.CancelTask(ctx, args[1], args[2])
	default:
		return fmt.Errorf("unknown tasks subcommand %q", args[0])
	}
}

func runTaskBatch(ctx context.Context, api *client.Client, store *state.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var req protocol.TaskBatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	machine := tasks.NewMachine(req.ParentChatID, idgen.TraceID(), tasks.WithJournal(func(task tasks.Task) {
		_ = store.RecordTaskTrace(context.Background(), state.TaskTrace{
			ParentChatID: req.ParentChatID,
			TaskID:       task.ID,
			Status:       string(task.Status),
			Error:        task.Error,
		})
	}))
	req = machine.RegisterBatch(req)

	if err := api.StreamTasks(ctx, req, machine); err != nil {
		return err
	}

	for _, task := range machine.Snapshot() {
		line := fmt.Sprintf("%s\t%s", task.ID, task.Status)
		if task.Error != "" {
			line += "\t" + task.Error
		}
		fmt.Println(line)
	}
	return nil
}

func cmdHistory(ctx context.Context, api *client.Client, store *state.Store, args []string) error {
	limit := 20
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil {
			limit = parsed
		}
	}
	chats, err := api.ListChats(ctx, limit)
	if err != nil {
		// The platform may be unreachable; fall back to the local cache.
		cached, cacheErr := store.ListChats(ctx, limit)
		if cacheErr != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "(offline: showing cached chats)")
		for _, chat := range cached {
			fmt.Printf("%s\t%s\n", chat.ID, chat.Title)
		}
		return nil
	}
	for _, chat := range chats {
		fmt.Printf("%s\t%s\t%s\n", chat.ID, chat.UpdatedAt.Format(time.RFC3339), chat.Title)
		_ = store.UpsertChat(ctx, chat.ID, chat.Title)
	}
	return nil
}

func cmdPrefs(ctx context.Context, store *state.Store, args []string) error {
	switch len(args) {
	case 0:
		provider, _ := store.GetPreference(ctx, state.PrefProvider)
		model, _ := store.GetPreference(ctx, state.PrefModel)
		fmt.Printf("provider=%s\nmodel=%s\n", provider, model)
		return nil
	case 2:
		if err := store.SetPreference(ctx, state.PrefProvider, args[0]); err != nil {
			return err
		}
		return store.SetPreference(ctx, state.PrefModel, args[1])
	default:
		return fmt.Errorf("usage: chatctl prefs [<provider> <model>]")
	}
}

// resolveSelection picks provider/model from env config first, then the
// stored preferences.
func resolveSelection(ctx context.Context, cfg config.Config, store *state.Store) (string, string, error) {
	provider := cfg.Provider
	model := cfg.Model
	if provider == "" {
		provider, _ = store.GetPreference(ctx, state.PrefProvider)
	}
	if model == "" {
		model, _ = store.GetPreference(ctx, state.PrefModel)
	}
	if provider == "" || model == "" {
		return "", "", fmt.Errorf("provider and model are required (set VELDT_PROVIDER/VELDT_MODEL or run: chatctl prefs <provider> <model>)")
	}
	return provider, model, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
