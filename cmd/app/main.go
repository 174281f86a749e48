// File: cmd/app/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/config"
	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/adapter"
	"merch-copilot/internal/domain/ports/repository"
	"merch-copilot/internal/infra/agentapi"
	pg "merch-copilot/internal/infra/db/postgres"
	"merch-copilot/internal/infra/logging"
	"merch-copilot/internal/infra/metrics"
	red "merch-copilot/internal/infra/redis"
	"merch-copilot/internal/infra/store"
	tele "merch-copilot/internal/infra/telegram"
	"merch-copilot/internal/infra/voice"
	"merch-copilot/internal/infra/web"
	"merch-copilot/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, verbose)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Agent backend ----
	agent, err := agentapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger)
	if err != nil {
		log.Fatalf("agent api: %v", err)
	}

	// ---- Conversation store (panel surface) ----
	convStore, closeStore, err := buildStore(ctx, cfg, model.PanelGreeting(), logger)
	if err != nil {
		log.Fatalf("conversation store: %v", err)
	}
	defer closeStore()

	// ---- Transcript archive (optional) ----
	var archive repository.ConversationArchive
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		archive = pg.NewArchiveRepo(pool)
	}

	chatUC, err := usecase.NewChatUseCase(convStore, agent, archive, model.PanelText(), usecase.ChatOptions{
		Surface:       "repl",
		StoreID:       cfg.Chat.StoreID,
		ItemID:        cfg.Chat.ItemID,
		Objective:     cfg.Chat.Objective,
		WhatIf:        cfg.Chat.WhatIf,
		HistoryWindow: cfg.Chat.HistoryWindow,
	}, logger)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	chatUC.RefreshSummary(ctx)

	// ---- Voice ----
	recognizer := buildRecognizer(cfg, logger)

	// ---- Admin server (optional) ----
	if cfg.Admin.Port > 0 {
		adminSrv := web.NewServer(chatUC, archive, cfg.Admin.APIKey, logger)
		go func() {
			if err := adminSrv.Start(cfg.Admin.Port); err != nil {
				logger.Warn().Err(err).Msg("admin server stopped")
			}
		}()
		defer func() { _ = adminSrv.Shutdown(context.Background()) }()
	}

	// ---- Telegram surface (optional, own slot and policies) ----
	if cfg.Bot.Token != "" {
		shellStore := store.NewSplitStore(cfg.Store.IDPath, cfg.Store.MessagesPath, model.ShellGreeting(), logger)
		shellUC, err := usecase.NewChatUseCase(shellStore, agent, archive, model.ShellText(), usecase.ChatOptions{
			Surface:       "telegram",
			StoreID:       cfg.Chat.StoreID,
			Objective:     cfg.Chat.Objective,
			WhatIf:        cfg.Chat.WhatIf,
			HistoryWindow: cfg.Chat.HistoryWindow,
		}, logger)
		if err != nil {
			log.Fatalf("telegram chat: %v", err)
		}
		bot, err := tele.NewBot(&cfg.Bot, shellUC, logger)
		if err != nil {
			log.Fatalf("telegram: %v", err)
		}
		go func() {
			if err := bot.StartPolling(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("telegram polling stopped")
			}
		}()
		defer bot.StopPolling()
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		runREPL(ctx, chatUC, agent, recognizer)
	}()
	awaitShutdown(ctx, replDone)
}

// awaitShutdown returns when the REPL finishes or a signal cancels the
// context, so main's deferred cleanup runs on both paths.
func awaitShutdown(ctx context.Context, replDone <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-replDone:
	}
}

func buildStore(ctx context.Context, cfg *config.Config, policy model.GreetingPolicy, logger *zerolog.Logger) (repository.ConversationStore, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return red.NewConversationStore(client, cfg.Redis.TTL, policy, logger), func() { _ = client.Close() }, nil
	case "split":
		return store.NewSplitStore(cfg.Store.IDPath, cfg.Store.MessagesPath, policy, logger), func() {}, nil
	default:
		return store.NewFileStore(cfg.Store.Path, policy, logger), func() {}, nil
	}
}

func buildRecognizer(cfg *config.Config, logger *zerolog.Logger) adapter.SpeechRecognizer {
	var tr voice.Transcriber
	if t, err := voice.NewOpenAITranscriber(cfg.Voice.OpenAIKey, cfg.Voice.Model); err == nil {
		tr = t
	} else {
		logger.Debug().Err(err).Msg("voice transcriber not configured")
	}
	rec := voice.NewExecRecorder(cfg.Voice.Recorder)
	segment := time.Duration(cfg.Voice.SegmentSeconds) * time.Second
	return voice.NewRecognizer(rec, tr, cfg.Voice.Language, segment, cfg.Voice.MaxDuration, logger)
}

func runREPL(ctx context.Context, chatUC usecase.ChatUseCase, agent adapter.AgentGateway, recognizer adapter.SpeechRecognizer) {
	printTranscript(chatUC.Conversation())
	if !recognizer.Supported() {
		fmt.Println("(voice input unavailable on this host)")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	pending := ""
	for {
		if ctx.Err() != nil {
			return
		}
		if pending != "" {
			fmt.Printf("[voice draft] %s\n(press enter to send, or type to replace)\n", pending)
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" && pending != "" {
			line, pending = pending, ""
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := command(ctx, chatUC, agent, recognizer, scanner, line, &pending); quit {
				return
			}
			continue
		}
		pending = ""
		submit(ctx, chatUC, line)
	}
}

func command(ctx context.Context, chatUC usecase.ChatUseCase, agent adapter.AgentGateway, recognizer adapter.SpeechRecognizer, scanner *bufio.Scanner, line string, pending *string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case ":q", ":quit":
		return true
	case ":new":
		conv, err := chatUC.NewChat(ctx)
		if err != nil {
			fmt.Println("new chat failed:", err)
			return false
		}
		printTranscript(conv)
	case ":panels":
		printPanels(chatUC, agent)
	case ":store":
		chatUC.SetStoreID(arg)
		fmt.Println("store filter:", orNone(arg))
	case ":item":
		chatUC.SetItemID(arg)
		fmt.Println("item filter:", orNone(arg))
	case ":whatif":
		if err := applyWhatIf(chatUC, fields[1:]); err != nil {
			fmt.Println(err)
		}
	case ":voice":
		captureVoice(ctx, recognizer, scanner, pending)
	case ":forecast":
		out, err := agent.FutureForecast(ctx, arg, "")
		printReport(out, err)
	case ":recs":
		if arg == "" {
			arg = "inventory"
		}
		out, err := agent.Recs(ctx, arg, "")
		printReport(out, err)
	default:
		fmt.Println("commands: :new :panels :store :item :whatif :voice :forecast :recs :quit")
	}
	return false
}

func submit(ctx context.Context, chatUC usecase.ChatUseCase, text string) {
	fmt.Println("Thinking…")
	err := chatUC.Submit(ctx, text)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return
	case errors.Is(err, domain.ErrBusy):
		fmt.Println("still working on the previous question")
		return
	case err != nil:
		fmt.Println("submit failed:", err)
		return
	}
	conv := chatUC.Conversation()
	if n := len(conv.Messages); n > 0 {
		printMessage(conv.Messages[n-1])
	}
}

func captureVoice(ctx context.Context, recognizer adapter.SpeechRecognizer, scanner *bufio.Scanner, pending *string) {
	if !recognizer.Supported() {
		fmt.Println("voice input unavailable on this host")
		return
	}
	draft := ""
	fmt.Println("listening… press enter to stop")
	err := recognizer.Start(ctx, func(text string) {
		draft = text
		fmt.Printf("\r… %s", text)
	})
	if errors.Is(err, domain.ErrRecognizerBusy) {
		fmt.Println("already listening")
		return
	}
	if err != nil {
		return
	}
	scanner.Scan()
	recognizer.Stop()
	fmt.Println()
	*pending = draft
}

func applyWhatIf(chatUC usecase.ChatUseCase, pairs []string) error {
	w := chatUC.WhatIf()
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", p)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		switch k {
		case "service_level":
			w.ServiceLevel = f
		case "lead_time_days":
			w.LeadTimeDays = f
		case "holding_cost_per_unit":
			w.HoldingCostPerUnit = f
		case "stockout_penalty_per_unit":
			w.StockoutPenaltyPerUnit = f
		default:
			return fmt.Errorf("unknown what-if parameter %q", k)
		}
	}
	chatUC.SetWhatIf(w)
	fmt.Printf("what-if: service=%.2f lead=%.0fd holding=%.2f stockout=%.2f\n",
		w.ServiceLevel, w.LeadTimeDays, w.HoldingCostPerUnit, w.StockoutPenaltyPerUnit)
	return nil
}

func printTranscript(conv *model.Conversation) {
	fmt.Printf("conversation %s\n", conv.ID)
	for _, m := range conv.Messages {
		printMessage(m)
	}
}

func printMessage(m model.ChatMessage) {
	prefix := "copilot"
	if m.Role == model.RoleUser {
		prefix = "you"
	}
	fmt.Printf("%s> %s\n", prefix, m.Text)
}

func printPanels(chatUC usecase.ChatUseCase, agent adapter.AgentGateway) {
	for _, k := range chatUC.KPIs() {
		fmt.Printf("%-28s %s\n", k.Title, k.Value)
	}
	view, ok := chatUC.View()
	if !ok {
		fmt.Println("Downloads: Run the agent to populate links.")
		return
	}
	if len(view.Decisions) > 0 {
		fmt.Println("Decision:")
		for i, d := range view.Decisions {
			if i == 6 {
				break
			}
			fmt.Println("  -", d)
		}
	}
	printRows("Inventory actions (Top 10)", view.InventoryActions)
	printRows("Pricing actions (Top 10)", view.PricingActions)
	fmt.Println("Tool trace:")
	fmt.Println(view.ToolTrace())
	if len(view.Downloads) == 0 {
		fmt.Println("Downloads: Run the agent to populate links.")
		return
	}
	fmt.Println("Downloads:")
	for _, label := range view.DownloadLabels() {
		fmt.Printf("  %s: %s\n", label, agent.DownloadURL(view.Downloads[label]))
	}
}

func printRows(title string, rows []map[string]any) {
	fmt.Println(title + ":")
	if len(rows) == 0 {
		fmt.Println("  (none)")
		return
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
		}
		fmt.Println("  " + strings.Join(parts, " "))
	}
}

func printReport(out any, err error) {
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("%v\n", out)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
