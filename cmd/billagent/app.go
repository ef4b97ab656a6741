package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"maps"
	"path/filepath"
	"time"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/gateway"
	"github.com/rahul/billagent/internal/governance"
	"github.com/rahul/billagent/internal/llm"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/relevance"
	"github.com/rahul/billagent/internal/reminder"
	"github.com/rahul/billagent/internal/store"
	"github.com/rahul/billagent/internal/tools"
	"github.com/rahul/billagent/pkg/config"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	logger     *observability.Logger
	router     *notify.Router
	reminders  *store.ReminderStore
	history    *store.HistoryStore
	executor   *agent.Executor
	dispatcher *reminder.Dispatcher
	telegram   *gateway.TelegramGateway
}

func newApp(cfg *config.Config, events io.Writer) (*app, error) {
	logger := observability.NewLoggerTo(events, filepath.Join(cfg.App.LogDir, "llm.jsonl"))

	db, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, logger: logger, router: notify.NewRouter()}
	a.reminders = store.NewReminderStore(db)
	history := store.NewHistoryStore(db)
	a.history = history

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		db.Close()
		return nil, fmt.Errorf("no enabled provider found in config")
	}
	client, err := llm.NewModel(pName, pCfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	model := llm.NewRateLimited(client, pCfg.RequestsPerSec, 2)

	embedder, err := llm.NewEmbedder(client)
	if err != nil {
		db.Close()
		return nil, err
	}
	vectors := store.NewVectorStore(db, embedder)

	prompts := llm.NewPromptManager(cfg.App.Prompts)

	registry := tools.NewRegistry(tools.NewScraperTool(), tools.NewRAGTool(vectors))
	web, err := tools.NewWebSearch(5)
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(tools.NewSearchTool(web))
	}

	a.registerSenders()

	scorer := llm.NewScorer(model, prompts, logger)
	filter := relevance.NewFilter(scorer, logger)
	filter.BatchSize = cfg.Scan.BatchSize
	filter.Concurrency = cfg.Scan.Concurrency
	filter.Keywords = keywords(cfg.Scan.Keywords)

	responder := llm.NewResponder(model, registry, governance.NewToolCallPolicy(), history, prompts, logger)
	ex := agent.NewExecutor(llm.NewClassifier(model, prompts, logger), responder, executorOptions(cfg), logger)
	ex.Filter = filter
	ex.Parser = tools.NewPDFParser()
	ex.Extractor = llm.NewExtractor(model, logger)
	ex.Store = store.NewDocuments(vectors)
	ex.Reminders = a.reminders
	ex.Notifier = a.router
	ex.History = history
	if web != nil {
		ex.Search = web
	}
	if cfg.Mail.Host != "" {
		ex.Fetcher = mail.NewIMAPFetcher(mail.IMAPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			Mailbox:  cfg.Mail.Mailbox,
			Folders:  cfg.Mail.Folders,
		}, mail.NewAttachmentDir(cfg.Mail.AttachmentsDir), tools.MailText)
	} else {
		log.Printf("Warning: No mailbox configured; scans will report an error")
	}
	a.executor = ex

	interval := time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	a.dispatcher = reminder.NewDispatcher(a.reminders, a.router, interval, logger)
	return a, nil
}

// registerSenders wires every configured outbound channel into the router.
func (a *app) registerSenders() {
	cfg := a.cfg
	a.router.Register(notify.ChannelConsole, notify.NewConsoleSender(observability.NewTermWriter()))

	if cfg.SMTP.Host != "" {
		a.router.Register(notify.ChannelEmail, notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	}

	if dc, ok := cfg.GetDiscordConfig(); ok {
		sender, err := notify.NewDiscordSender(dc.Token)
		if err != nil {
			log.Printf("Warning: Failed to initialize discord: %v", err)
		} else {
			a.router.Register(notify.ChannelDiscord, sender)
		}
	}
}

// withTelegram connects the Telegram bot, used both to answer chats and to
// deliver notifications.
func (a *app) withTelegram() error {
	tgCfg, ok := a.cfg.GetTelegramConfig()
	if !ok {
		return fmt.Errorf("telegram gateway is not enabled or token is missing")
	}
	tg, err := gateway.NewTelegramGateway(tgCfg.Token, a.executor, tgCfg.AllowedChats)
	if err != nil {
		return err
	}
	tg.History = a.history
	a.telegram = tg
	a.router.Register(notify.ChannelTelegram, tg)
	return nil
}

func (a *app) Close() error {
	if a.telegram != nil {
		a.telegram.Stop()
	}
	return a.db.Close()
}

// watchDeliveries reports each dispatcher outcome; failures are pushed to the
// console so they are seen without reading the logs.
func (a *app) watchDeliveries(ctx context.Context) {
	a.dispatcher.OnSent = func(r reminder.Reminder) {
		log.Printf("[Dispatcher] Reminded %s about %s via %s", r.Recipient, r.Vendor, r.Channel)
	}
	a.dispatcher.OnFailed = func(r reminder.Reminder, err error) {
		text := fmt.Sprintf("Reminder for %s (due %s) could not be sent via %s: %v",
			r.Vendor, r.DueDate.Format("2006-01-02"), r.Channel, err)
		if sendErr := a.router.Send(ctx, notify.ChannelConsole, "dispatcher", text); sendErr != nil {
			log.Printf("[Dispatcher] %s", text)
		}
	}
}

func executorOptions(cfg *config.Config) agent.Options {
	opts := agent.DefaultOptions()
	opts.ScanDays = cfg.Scan.Days
	opts.MaxResults = cfg.Scan.MaxResults
	opts.TopK = cfg.Scan.TopK
	opts.DaysBefore = cfg.Notify.DaysBefore
	if ch, ok := notify.ParseChannel(cfg.Notify.ReminderChannel); ok {
		opts.ReminderChannel = ch
	}
	if ch, ok := notify.ParseChannel(cfg.Notify.ResponseChannel); ok {
		opts.ResponseChannel = ch
	}
	for name, recipient := range cfg.Notify.Recipients {
		if ch, ok := notify.ParseChannel(name); ok {
			opts.Recipients[ch] = recipient
		}
	}
	return opts
}

// keywords merges configured per-category keyword lists over the defaults.
func keywords(overrides map[string][]string) map[mail.Category][]string {
	out := maps.Clone(relevance.DefaultKeywords)
	for name, words := range overrides {
		cat, ok := mail.ParseCategory(name)
		if !ok {
			log.Printf("Warning: Ignoring keywords for unknown category %q", name)
			continue
		}
		out[cat] = words
	}
	return out
}
