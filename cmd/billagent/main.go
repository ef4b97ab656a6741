package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "billagent",
	Short: "Personal finance assistant for bills, orders and promotions in your inbox",
	Long: `billagent scans a mailbox for bills, orders and promotions, stores what it
extracts for later questions, and schedules payment reminders.`,
	SilenceUsage: true,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run a single request and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer Telegram chats and dispatch reminders until interrupted",
	RunE:  runServe,
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send due reminders once and report reminder status",
	RunE:  runRemind,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for one-shot commands")

	askCmd.Flags().Bool("json", false, "Print the full run outcome as JSON")
	askCmd.Flags().String("as", "local", "Identity the request is made on behalf of")

	remindCmd.Flags().Duration("upcoming", 7*24*time.Hour, "List pending reminders due within this window")
	remindCmd.Flags().Int("cleanup-days", 0, "Delete sent and failed reminders older than this many days (0 disables)")

	rootCmd.AddCommand(askCmd, serveCmd, remindCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(cfg, os.Stderr)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	identity, _ := cmd.Flags().GetString("as")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out, err := a.executor.Run(ctx, agent.Request{
		Goal:     strings.Join(args, " "),
		Identity: identity,
		Origin:   notify.ChannelConsole,
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, out.Response)
	fmt.Fprintf(w, "\n[%s] %d steps, %d items, %d saved, %d reminders in %s\n",
		out.Goal, len(out.Completed), out.Items, out.Saved, out.Reminders, out.Duration.Round(time.Millisecond))
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
	return nil
}

func runRemind(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	w := cmd.OutOrStdout()

	sum := a.dispatcher.CheckNow(ctx)
	fmt.Fprintf(w, "Due: %d  Sent: %d  Failed: %d\n", sum.Due, sum.Sent, sum.Failed)

	if days, _ := cmd.Flags().GetInt("cleanup-days"); days > 0 {
		n, err := a.reminders.Cleanup(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed %d old reminders\n", n)
	}

	within, _ := cmd.Flags().GetDuration("upcoming")
	upcoming, err := a.reminders.Upcoming(ctx, time.Now(), within)
	if err != nil {
		return err
	}
	for _, r := range upcoming {
		fmt.Fprintf(w, "  %s  %-20s $%.2f due %s via %s\n",
			r.RemindAt.Format("2006-01-02"), r.Vendor, r.Amount, r.DueDate.Format("2006-01-02"), r.Channel)
	}

	stats, err := a.reminders.Stats(ctx)
	if err != nil {
		return err
	}
	statuses := make([]string, 0, len(stats))
	for s, n := range stats {
		statuses = append(statuses, fmt.Sprintf("%s=%d", s, n))
	}
	sort.Strings(statuses)
	fmt.Fprintf(w, "Reminders: %s\n", strings.Join(statuses, " "))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	dashboard := observability.IsTerminal()
	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
	}

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(cfg, observability.NewTermWriter())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withTelegram(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.watchDeliveries(ctx)
	if err := a.dispatcher.Start(ctx); err != nil {
		return err
	}
	defer a.dispatcher.Stop()

	if dashboard {
		go every(ctx, time.Second, observability.PrintLiveStatus)
	}
	go every(ctx, 30*time.Second, func() {
		observability.Heartbeat()
		a.logger.LogHeartbeat()
	})

	go func() {
		if err := a.telegram.Start(ctx); err != nil {
			log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}

func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
