// Command postbox-cli pages through a folder and watches badge counts over the
// postbox HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.io/infrasutra/postbox/client"
	"github.io/infrasutra/postbox/internal/badge"
	"github.io/infrasutra/postbox/internal/pagination"
	"github.io/infrasutra/postbox/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	unreadStyle = lipgloss.NewStyle().Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	starStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: postbox-cli <command> [flags]

commands:
  list    print pages of a folder (-folder, -starred, -page, -size, -all)
  watch   print badge counts whenever they change (-interval)
  send    send a message (-to, -subject, -content)

environment:
  POSTBOX_URL   API base URL (default http://localhost:3025)
  POSTBOX_USER  address to sign in as`)
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:], logger)
	case "send":
		err = runSend(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*client.Client, string, error) {
	baseURL := getenvDefault("POSTBOX_URL", "http://localhost:3025")
	user := os.Getenv("POSTBOX_USER")
	if user == "" {
		return nil, "", errors.New("POSTBOX_USER is not set")
	}
	c, err := client.New(baseURL)
	if err != nil {
		return nil, "", err
	}
	address, err := c.Login(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("sign in: %w", err)
	}
	return c, address, nil
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	folder := fs.String("folder", string(store.FolderInbox), "inbox, sent or trash")
	starred := fs.Bool("starred", false, "list starred messages from every folder")
	page := fs.Int("page", 1, "page to stop at")
	size := fs.Int("size", pagination.DefaultPageSize, "page size")
	all := fs.Bool("all", false, "print every page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, owner, err := connect(ctx)
	if err != nil {
		return err
	}
	params := pagination.Params{PageSize: *size, Page: 1}
	if *starred {
		params.Starred = store.Bool(true)
	} else {
		parsed, err := store.ParseFolder(*folder)
		if err != nil {
			return err
		}
		params.Folder = parsed
	}

	coordinator := pagination.NewCoordinator(c, owner, params)
	for {
		view, err := coordinator.Load(ctx)
		if err != nil {
			return err
		}
		if *all || view.Page == *page || view.Page == view.TotalPages {
			printView(view)
		}
		if (!*all && view.Page >= *page) || !coordinator.Next() {
			return nil
		}
	}
}

func printView(view pagination.View) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("page %d of %d (%d messages)", view.Page, view.TotalPages, view.Total)))
	for _, row := range view.Rows {
		star := " "
		if row.Starred {
			star = starStyle.Render("*")
		}
		line := fmt.Sprintf("%s %-28s %s", star, row.From, row.Subject)
		if !row.Read {
			line = unreadStyle.Render(line)
		}
		fmt.Println(line, metaStyle.Render(row.Timestamp.Local().Format(time.DateTime)))
	}
}

func runWatch(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", badge.DefaultInterval, "poll interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := connect(ctx)
	if err != nil {
		return err
	}
	badges := badge.NewStore()
	updates, unsubscribe := badges.Subscribe()
	defer unsubscribe()

	syncer := badge.NewSynchronizer(c, c.Identity, badges, logger, badge.WithInterval(*interval))
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	for {
		select {
		case err := <-done:
			return err
		case counts := <-updates:
			fmt.Printf("%s unread=%s sent=%d trash=%d\n",
				metaStyle.Render(counts.UpdatedAt.Local().Format(time.TimeOnly)),
				unreadStyle.Render(fmt.Sprint(counts.Unread)), counts.Sent, counts.Trash)
		}
	}
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "recipient address")
	subject := fs.String("subject", "", "subject")
	content := fs.String("content", "", "body, plain text or HTML")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := connect(ctx)
	if err != nil {
		return err
	}
	sent, err := c.Send(ctx, *to, *subject, *content)
	if err != nil {
		return err
	}
	fmt.Println("sent", sent.ID)
	return nil
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
