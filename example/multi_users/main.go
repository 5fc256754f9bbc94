package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/postbox/client"
	"github.io/infrasutra/postbox/internal/store"
)

func main() {
	baseURL := getenvDefault("POSTBOX_URL", "http://localhost:3025")
	smtpAddr := getenvDefault("POSTBOX_SMTP", "localhost:2025")
	smtpUser := os.Getenv("SMTP_USERNAME")
	smtpPass := os.Getenv("SMTP_PASSWORD")
	ctx := context.Background()

	userA := "test1@postbox.dev"
	userB := "test2@postbox.dev"

	clients := map[string]*client.Client{}
	for _, email := range []string{userA, userB} {
		fmt.Println("Logging in as", email)
		c, err := client.New(baseURL)
		must(err)
		_, err = c.Login(ctx, email)
		must(err)
		clients[email] = c
	}

	printCounts(ctx, "Counts:", clients, userA, userB)

	fmt.Println("Sending test emails...")
	sendSMTP(smtpAddr, smtpUser, smtpPass, "sender@postbox.dev", []string{userA}, "Test 1 - HTML + Text")
	sendSMTP(smtpAddr, smtpUser, smtpPass, "sender@postbox.dev", []string{userB}, "Test 2 - HTML + Text")
	sendSMTP(smtpAddr, smtpUser, smtpPass, "sender@postbox.dev", []string{userA, userB}, "Test 3 - Multi-recipient")

	fmt.Println("Sending over the API...")
	_, err := clients[userA].Send(ctx, userB, "Test 4 - API", "<p>Hello from the API.</p>")
	must(err)

	time.Sleep(500 * time.Millisecond)
	printCounts(ctx, "Counts after send:", clients, userA, userB)

	fmt.Println("First inbox page per account:")
	for _, email := range []string{userA, userB} {
		rows, err := clients[email].FetchPage(ctx, store.Query{
			Filter: store.Filter{Owner: email, Folder: store.FolderInbox},
			Limit:  5,
		})
		must(err)
		fmt.Printf("- %s rows=%d\n", email, len(rows))
	}
}

func printCounts(ctx context.Context, title string, clients map[string]*client.Client, emails ...string) {
	fmt.Println(title)
	for _, email := range emails {
		counts, err := clients[email].Counts(ctx)
		must(err)
		fmt.Printf("- %s unread=%d sent=%d trash=%d\n", email, counts.Unread, counts.Sent, counts.Trash)
	}
}

func sendSMTP(addr, username, password, from string, to []string, subject string) {
	var auth sasl.Client
	if username != "" || password != "" {
		auth = sasl.NewPlainClient("", username, password)
	}
	msg, err := buildTestMessage(from, to, subject)
	must(err)
	if err := smtp.SendMail(addr, auth, from, to, bytes.NewReader(msg)); err != nil {
		fmt.Fprintln(os.Stderr, "smtp error:", err)
	}
}

func buildTestMessage(from string, to []string, subject string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	recipients := make([]*mail.Address, 0, len(to))
	for _, address := range to {
		recipients = append(recipients, &mail.Address{Address: address})
	}
	h.SetAddressList("To", recipients)
	h.SetSubject(subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	parts := []struct{ contentType, body string }{
		{"text/plain", "Hello!\n\nThis is a Postbox multi-account test email.\n"},
		{"text/html", "<html><body><h2>Postbox multi-account test</h2><p>This is a test email.</p></body></html>"},
	}
	for _, part := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
