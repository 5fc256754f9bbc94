package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:2025", "postbox SMTP address")
	from := flag.String("from", "sender@xyz.com", "envelope sender")
	to := flag.String("to", "receiver@xyz.com", "recipient")
	count := flag.Int("n", 1000, "messages to send")
	username := flag.String("user", "postbox", "SMTP username (empty disables auth)")
	password := flag.String("pass", "postbox", "SMTP password")
	flag.Parse()

	var auth sasl.Client
	if *username != "" {
		auth = sasl.NewPlainClient("", *username, *password)
	}

	for i := 1; i <= *count; i++ {
		subject := fmt.Sprintf("Postbox Example #%d", i)
		body := fmt.Sprintf("Hello from Postbox. Message %d.\r\n", i)
		message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", *from, *to, subject, body)

		if err := smtp.SendMail(*addr, auth, *from, []string{*to}, strings.NewReader(message)); err != nil {
			fmt.Fprintln(os.Stderr, "smtp error:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("sent %d messages\n", *count)
}
