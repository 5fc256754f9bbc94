package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.io/infrasutra/postbox/internal/store"
)

// ExportRFC822 renders a stored row as an RFC 5322 message.
func (s *Service) ExportRFC822(ctx context.Context, owner, id string) ([]byte, error) {
	message, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return RenderRFC822(message)
}

func RenderRFC822(message store.Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(message.Timestamp)
	h.SetAddressList("From", []*mail.Address{{Address: message.From}})
	h.SetAddressList("To", []*mail.Address{{Address: message.To}})
	h.SetSubject(message.Subject)
	h.SetMessageID(message.ID + "@postbox")
	contentType := "text/plain"
	if looksLikeHTML(message.Content) {
		contentType = "text/html"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, message.Content); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func looksLikeHTML(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}
