package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"strings"
	"time"

	"rfitracker/internal/workflow"

	"github.com/spf13/cobra"
)

const maxEmailSize = 10 << 20

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Classify a contractor email and create or reconcile the item",
	Long: `Read one email from a file (or stdin when no file or "-" is given) and feed it
to the workflow. The input is either a JSON object
{"subject", "body", "receivedAt", "messageId"} or a raw RFC 822 message.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(io.LimitReader(in, maxEmailSize))
	if err != nil {
		return fmt.Errorf("read email: %w", err)
	}
	msg, err := parseEmail(raw, time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, ingestErr := a.engine.Ingest(cmd.Context(), msg)
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return ingestErr
}

// parseEmail разбирает JSON-представление письма или сырое RFC 822 сообщение
func parseEmail(raw []byte, now time.Time) (workflow.IncomingEmail, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return workflow.IncomingEmail{}, errors.New("empty email")
	}

	var msg workflow.IncomingEmail
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return msg, fmt.Errorf("decode email json: %w", err)
		}
	} else {
		m, err := mail.ReadMessage(bytes.NewReader(raw))
		if err != nil {
			return msg, fmt.Errorf("parse email: %w", err)
		}
		dec := new(mime.WordDecoder)
		subject := m.Header.Get("Subject")
		if decoded, err := dec.DecodeHeader(subject); err == nil {
			subject = decoded
		}
		msg.Subject = subject
		msg.MessageID = strings.Trim(m.Header.Get("Message-Id"), "<> ")
		if d, err := m.Header.Date(); err == nil {
			msg.ReceivedAt = d
		}
		body, err := textBody(m.Header.Get("Content-Type"), m.Body)
		if err != nil {
			return msg, err
		}
		msg.Body = body
	}

	if strings.TrimSpace(msg.Subject) == "" && strings.TrimSpace(msg.Body) == "" {
		return msg, errors.New("email has neither subject nor body")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	return msg, nil
}

// textBody возвращает первую text/plain часть; без неё первую text/* часть
func textBody(contentType string, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read email body: %w", err)
		}
		return string(b), nil
	}

	mr := multipart.NewReader(r, params["boundary"])
	var fallback string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read email part: %w", err)
		}
		pt, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(pt, "multipart/") {
			nested, err := textBody(part.Header.Get("Content-Type"), part)
			if err != nil {
				return "", err
			}
			if nested != "" {
				return nested, nil
			}
			continue
		}
		b, err := io.ReadAll(part)
		if err != nil {
			return "", fmt.Errorf("read email part: %w", err)
		}
		switch {
		case pt == "text/plain" || pt == "":
			return string(b), nil
		case strings.HasPrefix(pt, "text/") && fallback == "":
			fallback = string(b)
		}
	}
	return fallback, nil
}
