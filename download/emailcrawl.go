package download

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"regexp"

	"github.com/emersion/go-mbox"

	"harvester/config"
	"harvester/models"
)

// Links inside alert mails are plain URLs in the body text.
var emailLinkRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

// EmailCrawl scans the configured mailbox files for messages whose subject
// matches the journal's subject regex and emits one harvestable item per
// link found in matching messages.
func (m *Manager) EmailCrawl(ctx context.Context, item models.HarvestableItem, mboxPaths []string) *EmailResult {
	journal := item.Journal
	result := &EmailResult{}

	seen := make(map[string]bool)
	for _, path := range mboxPaths {
		if err := m.scanMailbox(ctx, path, journal, seen, result); err != nil {
			result.Error = err
			return result
		}
	}
	return result
}

func (m *Manager) scanMailbox(ctx context.Context, path string, journal *config.JournalParams, seen map[string]bool, result *EmailResult) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open mailbox %s: %w", path, err)
	}
	defer file.Close()

	decoder := new(mime.WordDecoder)
	reader := mbox.NewReader(file)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		messageReader, err := reader.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read mailbox %s: %w", path, err)
		}

		message, err := mail.ReadMessage(messageReader)
		if err != nil {
			// Malformed messages are skipped, not fatal; alert mailboxes
			// accumulate junk over the years.
			continue
		}
		result.NumMessagesScanned++

		subject := message.Header.Get("Subject")
		if decoded, err := decoder.DecodeHeader(subject); err == nil {
			subject = decoded
		}
		if !journal.EmailSubjectRegex.MatchString(subject) {
			continue
		}
		result.NumMessagesMatched++

		body, err := io.ReadAll(message.Body)
		if err != nil {
			continue
		}
		for _, link := range emailLinkRegex.FindAllString(string(body), -1) {
			if seen[link] {
				continue
			}
			seen[link] = true
			result.Items = append(result.Items, m.items.NewItem(journal, link))
		}
	}
}
