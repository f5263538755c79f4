// Package validation checks inbound message payloads at the relay
// boundary before anything is persisted or fanned out.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

// MaxContentLen bounds message content; longer payloads are rejected, not
// truncated.
const MaxContentLen = 8 * 1024

// ValidateMessage checks a send intent. The relay assigns id and timestamp
// itself, so only client-owned fields are checked here.
func ValidateMessage(m models.Message) error {
	var errs []string
	if m.Conversation == "" {
		errs = append(errs, "conversation_id is required")
	}
	if strings.Contains(m.Conversation, ":") {
		errs = append(errs, "conversation_id must not contain ':'")
	}
	if m.Sender == "" {
		errs = append(errs, "sender_id is required")
	}
	switch m.Type {
	case models.TypeText:
		if m.Content == "" {
			errs = append(errs, "content is required")
		}
	case models.TypeImage, models.TypeFile:
		if m.Attachment == nil || m.Attachment.URL == "" {
			errs = append(errs, "attachment with url is required for "+string(m.Type))
		}
	case "":
		errs = append(errs, "type is required")
	default:
		errs = append(errs, fmt.Sprintf("unknown type %q", m.Type))
	}
	if len(m.Content) > MaxContentLen {
		errs = append(errs, fmt.Sprintf("content exceeds %d bytes", MaxContentLen))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateEdit checks an edit intent.
func ValidateEdit(p models.EditPayload) error {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "id is required")
	}
	if p.Conversation == "" {
		errs = append(errs, "conversation_id is required")
	}
	if p.Content == "" {
		errs = append(errs, "content is required")
	}
	if len(p.Content) > MaxContentLen {
		errs = append(errs, fmt.Sprintf("content exceeds %d bytes", MaxContentLen))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
