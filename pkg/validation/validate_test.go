package validation

import (
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func TestValidateMessage(t *testing.T) {
	ok := models.Message{Conversation: "c1", Sender: "u1", Content: "hi", Type: models.TypeText}
	if err := ValidateMessage(ok); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	cases := []struct {
		name string
		m    models.Message
	}{
		{"missing conversation", models.Message{Sender: "u1", Content: "hi", Type: models.TypeText}},
		{"colon in conversation", models.Message{Conversation: "a:b", Sender: "u1", Content: "hi", Type: models.TypeText}},
		{"missing sender", models.Message{Conversation: "c1", Content: "hi", Type: models.TypeText}},
		{"text without content", models.Message{Conversation: "c1", Sender: "u1", Type: models.TypeText}},
		{"image without attachment", models.Message{Conversation: "c1", Sender: "u1", Type: models.TypeImage}},
		{"file without url", models.Message{Conversation: "c1", Sender: "u1", Type: models.TypeFile, Attachment: &models.Attachment{}}},
		{"missing type", models.Message{Conversation: "c1", Sender: "u1", Content: "hi"}},
		{"unknown type", models.Message{Conversation: "c1", Sender: "u1", Content: "hi", Type: "video"}},
		{"oversized content", models.Message{Conversation: "c1", Sender: "u1", Content: strings.Repeat("x", MaxContentLen+1), Type: models.TypeText}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateMessage(tc.m); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}

	img := models.Message{Conversation: "c1", Sender: "u1", Type: models.TypeImage,
		Attachment: &models.Attachment{URL: "/uploads/a.jpg"}}
	if err := ValidateMessage(img); err != nil {
		t.Fatalf("image with attachment rejected: %v", err)
	}
}

func TestValidateEdit(t *testing.T) {
	ok := models.EditPayload{ID: "m1", Conversation: "c1", Content: "fixed"}
	if err := ValidateEdit(ok); err != nil {
		t.Fatalf("valid edit rejected: %v", err)
	}
	if err := ValidateEdit(models.EditPayload{Conversation: "c1", Content: "x"}); err == nil {
		t.Fatalf("edit without id should be rejected")
	}
	if err := ValidateEdit(models.EditPayload{ID: "m1", Conversation: "c1"}); err == nil {
		t.Fatalf("edit without content should be rejected")
	}
}
