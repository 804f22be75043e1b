package store

import (
	"context"
	"testing"
	"time"

	"github.com/rcliao/chat-relay/internal/model"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, c := newTestStore(t)

	src.Append(ctx, userMsg("Alice", "general", "q"))
	c.Advance(time.Second)
	src.Append(ctx, model.Message{Sender: "gpt-4o", Conversation: "general", Content: "a"})
	src.Append(ctx, userMsg("Bob", "random", "other"))

	exported, err := src.ExportAll(ctx, "general")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported, got %d", len(exported))
	}

	dst, _ := newTestStore(t)
	n, err := dst.Import(ctx, exported)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}

	got, _ := dst.ReadConversation(ctx, "general", 10)
	if len(got) != 2 || got[0].Content != "q" || got[1].Content != "a" {
		t.Fatalf("unexpected imported history %+v", got)
	}
	if !got[1].SentAt.Equal(exported[1].SentAt) {
		t.Errorf("expected timestamps preserved, got %v want %v", got[1].SentAt, exported[1].SentAt)
	}
	if got[0].ID == exported[0].ID {
		t.Error("expected ids to be reassigned")
	}
}
