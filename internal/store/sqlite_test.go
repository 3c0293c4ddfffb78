package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/aaaashutosh/medicate-connect/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustSave(t *testing.T, s *SQLiteStore, chatID uuid.UUID, sender, receiver, content string) *models.Message {
	t.Helper()
	msg, err := s.SaveMessage(context.Background(), SaveMessageInput{
		ChatID:      chatID,
		SenderID:    sender,
		ReceiverID:  receiver,
		Content:     content,
		MessageType: models.MessageText,
	})
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	return msg
}

func TestGetOrCreateChatPairInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s.GetOrCreateChat(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}

	if c1.ID != c2.ID {
		t.Fatalf("(alice,bob) and (bob,alice) must map to the same chat: %s vs %s", c1.ID, c2.ID)
	}
	if c1.ParticipantA != "alice" || c1.ParticipantB != "bob" {
		t.Fatalf("pair not normalized: %q, %q", c1.ParticipantA, c1.ParticipantB)
	}
}

func TestGetOrCreateChatConcurrentCreators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			chat, err := s.GetOrCreateChat(ctx, a, b)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = chat.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("creator %d: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("racing creators got different chats: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestSaveMessageRejectsOutsiders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.SaveMessage(ctx, SaveMessageInput{
		ChatID:      chat.ID,
		SenderID:    "mallory",
		ReceiverID:  "bob",
		Content:     "hi",
		MessageType: models.MessageText,
	})
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	_, err = s.SaveMessage(ctx, SaveMessageInput{
		ChatID:      uuid.New(),
		SenderID:    "alice",
		ReceiverID:  "bob",
		Content:     "hi",
		MessageType: models.MessageText,
	})
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestSaveMessageBumpsChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	msg := mustSave(t, s, chat.ID, "alice", "bob", "hello")

	got, err := s.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageID != msg.ID {
		t.Fatalf("chat last_message_id not bumped: got %q, want %q", got.LastMessageID, msg.ID)
	}
	if got.UpdatedAt.Before(chat.UpdatedAt) {
		t.Fatal("chat updated_at went backwards")
	}
}

func TestListMessagesOrderedAndPaged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	const total = 7
	for i := 0; i < total; i++ {
		mustSave(t, s, chat.ID, "alice", "bob", fmt.Sprintf("msg %d", i))
	}

	all, err := s.ListMessages(ctx, chat.ID, 1, total)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != total {
		t.Fatalf("expected %d messages, got %d", total, len(all))
	}
	for i := 0; i < total; i++ {
		if want := fmt.Sprintf("msg %d", i); all[i].Content != want {
			t.Fatalf("position %d: got %q, want %q", i, all[i].Content, want)
		}
		if i > 0 && all[i].ID <= all[i-1].ID {
			t.Fatalf("ids not strictly ascending at position %d", i)
		}
	}

	page2, err := s.ListMessages(ctx, chat.ID, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 3 || page2[0].Content != "msg 3" {
		t.Fatalf("unexpected second page: %+v", page2)
	}

	empty, err := s.ListMessages(ctx, chat.ID, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("page past the end should be empty, got %d", len(empty))
	}
}

func TestMarkReadIdempotentAndScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	mustSave(t, s, chat.ID, "alice", "bob", "one")
	mustSave(t, s, chat.ID, "alice", "bob", "two")
	mustSave(t, s, chat.ID, "bob", "alice", "reply")

	n, err := s.MarkRead(ctx, chat.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows marked, got %d", n)
	}

	// Second call is a no-op.
	n, err = s.MarkRead(ctx, chat.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows on repeat, got %d", n)
	}

	msgs, err := s.ListMessages(ctx, chat.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if m.ReceiverID == "bob" && !m.Read {
			t.Fatalf("message %s to bob still unread", m.ID)
		}
		if m.ReceiverID == "alice" && m.Read {
			t.Fatalf("message %s to alice flipped by bob's mark", m.ID)
		}
	}
}

func TestListChatsForUserSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	withBob, err := s.GetOrCreateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	withCarol, err := s.GetOrCreateChat(ctx, "alice", "carol")
	if err != nil {
		t.Fatal(err)
	}

	mustSave(t, s, withBob.ID, "bob", "alice", "old news")
	mustSave(t, s, withBob.ID, "bob", "alice", "more news")
	last := mustSave(t, s, withCarol.ID, "carol", "alice", "fresh")

	summaries, err := s.ListChatsForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(summaries))
	}

	// Most recently active first.
	if summaries[0].Chat.ID != withCarol.ID {
		t.Fatalf("expected carol chat first, got %s", summaries[0].Chat.ID)
	}
	if summaries[0].OtherParticipant != "carol" {
		t.Fatalf("unexpected counterpart: %q", summaries[0].OtherParticipant)
	}
	if summaries[0].LastMessage == nil || summaries[0].LastMessage.ID != last.ID {
		t.Fatalf("unexpected last message: %+v", summaries[0].LastMessage)
	}
	if summaries[0].UnreadCount != 1 {
		t.Fatalf("expected 1 unread with carol, got %d", summaries[0].UnreadCount)
	}
	if summaries[1].UnreadCount != 2 {
		t.Fatalf("expected 2 unread with bob, got %d", summaries[1].UnreadCount)
	}

	// The counterpart's view counts no unread messages.
	bobView, err := s.ListChatsForUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobView) != 1 || bobView[0].UnreadCount != 0 {
		t.Fatalf("unexpected bob view: %+v", bobView)
	}
}

func TestListChatsForUserEmpty(t *testing.T) {
	s := newTestStore(t)

	summaries, err := s.ListChatsForUser(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no chats, got %d", len(summaries))
	}
}
