package audit

import (
	"encoding/json"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vestd/core/types"
)

type stubEvent struct {
	evt *types.Event
}

func (s stubEvent) EventType() string {
	if s.evt == nil {
		return ""
	}
	return s.evt.Type
}

func (s stubEvent) Event() *types.Event { return s.evt }

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	journal, err := OpenWithDB(db, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return journal
}

func TestJournalRecordsEvents(t *testing.T) {
	journal := newTestJournal(t)

	journal.Emit(stubEvent{evt: &types.Event{
		Type: "vesting.claimed",
		Attributes: map[string]string{
			"recipient": "0x1111111111111111111111111111111111111111",
			"amount":    "500",
		},
	}})

	entries, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.EventType != "vesting.claimed" {
		t.Fatalf("event type = %q", entry.EventType)
	}
	if entry.Recipient != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("recipient = %q", entry.Recipient)
	}
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(entry.Attributes), &attrs); err != nil {
		t.Fatalf("attributes not JSON: %v", err)
	}
	if attrs["amount"] != "500" {
		t.Fatalf("amount attribute = %q", attrs["amount"])
	}
}

func TestJournalByRecipient(t *testing.T) {
	journal := newTestJournal(t)
	first := "0x1111111111111111111111111111111111111111"
	second := "0x2222222222222222222222222222222222222222"

	for i := 0; i < 3; i++ {
		journal.Emit(stubEvent{evt: &types.Event{
			Type:       "vesting.claimed",
			Attributes: map[string]string{"recipient": first},
		}})
	}
	journal.Emit(stubEvent{evt: &types.Event{
		Type:       "vesting.recipient_paused",
		Attributes: map[string]string{"recipient": second},
	}})

	entries, err := journal.ByRecipient(first, 10)
	if err != nil {
		t.Fatalf("by recipient: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for _, entry := range entries {
		if entry.Recipient != first {
			t.Fatalf("entry for wrong recipient %q", entry.Recipient)
		}
	}

	entries, err = journal.ByRecipient(second, 10)
	if err != nil {
		t.Fatalf("by recipient: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != "vesting.recipient_paused" {
		t.Fatalf("second recipient entries = %+v", entries)
	}
}

func TestJournalEmitToleratesUnknownPayloads(t *testing.T) {
	journal := newTestJournal(t)
	journal.Emit(stubEvent{evt: nil})
	journal.Emit(nil)

	entries, err := journal.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	// The nil payload event still records its (empty) type; the nil event
	// is dropped.
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}
