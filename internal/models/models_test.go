package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/campus-chat/internal/models"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"midnight", time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), "12:05 AM"},
		{"morning", time.Date(2024, 1, 1, 9, 7, 0, 0, time.UTC), "9:07 AM"},
		{"noon", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "12:00 PM"},
		{"evening", time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC), "11:59 PM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.FormatClock(tt.at); got != tt.want {
				t.Errorf("FormatClock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 3, 0, 0, time.UTC)
	a := models.NewMessage(7, models.SenderUser, "hello", ts)
	b := models.NewMessage(7, models.SenderUser, "hello", ts)

	if !strings.HasPrefix(a.ID, "7-") {
		t.Errorf("ID = %q, want prefix 7-", a.ID)
	}
	if a.ID == b.ID {
		t.Error("IDs should be unique")
	}
	if a.DisplayTime() != "2:03 PM" {
		t.Errorf("DisplayTime() = %q, want 2:03 PM", a.DisplayTime())
	}
}

func TestSenderValid(t *testing.T) {
	if !models.SenderUser.Valid() || !models.SenderBot.Valid() {
		t.Error("known senders should be valid")
	}
	if models.Sender("assistant").Valid() {
		t.Error("unknown sender should be invalid")
	}
}

func TestCatalog(t *testing.T) {
	c := models.DefaultCatalog()

	topic, ok := c.Lookup("hod_cs")
	if !ok {
		t.Fatal("hod_cs should be in the default catalog")
	}
	if topic.Label != "CS HoD" || topic.Query != "cs hod" {
		t.Errorf("Lookup(hod_cs) = %+v", topic)
	}

	if _, ok := c.Lookup("canteen"); ok {
		t.Error("Lookup(canteen) should miss")
	}

	if got := c.Chip(" cs hod "); got != (models.SuggestionChip{Label: "CS HoD", Topic: "hod_cs"}) {
		t.Errorf("Chip(cs hod) = %+v", got)
	}
	if got := c.Chip("Canteen timings"); got != (models.SuggestionChip{Label: "Canteen timings"}) {
		t.Errorf("Chip(Canteen timings) = %+v", got)
	}

	chips := c.Chips()
	if len(chips) != len(c) {
		t.Fatalf("Chips() len = %d, want %d", len(chips), len(c))
	}
	if chips[0].Topic != "admissions" {
		t.Errorf("first chip topic = %q, want admissions", chips[0].Topic)
	}
}
