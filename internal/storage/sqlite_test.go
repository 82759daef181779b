package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	g := Generation{
		ID:       "gen-1",
		Model:    "mistral-nemo",
		Success:  true,
		Attempts: 2,
		Issues:   `["stripped code fence"]`,
		Duration: 1500 * time.Millisecond,
	}
	if err := s.SaveGeneration(g); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	got, err := s.ListGenerations(10)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].ID != "gen-1" || !got[0].Success || got[0].Attempts != 2 {
		t.Errorf("row = %+v", got[0])
	}
	if got[0].Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got[0].Duration)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestListGenerations_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		g := Generation{ID: id, Model: "m", CreatedAt: old.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveGeneration(g); err != nil {
			t.Fatalf("SaveGeneration(%s): %v", id, err)
		}
	}

	got, err := s.ListGenerations(2)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want limit 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("order = %s,%s want c,b", got[0].ID, got[1].ID)
	}
}

func TestGetGeneration(t *testing.T) {
	s := openTestStore(t)

	g := Generation{
		ID:       "gen-42",
		Model:    "mistral-nemo",
		Success:  false,
		Attempts: 3,
		Error:    "generation failed after 3 attempts: request timed out",
		Duration: 4 * time.Second,
	}
	if err := s.SaveGeneration(g); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	got, err := s.GetGeneration("gen-42")
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.ID != "gen-42" || got.Success || got.Attempts != 3 {
		t.Errorf("row = %+v", got)
	}
	if got.Error == "" {
		t.Error("Error lost in round trip")
	}
	if got.Duration != 4*time.Second {
		t.Errorf("Duration = %v, want 4s", got.Duration)
	}

	if _, err := s.GetGeneration("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGeneration(missing) = %v, want ErrNotFound", err)
	}
}

func TestProbeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p := Probe{
		ID:           "probe-1",
		URL:          "http://localhost:11434",
		Model:        "llama3:8b",
		Success:      false,
		Error:        "model \"llama3:8b\" not found on server",
		ResponseTime: 80 * time.Millisecond,
	}
	if err := s.SaveProbe(p); err != nil {
		t.Fatalf("SaveProbe: %v", err)
	}

	got, err := s.ListProbes(10)
	if err != nil {
		t.Fatalf("ListProbes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Success {
		t.Error("Success = true, want false")
	}
	if got[0].Error == "" {
		t.Error("Error lost in round trip")
	}
}
