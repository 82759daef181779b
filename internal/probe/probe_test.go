package probe

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"storyd/internal/ollama"
)

// fakeClient scripts tag listings and per-model generate behavior.
type fakeClient struct {
	models   []string
	listErr  error
	failFor  map[string]bool // models whose generate calls fail
	genCalls []string        // model names in call order
}

func (f *fakeClient) ListModels(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.models, nil
}

func (f *fakeClient) Generate(_ context.Context, gr ollama.GenerateRequest) (ollama.GenerateResponse, error) {
	f.genCalls = append(f.genCalls, gr.Model)
	if f.failFor[gr.Model] {
		return ollama.GenerateResponse{}, errors.New("model exploded")
	}
	return ollama.GenerateResponse{Response: "ready", Done: true}, nil
}

func newTester(f *fakeClient) *Tester {
	return New(f, WithSettle(0))
}

func TestTest_Unreachable(t *testing.T) {
	f := &fakeClient{listErr: errors.New("connection refused")}
	rep := newTester(f).Test(context.Background(), "llama3:8b")

	if rep.Success {
		t.Fatal("probe succeeded against unreachable server")
	}
	if !strings.Contains(rep.Err, "unreachable") {
		t.Errorf("Err = %q, want unreachable diagnosis", rep.Err)
	}
	if len(f.genCalls) != 0 {
		t.Error("generation attempted after terminal reachability failure")
	}
}

func TestTest_ModelNotFound(t *testing.T) {
	f := &fakeClient{models: []string{"phi3.5:latest", "mistral-nemo:latest"}}
	rep := newTester(f).Test(context.Background(), "llama3")

	if rep.Success {
		t.Fatal("probe succeeded for absent model")
	}
	if !strings.Contains(rep.Err, "not found") {
		t.Errorf("Err = %q, want not-found diagnosis", rep.Err)
	}
	if !reflect.DeepEqual(rep.Available, f.models) {
		t.Errorf("Available = %v, want the server's model list attached", rep.Available)
	}
}

func TestTest_RequestedModelPasses(t *testing.T) {
	f := &fakeClient{models: []string{"llama3:8b", "phi3.5:latest"}}
	rep := newTester(f).Test(context.Background(), "llama3:8b")

	if !rep.Success {
		t.Fatalf("probe failed: %s", rep.Err)
	}
	if rep.ModelUsed != "llama3:8b" {
		t.Errorf("ModelUsed = %q", rep.ModelUsed)
	}
	if rep.Sample != "ready" {
		t.Errorf("Sample = %q", rep.Sample)
	}
	// Warm-up call plus real test.
	if len(f.genCalls) != 2 {
		t.Errorf("generate calls = %v, want warm-up + test", f.genCalls)
	}
}

func TestTest_FallsBackInRankedOrder(t *testing.T) {
	f := &fakeClient{
		models:  []string{"phi3.5:latest", "llama3:70b", "mistral:7b"},
		failFor: map[string]bool{"mistral:7b": true, "llama3:70b": true},
	}
	rep := newTester(f).Test(context.Background(), "mistral:7b")

	if !rep.Success {
		t.Fatalf("probe failed: %s", rep.Err)
	}
	// Requested model first, then the 70b before the small phi.
	want := []string{"mistral:7b", "llama3:70b", "phi3.5:latest"}
	if !reflect.DeepEqual(rep.Tried, want) {
		t.Errorf("Tried = %v, want %v", rep.Tried, want)
	}
	if rep.ModelUsed != "phi3.5:latest" {
		t.Errorf("ModelUsed = %q", rep.ModelUsed)
	}
}

func TestTest_AllCandidatesFail(t *testing.T) {
	f := &fakeClient{
		models:  []string{"a:7b", "b:13b"},
		failFor: map[string]bool{"a:7b": true, "b:13b": true},
	}
	rep := newTester(f).Test(context.Background(), "a:7b")

	if rep.Success {
		t.Fatal("probe succeeded with every candidate failing")
	}
	if rep.Err == "" {
		t.Error("Err empty; want last candidate error")
	}
	if len(rep.Tried) != 2 || len(rep.Available) != 2 {
		t.Errorf("diagnostics incomplete: tried=%v available=%v", rep.Tried, rep.Available)
	}
}

func TestTest_OverallTimeout(t *testing.T) {
	f := &fakeClient{models: []string{"a:7b"}}
	tester := New(f, WithTimeout(10*time.Millisecond), WithSettle(50*time.Millisecond))

	rep := tester.Test(context.Background(), "a:7b")
	if rep.Success {
		t.Fatal("probe succeeded past its deadline")
	}
	if !strings.Contains(rep.Err, "timed out") {
		t.Errorf("Err = %q, want timeout diagnosis", rep.Err)
	}
}

func TestRankModels(t *testing.T) {
	got := RankModels([]string{"phi3.5:latest", "llama2:13b", "llama3:70b", "custom-model", "tiny-story"})
	want := []string{"llama3:70b", "llama2:13b", "custom-model", "phi3.5:latest", "tiny-story"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RankModels = %v, want %v", got, want)
	}
}

func TestSizeTier(t *testing.T) {
	if sizeTier("llama3:70b") <= sizeTier("llama2:13b") {
		t.Error("70b should outrank 13b")
	}
	if sizeTier("unknown-model") <= sizeTier("phi3.5") {
		t.Error("unknown names should outrank known small models")
	}
}
