// File: internal/usecase/chat_uc_test.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
)

func newTestUC(t *testing.T, agent *fakeAgent) (*chatUC, *memStore) {
	t.Helper()
	store := newMemStore(model.ShellGreeting())
	uc, err := NewChatUseCase(store, agent, nil, model.PanelText(), ChatOptions{
		StoreID: "CA_1",
		WhatIf:  model.DefaultWhatIf(),
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewChatUseCase: %v", err)
	}
	return uc, store
}

func TestSubmit_EmptyInputIsNoOp(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "hi"}}
	uc, _ := newTestUC(t, agent)

	for _, in := range []string{"", "   ", "\n\t"} {
		if err := uc.Submit(context.Background(), in); !errors.Is(err, domain.ErrEmptyMessage) {
			t.Fatalf("Submit(%q) = %v, want ErrEmptyMessage", in, err)
		}
	}
	if len(agent.requests) != 0 {
		t.Fatalf("backend called %d times for blank input", len(agent.requests))
	}
	if got := len(uc.Conversation().Messages); got != 0 {
		t.Fatalf("transcript grew to %d messages", got)
	}
}

func TestSubmit_SuccessAppendsBothMessages(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{
		"explanation": "Ordered 12 units for FOODS_3_090.",
		"key_metrics": map[string]any{"forecast_valid_wape": 0.18},
	}}
	uc, store := newTestUC(t, agent)

	if err := uc.Submit(context.Background(), "  restock CA_1  "); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs := uc.Conversation().Messages
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Text != "restock CA_1" {
		t.Fatalf("user message not trimmed/appended: %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Text != "Ordered 12 units for FOODS_3_090." {
		t.Fatalf("assistant message: %+v", msgs[1])
	}

	view, ok := uc.View()
	if !ok {
		t.Fatal("view should be set after a successful turn")
	}
	if v, ok := view.Metric("forecast_valid_wape"); !ok || v != 0.18 {
		t.Fatalf("view metric: %v %v", v, ok)
	}
	// user append + assistant append
	if store.saves < 2 {
		t.Fatalf("expected at least 2 saves, got %d", store.saves)
	}
	if uc.Busy() {
		t.Fatal("busy after completed turn")
	}
}

func TestSubmit_RequestPayload(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	uc, _ := newTestUC(t, agent)
	uc.SetItemID("FOODS_3_090")

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := agent.lastRequest()
	if req.Message != "hello" {
		t.Fatalf("message: %q", req.Message)
	}
	if req.StoreID == nil || *req.StoreID != "CA_1" {
		t.Fatalf("store id: %v", req.StoreID)
	}
	if req.ItemID == nil || *req.ItemID != "FOODS_3_090" {
		t.Fatalf("item id: %v", req.ItemID)
	}
	if req.ConversationID != uc.Conversation().ID {
		t.Fatal("conversation id mismatch")
	}
	if req.WhatIf == nil || req.WhatIf.ServiceLevel != 0.95 || req.WhatIf.LeadTimeDays != 7 {
		t.Fatalf("what-if defaults: %+v", req.WhatIf)
	}

	uc.SetItemID("")
	if err := uc.Submit(context.Background(), "again"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req := agent.lastRequest(); req.ItemID != nil {
		t.Fatalf("cleared item id must be omitted, got %v", req.ItemID)
	}
}

func TestSubmit_HistoryWindowBound(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	uc, _ := newTestUC(t, agent)

	for i := 0; i < 12; i++ {
		if err := uc.Submit(context.Background(), fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
	}

	req := agent.lastRequest()
	if len(req.History) != HistoryWindow {
		t.Fatalf("history length = %d, want %d", len(req.History), HistoryWindow)
	}
	for _, e := range req.History {
		if e.Role != model.RoleUser && e.Role != model.RoleAssistant {
			t.Fatalf("unexpected role %q", e.Role)
		}
		// prior turns only: the submitted message rides in the message field
		if e.Content == "turn 11" {
			t.Fatal("current message leaked into history")
		}
	}
	// most recent entry is the previous turn's assistant reply
	if last := req.History[len(req.History)-1]; last.Role != model.RoleAssistant {
		t.Fatalf("last history entry: %+v", last)
	}
}

func TestSubmit_FirstTurnSendsEmptyHistory(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	uc, _ := newTestUC(t, agent)

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := len(agent.lastRequest().History); got != 0 {
		t.Fatalf("first turn history length = %d, want 0", got)
	}
}

func TestSubmit_ConfigurableHistoryWindow(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	store := newMemStore(model.ShellGreeting())
	uc, err := NewChatUseCase(store, agent, nil, model.PanelText(), ChatOptions{HistoryWindow: 4}, newTestLogger())
	if err != nil {
		t.Fatalf("NewChatUseCase: %v", err)
	}

	for i := 0; i < 6; i++ {
		if err := uc.Submit(context.Background(), fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
	}
	if got := len(agent.lastRequest().History); got != 4 {
		t.Fatalf("history length = %d, want configured 4", got)
	}
}

func TestSubmit_FailureBecomesVisibleErrorReply(t *testing.T) {
	agent := &fakeAgent{err: errors.New("agent unavailable")}
	uc, _ := newTestUC(t, agent)

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit must not surface the call error, got %v", err)
	}

	msgs := uc.Conversation().Messages
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + error reply", len(msgs))
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Text != "Error: agent unavailable" {
		t.Fatalf("error reply: %+v", msgs[1])
	}
	if _, ok := uc.View(); ok {
		t.Fatal("view must be cleared on failure")
	}
	if uc.Busy() {
		t.Fatal("busy after failed turn")
	}
}

func TestSubmit_RejectsWhileInFlight(t *testing.T) {
	block := make(chan struct{})
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}, block: block}
	uc, _ := newTestUC(t, agent)

	done := make(chan error, 1)
	go func() { done <- uc.Submit(context.Background(), "slow question") }()

	if !waitFor(uc.Busy, time.Second) {
		t.Fatal("never became busy")
	}
	if err := uc.Submit(context.Background(), "impatient"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second Submit = %v, want ErrBusy", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if uc.Busy() {
		t.Fatal("still busy after completion")
	}
	if len(agent.requests) != 1 {
		t.Fatalf("backend called %d times, want 1", len(agent.requests))
	}
	// the rejected turn left no trace on the transcript
	for _, m := range uc.Conversation().Messages {
		if m.Text == "impatient" {
			t.Fatal("rejected message leaked into transcript")
		}
	}
}

func TestSubmit_AppendsDownloadLinks(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{
		"explanation": "Report ready.",
		"downloads": map[string]any{
			"report":   "/downloads/a.csv",
			"forecast": "/downloads/b.csv",
		},
	}}
	uc, _ := newTestUC(t, agent)

	if err := uc.Submit(context.Background(), "export"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs := uc.Conversation().Messages
	got := msgs[len(msgs)-1].Text
	want := "Report ready.\n\nDOWNLOAD LINKS\n- forecast: http://api.test/downloads/b.csv\n- report: http://api.test/downloads/a.csv"
	if got != want {
		t.Fatalf("assistant text:\n%q\nwant:\n%q", got, want)
	}
}

func TestSubmit_ArchivesCompletedTurns(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	store := newMemStore(model.ShellGreeting())
	archive := newMemArchive()
	uc, err := NewChatUseCase(store, agent, archive, model.PanelText(), ChatOptions{}, newTestLogger())
	if err != nil {
		t.Fatalf("NewChatUseCase: %v", err)
	}

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := archive.Find(context.Background(), uc.Conversation().ID)
	if err != nil {
		t.Fatalf("archive find: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("archived %d messages, want 2", len(got.Messages))
	}
}

func TestNewChat_ResetsIDAndView(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	uc, _ := newTestUC(t, agent)

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	oldID := uc.Conversation().ID

	conv, err := uc.NewChat(context.Background())
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if conv.ID == oldID {
		t.Fatal("reset kept the old conversation id")
	}
	if _, ok := uc.View(); ok {
		t.Fatal("view must be cleared on reset")
	}
	if got := len(uc.Conversation().Messages); got != 0 {
		t.Fatalf("shell-policy reset should start empty, got %d messages", got)
	}
}

func TestSubmit_SaveFailureDoesNotBlockTurn(t *testing.T) {
	agent := &fakeAgent{response: map[string]any{"explanation": "ok"}}
	store := newMemStore(model.ShellGreeting())
	uc, err := NewChatUseCase(store, agent, nil, model.PanelText(), ChatOptions{}, newTestLogger())
	if err != nil {
		t.Fatalf("NewChatUseCase: %v", err)
	}
	store.saveErr = errors.New("disk full")

	if err := uc.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := len(uc.Conversation().Messages); got != 2 {
		t.Fatalf("turn must still complete in memory, got %d messages", got)
	}
}

func TestRefreshSummary_FailureKeepsPlaceholders(t *testing.T) {
	agent := &fakeAgent{summaryErr: errors.New("backend down")}
	uc, _ := newTestUC(t, agent)

	uc.RefreshSummary(context.Background())
	for _, k := range uc.KPIs() {
		if k.Value != Placeholder {
			t.Fatalf("KPI %q = %q, want placeholder", k.Title, k.Value)
		}
	}
}

func TestKPIs_ViewOverridesSummary(t *testing.T) {
	agent := &fakeAgent{
		response: map[string]any{
			"explanation": "ok",
			"key_metrics": map[string]any{"forecast_valid_wape": 0.15},
		},
		summary: map[string]any{
			"forecast_valid_wape": 0.2,
			"forecast_valid_rmse": 3.1,
			"inventory_before":    map[string]any{"stockout_units": float64(41)},
			"inventory_after":     map[string]any{"stockout_units": float64(12)},
		},
	}
	uc, _ := newTestUC(t, agent)
	uc.RefreshSummary(context.Background())
	if err := uc.Submit(context.Background(), "optimize"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	kpis := uc.KPIs()
	if kpis[0].Value != "0.15" {
		t.Fatalf("WAPE = %q, want per-turn 0.15", kpis[0].Value)
	}
	if kpis[1].Value != "3.1" {
		t.Fatalf("RMSE = %q, want summary 3.1", kpis[1].Value)
	}
	if kpis[2].Value != "41 → 12" {
		t.Fatalf("stockouts = %q", kpis[2].Value)
	}
	if kpis[3].Value != Placeholder {
		t.Fatalf("cost proxy = %q, want placeholder", kpis[3].Value)
	}
	if !strings.Contains(kpis[2].Title, "before") {
		t.Fatalf("title: %q", kpis[2].Title)
	}
}
