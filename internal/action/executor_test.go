package action

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailpilot/internal/dom"
	"mailpilot/internal/dom/domtest"
)

func noPacing() Pacing { return Pacing{} }

func TestRunStopsAtFirstSuccess(t *testing.T) {
	const m = 5
	for winner := 0; winner < m; winner++ {
		t.Run(fmt.Sprintf("mechanism %d succeeds", winner+1), func(t *testing.T) {
			calls := make([]int, m)
			chain := make([]Mechanism, m)
			for i := range chain {
				i := i
				chain[i] = Mechanism{Name: fmt.Sprintf("m%d", i+1), Do: func(context.Context) error {
					calls[i]++
					if i == winner {
						return nil
					}
					return errors.New("nope")
				}}
			}

			name, err := New(noPacing()).Run(context.Background(), "click", chain)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if name != fmt.Sprintf("m%d", winner+1) {
				t.Errorf("expected winner m%d, got %s", winner+1, name)
			}
			for i, c := range calls {
				want := 0
				if i <= winner {
					want = 1
				}
				if c != want {
					t.Errorf("mechanism %d called %d times, want %d", i+1, c, want)
				}
			}
		})
	}
}

func TestRunAllFail(t *testing.T) {
	const m = 4
	total := 0
	chain := make([]Mechanism, m)
	for i := range chain {
		chain[i] = Mechanism{Name: fmt.Sprintf("m%d", i+1), Do: func(context.Context) error {
			total++
			return errors.New("broken")
		}}
	}

	var observed []string
	x := New(noPacing())
	x.OnAttempt = func(action, mech string, err error) { observed = append(observed, mech) }

	_, err := x.Run(context.Background(), "click", chain)
	if !errors.Is(err, ErrActionDispatchFailed) {
		t.Fatalf("expected ErrActionDispatchFailed, got %v", err)
	}
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DispatchError, got %T", err)
	}
	if len(de.Attempts) != m {
		t.Errorf("expected %d attempts recorded, got %d", m, len(de.Attempts))
	}
	if total != m {
		t.Errorf("expected exactly %d invocations, got %d", m, total)
	}
	if len(observed) != m {
		t.Errorf("expected %d observed attempts, got %d", m, len(observed))
	}
}

func TestRunSettlesBetweenAttempts(t *testing.T) {
	chain := []Mechanism{
		{Name: "a", Do: func(context.Context) error { return errors.New("x") }},
		{Name: "b", Do: func(context.Context) error { return nil }},
	}
	x := New(Pacing{Settle: 20 * time.Millisecond})
	start := time.Now()
	if _, err := x.Run(context.Background(), "click", chain); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected a settle pause between mechanisms")
	}
}

func TestClickChainOrder(t *testing.T) {
	page := domtest.NewPage("about:blank")
	btn := domtest.NewElement("send", "Send")
	body := domtest.NewElement("body", "")
	page.Add(btn, dom.ID("send"))
	page.Add(body, dom.ID("body"))

	btn.ClickErr = domtest.ErrInjected
	btn.ClickScriptErr = domtest.ErrInjected
	page.PointerErr = domtest.ErrInjected

	name, err := New(noPacing()).Click(context.Background(), page, btn, &Shortcut{Focus: body, Keys: []dom.Key{dom.KeyControl, dom.KeyEnter}})
	if err != nil {
		t.Fatalf("Click: %v", err)
	}
	if name != "shortcut" {
		t.Errorf("expected shortcut to win, got %s", name)
	}

	want := []string{
		"click:send",
		"scroll:send", "click:send",
		"script-click:send",
		"pointer:10,20",
		"click:body",
		"shortcut:[Control Enter]",
	}
	got := page.Actions()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("unexpected action sequence\n got: %v\nwant: %v", got, want)
	}
}

func TestClickWithoutElementUsesShortcutOnly(t *testing.T) {
	page := domtest.NewPage("about:blank")
	body := page.Add(domtest.NewElement("body", ""), dom.ID("body"))

	chain := ClickChain(page, nil, &Shortcut{Focus: body, Keys: []dom.Key{dom.KeyControl, dom.KeyEnter}})
	if len(chain) != 1 || chain[0].Name != "shortcut" {
		t.Fatalf("expected a shortcut-only chain, got %d mechanisms", len(chain))
	}

	page.ShortcutErr = domtest.ErrInjected
	_, err := New(noPacing()).Click(context.Background(), page, nil, &Shortcut{Focus: body, Keys: []dom.Key{dom.KeyControl, dom.KeyEnter}})
	if !errors.Is(err, ErrActionDispatchFailed) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
}

func TestTypeClearsAndTypesEachCharacter(t *testing.T) {
	page := domtest.NewPage("about:blank")
	field := page.Add(domtest.NewElement("subject", ""), dom.ID("subject"))
	_ = field.TypeText(context.Background(), "stale")

	x := New(Pacing{KeyMin: time.Millisecond, KeyMax: 2 * time.Millisecond})
	name, err := x.Type(context.Background(), page, field, "Hi there")
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	if name != "direct" {
		t.Errorf("expected direct typing, got %s", name)
	}
	if field.Typed() != "Hi there" {
		t.Errorf("expected field to hold typed text only, got %q", field.Typed())
	}
	if field.Clears() != 1 {
		t.Errorf("expected one clear, got %d", field.Clears())
	}

	typeCalls := 0
	for _, a := range page.Actions() {
		if a == "type:subject" {
			typeCalls++
		}
	}
	// One call for the pre-seeded text, then one per character.
	if typeCalls != 1+len("Hi there") {
		t.Errorf("expected per-character dispatch, got %d type calls", typeCalls)
	}
}

func TestTypeFallsBackWhenFieldNotClickable(t *testing.T) {
	page := domtest.NewPage("about:blank")
	field := page.Add(domtest.NewElement("to", ""), dom.ID("to"))
	field.ClickErr = domtest.ErrInjected

	name, err := New(noPacing()).Type(context.Background(), page, field, "a@b.c")
	if err != nil {
		t.Fatalf("Type: %v", err)
	}
	if name != "scroll-into-view" {
		t.Errorf("expected scroll fallback, got %s", name)
	}
	if field.Typed() != "a@b.c" {
		t.Errorf("typed %q", field.Typed())
	}
}

func TestKeyDelayBounds(t *testing.T) {
	x := New(Pacing{KeyMin: 50 * time.Millisecond, KeyMax: 150 * time.Millisecond})
	for i := 0; i < 200; i++ {
		d := x.keyDelay()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %v outside bounds", d)
		}
	}
	if d := New(noPacing()).keyDelay(); d != 0 {
		t.Errorf("expected zero delay without pacing, got %v", d)
	}
}
