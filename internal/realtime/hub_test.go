package realtime

import "testing"

func TestUnsubscribeAllClosesSubscribers(t *testing.T) {
	hub := NewHub()

	sub, err := hub.Subscribe("u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := hub.ActiveSubscriptions("u1"); got != 1 {
		t.Fatalf("expected 1 subscription, got %d", got)
	}

	hub.UnsubscribeAll("u1")

	signal, ok := <-sub.C()
	if !ok {
		t.Fatal("expected a closed signal before channel close")
	}
	if signal.Kind != SignalClosed {
		t.Fatalf("expected %q, got %q", SignalClosed, signal.Kind)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected channel to be closed")
	}
	if got := hub.ActiveSubscriptions("u1"); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}
}

func TestRefreshAllConnectionsDeliversToken(t *testing.T) {
	hub := NewHub()

	first, err := hub.Subscribe("u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, err := hub.Subscribe("u2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	hub.RefreshAllConnections("fresh-token")

	for _, sub := range []*Subscription{first, second} {
		signal := <-sub.C()
		if signal.Kind != SignalRefreshed {
			t.Fatalf("expected %q, got %q", SignalRefreshed, signal.Kind)
		}
		if signal.Token != "fresh-token" {
			t.Fatalf("expected refreshed token, got %q", signal.Token)
		}
	}
}

func TestSubscribeRequiresUserID(t *testing.T) {
	hub := NewHub()
	if _, err := hub.Subscribe("  "); err == nil {
		t.Fatal("expected error for blank user id")
	}
}
