package events

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	"github.com/R3E-Network/raffle/pkg/logger"
)

func entered(id, who string) lottery.Event {
	return lottery.Event{ID: id, Type: lottery.EventEntered, Round: 1, Participant: who, Amount: 10}
}

func TestBroker_Recent(t *testing.T) {
	b := NewBroker(3)
	ctx := context.Background()
	for i, who := range []string{"a", "b", "c", "d"} {
		if err := b.Publish(ctx, entered(string(rune('1'+i)), who)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if b.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", b.Count())
	}
	recent := b.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent len = %d, want 3", len(recent))
	}
	if recent[0].Participant != "d" || recent[2].Participant != "b" {
		t.Errorf("unexpected order: %+v", recent)
	}
	if got := b.Recent(0); len(got) != 0 {
		t.Errorf("Recent(0) = %v, want empty", got)
	}
}

func TestBroker_RecentByType(t *testing.T) {
	b := NewBroker(10)
	ctx := context.Background()
	_ = b.Publish(ctx, entered("1", "a"))
	_ = b.Publish(ctx, lottery.Event{ID: "2", Type: lottery.EventWinnerRequested, RequestID: 1})
	_ = b.Publish(ctx, entered("3", "b"))

	got := b.RecentByType(lottery.EventWinnerRequested, 5)
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("RecentByType = %+v", got)
	}
}

func TestBroker_SubscribeFilterAndDrop(t *testing.T) {
	b := NewBroker(10)
	ctx := context.Background()

	all, cancelAll := b.Subscribe(1, nil)
	defer cancelAll()
	winners, cancelWinners := b.Subscribe(4, func(e lottery.Event) bool { return e.Type == lottery.EventWinnerPicked })

	_ = b.Publish(ctx, entered("1", "a"))
	_ = b.Publish(ctx, entered("2", "b")) // dropped for the full subscriber
	_ = b.Publish(ctx, lottery.Event{ID: "3", Type: lottery.EventWinnerPicked, Winner: "a"})

	if e := <-all; e.ID != "1" {
		t.Errorf("first event = %s, want 1", e.ID)
	}
	select {
	case e := <-all:
		t.Errorf("unexpected event %s for full subscriber", e.ID)
	default:
	}

	if e := <-winners; e.ID != "3" {
		t.Errorf("winner event = %s, want 3", e.ID)
	}

	if b.Subscribers() != 2 {
		t.Errorf("Subscribers() = %d, want 2", b.Subscribers())
	}
	cancelWinners()
	cancelWinners()
	if _, ok := <-winners; ok {
		t.Error("channel should be closed after cancel")
	}
	if b.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", b.Subscribers())
	}
}

func TestBroker_SubscribeWithHistoryDoesNotOverlap(t *testing.T) {
	b := NewBroker(1000)
	ctx := context.Background()
	_ = b.Publish(ctx, entered("before", "a"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = b.Publish(ctx, entered(strconv.Itoa(i), "a"))
		}
	}()
	history, live, cancel := b.SubscribeWithHistory(1000, nil, 1000)
	wg.Wait()
	cancel()

	seen := make(map[string]bool, len(history))
	for _, e := range history {
		seen[e.ID] = true
	}
	if !seen["before"] {
		t.Error("history should contain the event published before subscribing")
	}
	total := len(history)
	for e := range live {
		if seen[e.ID] {
			t.Errorf("event %s delivered in both history and subscription", e.ID)
		}
		total++
	}
	if total != 201 {
		t.Errorf("history+live = %d events, want 201", total)
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, lottery.Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &failingSink{}
	broker := NewBroker(4)
	m := NewMulti(logger.NewNop(), bad, nil, broker)

	err := m.Publish(context.Background(), entered("1", "a"))
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("err = %v, want sink down", err)
	}
	if bad.calls != 1 {
		t.Errorf("bad sink calls = %d", bad.calls)
	}
	if broker.Count() != 1 {
		t.Errorf("broker did not receive the event")
	}
}

func TestStreamHandler(t *testing.T) {
	broker := NewBroker(10)
	ctx := context.Background()
	_ = broker.Publish(ctx, entered("old", "a"))

	srv := httptest.NewServer(NewStreamHandler(broker, nil, logger.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?replay=5&type=" + string(lottery.EventEntered)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var replayed lottery.Event
	if err := conn.ReadJSON(&replayed); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if replayed.ID != "old" {
		t.Errorf("replayed = %s, want old", replayed.ID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = broker.Publish(ctx, lottery.Event{ID: "skip", Type: lottery.EventWinnerPicked})
	_ = broker.Publish(ctx, entered("new", "b"))

	var live lottery.Event
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.ID != "new" || live.Participant != "b" {
		t.Errorf("live = %+v", live)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://raffle.example/"})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://raffle.example")
	if !check(req) {
		t.Error("expected allowed origin")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("expected rejected origin")
	}
}

func TestRedisPublisherIntegration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis integration test")
	}
	client, err := NewRedisClient(url)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	pub := NewRedisPublisher(client, "raffle.events.test")
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, pub.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := pub.Publish(ctx, entered("r1", "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	event, err := DecodeEvent(msg.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.ID != "r1" || event.Participant != "alice" {
		t.Errorf("event = %+v", event)
	}
}
