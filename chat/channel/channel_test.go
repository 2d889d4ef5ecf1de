package channel

import (
	"context"
	"testing"
	"time"

	"github.com/pinkfuwa/llumen-go/chat/token"
)

// textMergeCap is chat/token's soft byte cap for coalescing text tokens.
const textMergeCap = 4096

func recvTimeout(t *testing.T, sub *Subscriber[token.Token, *token.Token]) (token.Token, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Recv(ctx)
}

func TestPublishSubscribeBasic(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()

	pub, ok := c.Publish(1)
	if !ok {
		t.Fatal("expected publish to succeed")
	}
	defer pub.Close()

	sub := c.Subscribe(1, nil)

	pub.Publish(token.Assistant("hello "))
	pub.Publish(token.Assistant("world"))

	got, ok := recvTimeout(t, sub)
	if !ok {
		t.Fatal("expected a token")
	}
	if got.Text != "hello world" {
		t.Fatalf("expected coalesced text, got %q", got.Text)
	}
}

func TestMergeOverflowSpills(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()
	pub, _ := c.Publish(2)
	defer pub.Close()
	sub := c.Subscribe(2, nil)

	big := make([]byte, textMergeCap-1)
	for i := range big {
		big[i] = 'a'
	}
	pub.Publish(token.Assistant(string(big)))
	pub.Publish(token.Assistant("bc"))

	first, ok := recvTimeout(t, sub)
	if !ok || len(first.Text) != textMergeCap {
		t.Fatalf("expected capped first chunk, got len %d ok=%v", len(first.Text), ok)
	}

	second, ok := recvTimeout(t, sub)
	if !ok || second.Text != "c" {
		t.Fatalf("expected spilled remainder %q, got %q ok=%v", "c", second.Text, ok)
	}
}

func TestCursorResume(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()
	pub, _ := c.Publish(3)
	defer pub.Close()

	sub := c.Subscribe(3, nil)
	pub.Publish(token.Assistant("abc"))

	first, ok := recvTimeout(t, sub)
	if !ok || first.Text != "abc" {
		t.Fatalf("unexpected first recv: %+v ok=%v", first, ok)
	}

	cur := sub.Cursor()

	resumed := c.Subscribe(3, &cur)
	pub.Publish(token.Assistant("def"))

	second, ok := recvTimeout(t, resumed)
	if !ok || second.Text != "def" {
		t.Fatalf("expected resumed subscriber to see only new text, got %+v ok=%v", second, ok)
	}
}

func TestReconnectNoDuplicate(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()

	pub1, _ := c.Publish(4)
	sub := c.Subscribe(4, nil)
	pub1.Publish(token.Assistant("first run"))

	got, ok := recvTimeout(t, sub)
	if !ok || got.Text != "first run" {
		t.Fatalf("unexpected first-generation recv: %+v ok=%v", got, ok)
	}
	pub1.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := recvTimeout(t, sub)
		if ok {
			t.Error("expected no more tokens from the closed generation")
		}
	}()
	<-done

	pub2, ok := c.Publish(4)
	if !ok {
		t.Fatal("expected publish to succeed after prior publisher closed")
	}
	defer pub2.Close()

	sub2 := c.Subscribe(4, nil)
	pub2.Publish(token.Assistant("second run"))

	got2, ok := recvTimeout(t, sub2)
	if !ok || got2.Text != "second run" {
		t.Fatalf("unexpected second-generation recv: %+v ok=%v", got2, ok)
	}
}

func TestAtMostOnePublisher(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()

	pub, ok := c.Publish(5)
	if !ok {
		t.Fatal("expected first publish to succeed")
	}
	defer pub.Close()

	if c.Publishable(5) {
		t.Fatal("expected chat to be unpublishable while publisher is live")
	}

	_, ok = c.Publish(5)
	if ok {
		t.Fatal("expected second publish for the same chat to fail")
	}
}

func TestHaltDuringStream(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()
	pub, _ := c.Publish(6)
	defer pub.Close()

	if pub.Halted() {
		t.Fatal("expected not halted before Stop")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop(6)
		close(stopped)
	}()

	select {
	case <-pub.HaltChan():
	case <-time.After(time.Second):
		t.Fatal("expected halt channel to fire")
	}
	if !pub.Halted() {
		t.Fatal("expected Halted() true after Stop")
	}

	pub.Close()
	<-stopped
}

func TestWaitingSubscriberRendezvousesWithPublish(t *testing.T) {
	c := NewContext[token.Token, *token.Token]()

	sub := c.Subscribe(7, nil)

	pub, ok := c.Publish(7)
	if !ok {
		t.Fatal("expected publish to succeed even though a subscriber is already waiting")
	}
	defer pub.Close()

	pub.Publish(token.Assistant("rendezvous"))

	got, ok := recvTimeout(t, sub)
	if !ok || got.Text != "rendezvous" {
		t.Fatalf("expected waiting subscriber to receive the token, got %+v ok=%v", got, ok)
	}
}
