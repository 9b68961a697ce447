package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-publish-agent/internal/intent"
	"github.com/tbourn/go-publish-agent/internal/registry"
	"github.com/tbourn/go-publish-agent/internal/services"
)

type fakeClassifier struct {
	res   intent.Result
	calls int
	text  string
}

func (f *fakeClassifier) Analyze(ctx context.Context, text string) intent.Result {
	f.calls++
	f.text = text
	return f.res
}

type fakePublisher struct {
	calls  int
	source string
	ok     bool
}

func (f *fakePublisher) Publish(ctx context.Context, formID, prompt, source string) *services.Conversation {
	f.calls++
	f.source = source
	c := &services.Conversation{FormID: formID, Input: prompt, Source: source}
	if f.ok {
		c.Publish = &registry.Result{Success: true, URL: "http://fe/public/form/" + formID + "/fp", TransactionHash: "0xabc"}
		c.Response = services.SuccessReply(formID, c.Publish.URL, "0xabc", prompt)
		c.State = services.StateResponding
	} else {
		c.Err = errors.New("registry down")
		c.State = services.StateError
	}
	return c
}

func newWatcher(ok bool) (*Watcher, *fakeClassifier, *fakePublisher, *MemoryInjections) {
	cls := &fakeClassifier{res: intent.Result{WantsToPublish: true, FormID: "abc123", Confidence: 0.9}}
	pub := &fakePublisher{ok: ok}
	inj := NewMemoryInjections(time.Minute)
	return &Watcher{
		Classifier: cls,
		Publisher:  pub,
		Injections: inj,
		Seen:       NewMemorySeen(time.Minute),
	}, cls, pub, inj
}

func TestWatcher_PublishesAndCachesReply(t *testing.T) {
	w, cls, pub, inj := newWatcher(true)
	ex := Exchange{At: time.Now(), Prompt: "please publish form abc123", Response: "I cannot publish things."}

	out := w.Handle(context.Background(), ex)
	if !out.Cached || out.Conversation == nil || !out.Conversation.Published() {
		t.Fatalf("outcome = %+v", out)
	}
	if cls.text != ex.Prompt {
		t.Fatalf("only the prompt should be classified, got %q", cls.text)
	}
	if pub.source != services.SourcePassive {
		t.Fatalf("source = %q", pub.source)
	}
	if reply, ok, _ := inj.Take(context.Background(), ex.Prompt); !ok || reply == "" {
		t.Fatalf("reply should be cached for the next matching prompt")
	}
}

func TestWatcher_DuplicateExchangeSkipped(t *testing.T) {
	w, _, pub, _ := newWatcher(true)
	ex := Exchange{At: time.Now(), Prompt: "publish form abc123", Response: "ok"}
	w.Handle(context.Background(), ex)
	if out := w.Handle(context.Background(), ex); out.Skipped != "duplicate" || pub.calls != 1 {
		t.Fatalf("outcome = %+v calls=%d", out, pub.calls)
	}
}

func TestWatcher_Screens(t *testing.T) {
	w, cls, pub, _ := newWatcher(true)

	if out := w.Handle(context.Background(), Exchange{Injected: true, Prompt: "publish form abc123"}); out.Skipped != "injected" {
		t.Fatalf("injected = %+v", out)
	}
	if out := w.Handle(context.Background(), Exchange{Prompt: "what's the weather?"}); out.Skipped != "no keyword" || cls.calls != 0 {
		t.Fatalf("keyword screen = %+v calls=%d", out, cls.calls)
	}

	cls.res = intent.Result{WantsToPublish: false}
	if out := w.Handle(context.Background(), Exchange{Prompt: "how do I publish a book?"}); out.Skipped != "no publish intent" {
		t.Fatalf("negative = %+v", out)
	}
	cls.res = intent.Result{WantsToPublish: true}
	if out := w.Handle(context.Background(), Exchange{Prompt: "publish it"}); out.Skipped != "no form id" {
		t.Fatalf("no id = %+v", out)
	}
	if pub.calls != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestWatcher_FailedPublishCachesNothing(t *testing.T) {
	w, _, _, inj := newWatcher(false)
	out := w.Handle(context.Background(), Exchange{Prompt: "publish form abc123"})
	if out.Cached || inj.Len() != 0 {
		t.Fatalf("failed publish must not cache a reply")
	}
}
