package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/offsync/fault"
)

var target = Target{DBName: "app-cache-db", StoreName: "cache-store"}

func TestKindTaggedUnion(t *testing.T) {
	cases := map[Kind]Message{
		OpSet:            target.Set("q", "q:1", []byte("v"), 0),
		OpDelete:         target.Delete("q", "q:1"),
		OpClear:          target.Clear(),
		OpClearNamespace: target.ClearNamespace("q"),
	}
	for want, m := range cases {
		if got := m.Operation.Kind(); got != want {
			t.Fatalf("%s: Kind = %s", want, got)
		}
		if err := m.Validate(); err != nil {
			t.Fatalf("%s: Validate = %v", want, err)
		}
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	bad := []Message{
		{Type: "SKIP_WAITING", DBName: "d", StoreName: "s", Operation: Operation{Type: "clear"}},
		{Type: TypeCacheSync, StoreName: "s", Operation: Operation{Type: "clear"}},
		{Type: TypeCacheSync, DBName: "d", StoreName: "s", Operation: Operation{Type: "upsert", Key: "a:b"}},
		{Type: TypeCacheSync, DBName: "d", StoreName: "s", Operation: Operation{Type: "set"}},
		{Type: TypeCacheSync, DBName: "d", StoreName: "s", Operation: Operation{Type: "delete"}},
		{Type: TypeCacheSync, DBName: "d", StoreName: "s", Operation: Operation{Type: "clear", Namespace: "a:b"}},
	}
	for i, m := range bad {
		if err := m.Validate(); !errors.Is(err, fault.ErrProtocolMismatch) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestWireShape(t *testing.T) {
	b, err := Encode(target.ClearNamespace("session-1"))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != "CACHE_SYNC" || raw["dbName"] != "app-cache-db" || raw["storeName"] != "cache-store" {
		t.Fatalf("envelope = %s", b)
	}
	op := raw["operation"].(map[string]any)
	if op["type"] != "clear" || op["namespace"] != "session-1" {
		t.Fatalf("operation = %v", op)
	}

	g, _ := Encode(target.Clear())
	var graw struct {
		Operation map[string]any `json:"operation"`
	}
	_ = json.Unmarshal(g, &graw)
	if _, ok := graw.Operation["namespace"]; ok {
		t.Fatalf("global clear must omit namespace: %s", g)
	}
}

func TestDecode(t *testing.T) {
	m := target.Set("q", "q:1", []byte(`"cA"`), 7)
	b, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Operation.Key != "q:1" || string(got.Operation.Value) != `"cA"` || got.Operation.Version != 7 {
		t.Fatalf("Decode = %+v", got)
	}
	if _, err := Decode([]byte("{")); !errors.Is(err, fault.ErrProtocolMismatch) {
		t.Fatalf("bad json err = %v", err)
	}
	if _, err := Decode([]byte(`{"type":"PING"}`)); !errors.Is(err, fault.ErrProtocolMismatch) {
		t.Fatalf("unknown type err = %v", err)
	}
}

func TestDecodeBrowserEnvelope(t *testing.T) {
	const envelope = `{"type":"CACHE_SYNC","dbName":"app-cache-db","storeName":"cache-store","operation":{"type":"set","key":"ns:q1","value":%s,"namespace":"ns"}}`
	for _, want := range []string{`{"answer":"cA"}`, `"cA"`, `3`} {
		in := fmt.Sprintf(envelope, want)
		m, err := Decode([]byte(in))
		if err != nil {
			t.Fatalf("Decode(%s): %v", in, err)
		}
		p, err := m.Operation.Payload()
		if err != nil || string(p) != want {
			t.Fatalf("payload = %s %v, want %s", p, err, want)
		}
	}
}

func TestSetPutsJSONOnTheWireVerbatim(t *testing.T) {
	b, err := Encode(target.Set("ns", "ns:q1", []byte(`{"answer":"cA"}`), 0))
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		Operation map[string]any `json:"operation"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	v, ok := raw.Operation["value"].(map[string]any)
	if !ok || v["answer"] != "cA" {
		t.Fatalf("value on the wire = %s", b)
	}
	if _, ok := raw.Operation["encoding"]; ok {
		t.Fatalf("JSON value must not carry an encoding: %s", b)
	}
}

func TestBinaryValueRoundTrip(t *testing.T) {
	bin := []byte{0xa1, 0x61, 0x61, 0x01, 0xff}
	m := target.Set("ns", "ns:k", bin, 3)
	if m.Operation.Encoding != EncodingBase64 {
		t.Fatalf("encoding = %q", m.Operation.Encoding)
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	p, err := got.Operation.Payload()
	if err != nil || string(p) != string(bin) {
		t.Fatalf("payload = %x %v", p, err)
	}

	bad := []Operation{
		{Type: "set", Key: "ns:k", Value: json.RawMessage(`"!!"`), Encoding: EncodingBase64},
		{Type: "set", Key: "ns:k", Value: json.RawMessage(`{}`), Encoding: EncodingBase64},
		{Type: "set", Key: "ns:k", Value: json.RawMessage(`1`), Encoding: "hex"},
	}
	for i, op := range bad {
		m := Message{Type: TypeCacheSync, DBName: "d", StoreName: "s", Operation: op}
		if err := m.Validate(); !errors.Is(err, fault.ErrProtocolMismatch) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
}

func TestNotificationCodec(t *testing.T) {
	b, err := EncodeNotification(Notification{Type: SyncComplete, Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	n, err := DecodeNotification(b)
	if err != nil || n.Type != SyncComplete || n.Count != 3 {
		t.Fatalf("DecodeNotification = %+v %v", n, err)
	}
	if _, err := DecodeNotification([]byte(`{"type":"SYNC_MAYBE"}`)); !errors.Is(err, fault.ErrProtocolMismatch) {
		t.Fatalf("err = %v", err)
	}
}

type recorder struct {
	mu   sync.Mutex
	keys []string
	gate chan struct{}
}

func (r *recorder) Handle(_ context.Context, m Message) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.keys = append(r.keys, m.Operation.Key)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestBusPreservesArrivalOrderAndBuffersBeforeAttach(t *testing.T) {
	b := NewBus(BusOptions{Capacity: 16})
	for _, k := range []string{"a:1", "a:2", "a:3"} {
		if err := b.Post(target.Set("a", k, nil, 0)); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if b.Pending() != 3 {
		t.Fatalf("Pending = %d", b.Pending())
	}
	r := &recorder{}
	b.Attach(r)
	_ = b.Post(target.Set("a", "a:4", nil, 0))

	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := r.snapshot()
	want := []string{"a:1", "a:2", "a:3", "a:4"}
	if len(got) != len(want) {
		t.Fatalf("handled %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v want %v", got, want)
		}
	}
}

func TestBusFullAndClosed(t *testing.T) {
	b := NewBus(BusOptions{Capacity: 1})
	if err := b.Post(target.Clear()); err != nil {
		t.Fatal(err)
	}
	if err := b.Post(target.Clear()); !errors.Is(err, fault.ErrPersistenceUnavailable) {
		t.Fatalf("full err = %v", err)
	}
	_ = b.Close(context.Background())
	if err := b.Post(target.Clear()); !errors.Is(err, fault.ErrPersistenceUnavailable) {
		t.Fatalf("closed err = %v", err)
	}
}

func TestBusCloseHonorsContext(t *testing.T) {
	b := NewBus(BusOptions{})
	r := &recorder{gate: make(chan struct{})}
	b.Attach(r)
	_ = b.Post(target.Set("a", "a:1", nil, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- b.Close(ctx) }()
	time.Sleep(40 * time.Millisecond)
	close(r.gate)
	if err := <-errc; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v", err)
	}
}

func TestBusSurvivesConsumerPanic(t *testing.T) {
	b := NewBus(BusOptions{})
	var mu sync.Mutex
	var seen []string
	b.Attach(ConsumerFunc(func(_ context.Context, m Message) {
		if m.Operation.Key == "a:boom" {
			panic("boom")
		}
		mu.Lock()
		seen = append(seen, m.Operation.Key)
		mu.Unlock()
	}))
	_ = b.Post(target.Set("a", "a:boom", nil, 0))
	_ = b.Post(target.Set("a", "a:ok", nil, 0))
	_ = b.Close(context.Background())
	if len(seen) != 1 || seen[0] != "a:ok" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestHubFanOutAndCancel(t *testing.T) {
	h := NewHub(nil)
	var a, c []Notification
	cancelA := h.Subscribe(func(n Notification) { a = append(a, n) })
	h.Subscribe(func(Notification) { panic("listener bug") })
	h.Subscribe(func(n Notification) { c = append(c, n) })

	h.Broadcast(Notification{Type: SyncStarted})
	cancelA()
	cancelA()
	h.Broadcast(Notification{Type: SyncComplete, Count: 2})

	if len(a) != 1 || a[0].Type != SyncStarted {
		t.Fatalf("a = %v", a)
	}
	if len(c) != 2 || c[1].Count != 2 {
		t.Fatalf("c = %v", c)
	}
	if h.Len() != 2 {
		t.Fatalf("Len = %d", h.Len())
	}
}
