package main

import (
	"errors"
	"testing"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/hub"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/server"
)

type fakeInjector struct {
	accept bool
	ch     int
	frames []can.Frame
}

func (f *fakeInjector) Inject(ch int, fr can.Frame) bool {
	f.ch = ch
	f.frames = append(f.frames, fr)
	return f.accept
}

func TestInjectFunc(t *testing.T) {
	inj := &fakeInjector{accept: true}
	fn := injectFunc(inj, 2)
	fr := can.NewFrame(0x123, 1, 2)
	if err := fn(fr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inj.ch != 2 || len(inj.frames) != 1 || inj.frames[0].ID != 0x123 {
		t.Fatalf("frame not injected on channel 2: %+v", inj)
	}
	inj.accept = false
	if err := fn(fr); !errors.Is(err, server.ErrInjectDropped) {
		t.Fatalf("expected ErrInjectDropped, got %v", err)
	}
}

func TestInitHub(t *testing.T) {
	cfg := baseConfig()
	cfg.hubBuffer = 32
	cfg.hubPolicy = "kick"
	cfg.mirrorChannel = 1
	h := initHub(cfg, logging.Discard())
	if h.OutBufSize != 32 || h.Policy != hub.PolicyKick || h.Channel != 1 {
		t.Fatalf("unexpected hub: buf=%d policy=%v ch=%d", h.OutBufSize, h.Policy, h.Channel)
	}
}

func TestNewMirrorServer_InjectOnlyWhenEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.mirrorAddr = "127.0.0.1:0"
	h := initHub(cfg, logging.Discard())
	if s := newMirrorServer(cfg, h, &fakeInjector{}, logging.Discard()); s.Inject != nil {
		t.Fatalf("inject must be disabled for channel 0")
	}
	cfg.injectChannel = 1
	if s := newMirrorServer(cfg, h, &fakeInjector{}, logging.Discard()); s.Inject == nil {
		t.Fatalf("inject expected for channel 1")
	}
}

func TestPortOf(t *testing.T) {
	cases := map[string]int{
		"127.0.0.1:20000": 20000,
		"[::]:1234":       1234,
		":99":             99,
		"nonsense":        0,
	}
	for in, want := range cases {
		if got := portOf(in); got != want {
			t.Fatalf("portOf(%q) = %d want %d", in, got, want)
		}
	}
}
