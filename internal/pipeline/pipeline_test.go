package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/driver"
	"github.com/uscpte7/CAN-Bus1/internal/logging"
	"github.com/uscpte7/CAN-Bus1/internal/rules"
	"github.com/uscpte7/CAN-Bus1/internal/txring"
)

type sink struct{ lines []string }

func (s *sink) Submit(line []byte) bool { s.lines = append(s.lines, string(line)); return true }

type fixture struct {
	p      *Pipeline
	devs   [MaxChannels + 1]*driver.Emulator
	rings  [MaxChannels + 1]*txring.Ring
	out    *sink
	faults int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{out: &sink{}}
	for ch := 1; ch <= MaxChannels; ch++ {
		fx.devs[ch] = driver.NewEmulator()
		require.NoError(t, fx.devs[ch].Initialize(driver.ModeNormal))
		size := 16
		if ch == 3 {
			size = 5
		}
		fx.rings[ch] = txring.New(size)
	}
	all := append([]Option{WithFault(func() { fx.faults++ }), WithLogger(logging.Discard())}, opts...)
	fx.p = New(rules.Default(), fx.rings, fx.out, all...)
	return fx
}

func (fx *fixture) handle(ch int, fl Flags) bool { return fx.p.Handle(ch, fx.devs[ch], fl) }

func TestRewriteAndForward1DC(t *testing.T) {
	fx := newFixture(t)
	fx.devs[1].Deliver(can.NewFrame(0x1DC, 0, 0, 0, 0, 0, 0, 0, 0))
	require.True(t, fx.handle(1, Flags{Repeat: true, Stream: true}))

	f, ok := fx.rings[2].Peek()
	require.True(t, ok)
	assert.Equal(t, uint32(0x1DC), f.ID)
	assert.Equal(t, [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F, 0xFF, 0xFC, 0x6B}, f.Data)
	assert.Equal(t, []string{"1|1DC|FF FF FF FF 1F FF FC 6B\n"}, fx.out.lines)
	assert.Zero(t, fx.devs[1].ReadRegister(driver.RegCANINTF)&driver.RX0IF)
}

func TestBlacklisted59ENotForwarded(t *testing.T) {
	fx := newFixture(t)
	fx.devs[2].Deliver(can.NewFrame(0x59E, 1, 2))
	fx.handle(2, Flags{Repeat: true, Stream: true})
	assert.True(t, fx.rings[1].Empty())
	assert.Empty(t, fx.out.lines, "blocked frames are not streamed")
}

func TestRouteTwoToOne(t *testing.T) {
	fx := newFixture(t)
	fx.devs[2].Deliver(can.NewFrame(0x321, 7))
	fx.handle(2, Flags{Repeat: true})
	assert.Equal(t, 1, fx.rings[1].Len())
	assert.True(t, fx.rings[2].Empty())
	assert.Empty(t, fx.out.lines, "streaming off")
}

func TestChannelThreeListensOnly(t *testing.T) {
	var mirrored []can.Frame
	fx := newFixture(t, WithMirror(func(ch int, f can.Frame) {
		assert.Equal(t, 3, ch)
		mirrored = append(mirrored, f)
	}))
	fx.devs[3].Deliver(can.NewFrame(0x1DC, 1))
	fx.handle(3, Flags{Repeat: true, Stream: true})
	for ch := 1; ch <= MaxChannels; ch++ {
		assert.True(t, fx.rings[ch].Empty(), "ring %d", ch)
	}
	require.Len(t, mirrored, 1)
	assert.Equal(t, byte(0x6B), mirrored[0].Data[7], "mirror sees the rewritten frame")
}

func TestRepeatOff(t *testing.T) {
	fx := newFixture(t)
	fx.devs[1].Deliver(can.NewFrame(0x100, 1))
	fx.handle(1, Flags{Stream: true})
	assert.True(t, fx.rings[2].Empty())
	assert.Empty(t, fx.out.lines)
}

func TestBothSlotsServicedInOrder(t *testing.T) {
	fx := newFixture(t)
	fx.devs[1].Deliver(can.NewFrame(0x101))
	fx.devs[1].Deliver(can.NewFrame(0x102))
	fl := Flags{Repeat: true}
	assert.True(t, fx.handle(1, fl))
	assert.True(t, fx.handle(1, fl))
	assert.False(t, fx.handle(1, fl), "nothing left pending")

	slot := driver.NewEmulator()
	require.NoError(t, slot.Initialize(driver.ModeNormal))
	for fx.rings[2].FlushOne(slot) {
	}
	sent := slot.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, uint32(0x101), sent[0].ID)
	assert.Equal(t, uint32(0x102), sent[1].ID)
}

func TestRxOverflowReported(t *testing.T) {
	fx := newFixture(t)
	d := fx.devs[1]
	d.Deliver(can.NewFrame(0x1))
	d.Deliver(can.NewFrame(0x2))
	d.Deliver(can.NewFrame(0x3)) // both slots full

	fl := Flags{Repeat: true}
	fx.handle(1, fl)
	assert.Equal(t, []string{"CAN1 RX OVF\n"}, fx.out.lines)
	assert.Zero(t, d.ReadErrorFlags())
	assert.Zero(t, d.ReadRegister(driver.RegCANINTF)&driver.ErrorClear)
	assert.Equal(t, 1, fx.faults)

	fx.handle(1, fl)
	assert.Equal(t, 2, fx.rings[2].Len())
}

func TestErrorWithoutOverflowRaisesFault(t *testing.T) {
	fx := newFixture(t)
	d := fx.devs[2]
	d.SetErrorFlags(driver.TXBO)
	assert.True(t, fx.handle(2, Flags{}))
	assert.Empty(t, fx.out.lines)
	assert.Equal(t, 1, fx.faults)
	assert.Equal(t, byte(driver.TXBO), d.ReadErrorFlags(), "only overflow bits reset EFLG")
	assert.Zero(t, d.ReadRegister(driver.RegCANINTF)&driver.ERRIF)
}

func TestRingDropCounted(t *testing.T) {
	fx := newFixture(t)
	rs := rules.Default()
	rs.Routes[1] = 3
	fx.p = New(rs, fx.rings, fx.out, WithLogger(logging.Discard()))
	for i := 0; i < 6; i++ {
		fx.devs[1].Deliver(can.NewFrame(uint32(0x200 + i)))
		fx.handle(1, Flags{Repeat: true})
	}
	assert.Equal(t, 4, fx.rings[3].Len())
	assert.Equal(t, uint64(2), fx.rings[3].Dropped())
}

func TestInject(t *testing.T) {
	fx := newFixture(t)
	assert.True(t, fx.p.Inject(2, can.NewFrame(0x42)))
	assert.Equal(t, 1, fx.rings[2].Len())
	assert.False(t, fx.p.Inject(0, can.NewFrame(0x42)))
	assert.False(t, fx.p.Inject(4, can.NewFrame(0x42)))
}
