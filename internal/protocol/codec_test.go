package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Tick:         900,
		BaseTick:     840,
		LastInputSeq: 512,
		Removed:      []EntityRef{{Index: 7, Gen: 2}, {Index: 11, Gen: 1}},
		Entries: []EntityState{
			{
				Ref:  EntityRef{Index: 1, Gen: 1},
				Mask: FieldTransform | FieldCharacter | FieldHitbox,
				Transform: TransformState{
					PosX: 10.5, PosY: -3.25, VelX: 6, VelY: 0, Rot: 1.5, Scale: 1,
				},
				Character: CharacterState{State: 4, Health: 70, FacingX: 1, FacingY: 0},
				Hitbox:    HitboxState{HalfX: 0.4, HalfY: 0.9, Layer: 1, Sensor: false, Mass: 1},
			},
			{
				// Дельта-запись: изменился только трансформ
				Ref:       EntityRef{Index: 2, Gen: 3},
				Mask:      FieldTransform,
				Transform: TransformState{PosX: -20, PosY: 14, Scale: 1},
			},
		},
	}
}

func TestHelloRoundtrip(t *testing.T) {
	in := &Hello{Token: "eyJhbGciOiJIUzI1NiJ9.payload.sig", Name: "Игрок-1"}

	out, err := DecodeHello(EncodeHello(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWelcomeRoundtrip(t *testing.T) {
	in := &Welcome{
		ClientID:   42,
		Entity:     EntityRef{Index: 3, Gen: 1},
		TickRate:   60,
		Tick:       1200,
		BoundsMinX: -64, BoundsMinY: -64,
		BoundsMaxX: 64, BoundsMaxY: 64,
	}

	out, err := DecodeWelcome(EncodeWelcome(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestInputBatchRoundtrip(t *testing.T) {
	in := &InputBatch{
		AckTick: 100,
		Commands: []InputCommand{
			{Seq: 1, Tick: 101, MoveX: 1, MoveY: 0, Actions: ActionFlagAttack},
			{Seq: 2, Tick: 102, MoveX: 0.7071, MoveY: -0.7071, Actions: ActionFlagDash | ActionFlagJump},
			{Seq: 3, Tick: 103},
		},
	}

	out, err := DecodeInputBatch(EncodeInputBatch(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmptyInputBatch(t *testing.T) {
	out, err := DecodeInputBatch(EncodeInputBatch(&InputBatch{AckTick: 5}))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), out.AckTick)
	assert.Empty(t, out.Commands)
}

func TestSnapshotRoundtrip(t *testing.T) {
	in := sampleSnapshot()

	out, err := DecodeSnapshot(EncodeSnapshot(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, out.IsFull())
}

func TestFullSnapshotFlag(t *testing.T) {
	s := &Snapshot{Tick: 10, BaseTick: 0}
	out, err := DecodeSnapshot(EncodeSnapshot(s))
	require.NoError(t, err)
	assert.True(t, out.IsFull())
}

func TestPingPongRoundtrip(t *testing.T) {
	ping, err := DecodePing(EncodePing(&Ping{Nonce: 9, SentUnixNano: 123456789}))
	require.NoError(t, err)
	assert.Equal(t, uint32(9), ping.Nonce)

	pong, err := DecodePong(EncodePong(&Pong{Nonce: 9, SentUnixNano: 123456789}))
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), pong.SentUnixNano)
}

// TestTruncatedPackets: любой строгий префикс валидного сообщения — дефект,
// декодер обязан вернуть ошибку, а не панику
func TestTruncatedPackets(t *testing.T) {
	msgs := map[string][]byte{
		"hello":   EncodeHello(&Hello{Token: "token", Name: "name"}),
		"welcome": EncodeWelcome(&Welcome{ClientID: 1, TickRate: 60}),
		"input": EncodeInputBatch(&InputBatch{
			AckTick:  7,
			Commands: []InputCommand{{Seq: 1, Tick: 2, MoveX: 1}},
		}),
		"snapshot": EncodeSnapshot(sampleSnapshot()),
		"ping":     EncodePing(&Ping{Nonce: 1, SentUnixNano: 2}),
	}

	decode := func(name string, data []byte) error {
		switch name {
		case "hello":
			_, err := DecodeHello(data)
			return err
		case "welcome":
			_, err := DecodeWelcome(data)
			return err
		case "input":
			_, err := DecodeInputBatch(data)
			return err
		case "snapshot":
			_, err := DecodeSnapshot(data)
			return err
		default:
			_, err := DecodePing(data)
			return err
		}
	}

	for name, full := range msgs {
		for cut := 0; cut < len(full); cut++ {
			err := decode(name, full[:cut])
			assert.ErrorIs(t, err, ErrMalformedPacket, "%s обрезан до %d байт", name, cut)
		}
	}
}

func TestTrailingGarbageRejected(t *testing.T) {
	data := append(EncodePing(&Ping{Nonce: 1}), 0xDE, 0xAD)
	_, err := DecodePing(data)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestWrongTypeRejected(t *testing.T) {
	_, err := DecodeSnapshot(EncodePing(&Ping{Nonce: 1}))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

// TestHostileCounts: завышенный счетчик не должен приводить к гигантской
// аллокации — лимит срабатывает до выделения памяти
func TestHostileCounts(t *testing.T) {
	w := NewWriter(16)
	w.Uint8(uint8(MsgInputBatch))
	w.Uint32(0)      // AckTick
	w.Uint16(0xFFFF) // счетчик далеко за лимитом
	_, err := DecodeInputBatch(w.Bytes())
	assert.ErrorIs(t, err, ErrMalformedPacket)

	w = NewWriter(32)
	w.Uint8(uint8(MsgSnapshot))
	w.Uint32(1)
	w.Uint32(0)
	w.Uint32(0)
	w.Uint16(uint16(MaxSnapshotRemoved) + 1)
	_, err = DecodeSnapshot(w.Bytes())
	assert.ErrorIs(t, err, ErrMalformedPacket)

	w = NewWriter(16)
	w.Uint8(uint8(MsgHello))
	w.Uint16(uint16(MaxStringLen) + 1)
	_, err = DecodeHello(w.Bytes())
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestFrameRoundtrip(t *testing.T) {
	a := EncodePing(&Ping{Nonce: 1})
	b := EncodeSnapshot(sampleSnapshot())
	c := EncodePong(&Pong{Nonce: 2})

	var frame []byte
	frame = AppendFrame(frame, a)
	frame = AppendFrame(frame, b)
	frame = AppendFrame(frame, c)

	msgs, err := SplitFrame(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, a, msgs[0])
	assert.Equal(t, b, msgs[1])
	assert.Equal(t, c, msgs[2])
}

func TestMalformedFrames(t *testing.T) {
	// Заголовок короче четырех байтов
	_, err := SplitFrame([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Длина указывает за пределы буфера
	frame := AppendFrame(nil, EncodePing(&Ping{}))
	_, err = SplitFrame(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Нулевая длина сообщения
	_, err = SplitFrame([]byte{0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Пустой кадр валиден
	msgs, err := SplitFrame(nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func BenchmarkEncodeSnapshot(b *testing.B) {
	s := &Snapshot{Tick: 1, LastInputSeq: 1}
	for i := 0; i < 128; i++ {
		s.Entries = append(s.Entries, EntityState{
			Ref:       EntityRef{Index: uint32(i + 1), Gen: 1},
			Mask:      FieldTransform | FieldCharacter,
			Transform: TransformState{PosX: float32(i), PosY: float32(-i), Scale: 1},
			Character: CharacterState{State: 1, Health: 100, FacingX: 1},
		})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeSnapshot(s)
	}
}

func BenchmarkDecodeSnapshot(b *testing.B) {
	s := &Snapshot{Tick: 1, LastInputSeq: 1}
	for i := 0; i < 128; i++ {
		s.Entries = append(s.Entries, EntityState{
			Ref:       EntityRef{Index: uint32(i + 1), Gen: 1},
			Mask:      FieldTransform,
			Transform: TransformState{PosX: float32(i), Scale: 1},
		})
	}
	data := EncodeSnapshot(s)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeSnapshot(data); err != nil {
			b.Fatal(err)
		}
	}
}
