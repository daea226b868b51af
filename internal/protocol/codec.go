package protocol

import "encoding/binary"

// Размеры фиксированных частей сообщений — для предвыделения буферов
const (
	inputCommandSize = 18 // seq + tick + 2*f32 + actions
	entityRefSize    = 6  // index + gen
)

// MsgTypeOf возвращает тип сообщения, не разбирая тело
func MsgTypeOf(data []byte) (MsgType, error) {
	if len(data) == 0 {
		return 0, ErrMalformedPacket
	}
	return MsgType(data[0]), nil
}

// EncodeHello кодирует рукопожатие клиента
func EncodeHello(h *Hello) []byte {
	w := NewWriter(1 + 4 + len(h.Token) + len(h.Name))
	w.Uint8(uint8(MsgHello))
	w.String(h.Token)
	w.String(h.Name)
	return w.Bytes()
}

// DecodeHello разбирает рукопожатие клиента
func DecodeHello(data []byte) (*Hello, error) {
	r, err := bodyReader(data, MsgHello)
	if err != nil {
		return nil, err
	}
	h := &Hello{
		Token: r.String(MaxStringLen),
		Name:  r.String(MaxStringLen),
	}
	if err := finish(r); err != nil {
		return nil, err
	}
	return h, nil
}

// EncodeWelcome кодирует ответ сервера на рукопожатие
func EncodeWelcome(m *Welcome) []byte {
	w := NewWriter(1 + 33)
	w.Uint8(uint8(MsgWelcome))
	w.Uint32(m.ClientID)
	writeRef(w, m.Entity)
	w.Uint16(m.TickRate)
	w.Uint32(m.Tick)
	w.Float32(m.BoundsMinX)
	w.Float32(m.BoundsMinY)
	w.Float32(m.BoundsMaxX)
	w.Float32(m.BoundsMaxY)
	return w.Bytes()
}

// DecodeWelcome разбирает ответ сервера на рукопожатие
func DecodeWelcome(data []byte) (*Welcome, error) {
	r, err := bodyReader(data, MsgWelcome)
	if err != nil {
		return nil, err
	}
	m := &Welcome{
		ClientID:   r.Uint32(),
		Entity:     readRef(r),
		TickRate:   r.Uint16(),
		Tick:       r.Uint32(),
		BoundsMinX: r.Float32(),
		BoundsMinY: r.Float32(),
		BoundsMaxX: r.Float32(),
		BoundsMaxY: r.Float32(),
	}
	if err := finish(r); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeInputBatch кодирует пачку команд ввода
func EncodeInputBatch(b *InputBatch) []byte {
	w := NewWriter(1 + 6 + len(b.Commands)*inputCommandSize)
	w.Uint8(uint8(MsgInputBatch))
	w.Uint32(b.AckTick)
	w.Uint16(uint16(len(b.Commands)))
	for _, c := range b.Commands {
		w.Uint32(c.Seq)
		w.Uint32(c.Tick)
		w.Float32(c.MoveX)
		w.Float32(c.MoveY)
		w.Uint16(c.Actions)
	}
	return w.Bytes()
}

// DecodeInputBatch разбирает пачку команд ввода
func DecodeInputBatch(data []byte) (*InputBatch, error) {
	r, err := bodyReader(data, MsgInputBatch)
	if err != nil {
		return nil, err
	}
	b := &InputBatch{AckTick: r.Uint32()}
	n := r.Count(MaxCommandsPerBatch)
	if n > 0 {
		b.Commands = make([]InputCommand, 0, n)
	}
	for i := 0; i < n; i++ {
		b.Commands = append(b.Commands, InputCommand{
			Seq:     r.Uint32(),
			Tick:    r.Uint32(),
			MoveX:   r.Float32(),
			MoveY:   r.Float32(),
			Actions: r.Uint16(),
		})
	}
	if err := finish(r); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeSnapshot кодирует снимок мира
func EncodeSnapshot(s *Snapshot) []byte {
	w := NewWriter(1 + 16 + len(s.Removed)*entityRefSize + len(s.Entries)*32)
	w.Uint8(uint8(MsgSnapshot))
	w.Uint32(s.Tick)
	w.Uint32(s.BaseTick)
	w.Uint32(s.LastInputSeq)

	w.Uint16(uint16(len(s.Removed)))
	for _, ref := range s.Removed {
		writeRef(w, ref)
	}

	w.Uint16(uint16(len(s.Entries)))
	for i := range s.Entries {
		writeEntityState(w, &s.Entries[i])
	}
	return w.Bytes()
}

// DecodeSnapshot разбирает снимок мира
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	r, err := bodyReader(data, MsgSnapshot)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		Tick:         r.Uint32(),
		BaseTick:     r.Uint32(),
		LastInputSeq: r.Uint32(),
	}

	n := r.Count(MaxSnapshotRemoved)
	if n > 0 {
		s.Removed = make([]EntityRef, 0, n)
	}
	for i := 0; i < n; i++ {
		s.Removed = append(s.Removed, readRef(r))
	}

	n = r.Count(MaxSnapshotEntries)
	if n > 0 {
		s.Entries = make([]EntityState, 0, n)
	}
	for i := 0; i < n; i++ {
		s.Entries = append(s.Entries, readEntityState(r))
	}
	if err := finish(r); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodePing кодирует зонд RTT
func EncodePing(p *Ping) []byte {
	w := NewWriter(1 + 12)
	w.Uint8(uint8(MsgPing))
	w.Uint32(p.Nonce)
	w.Int64(p.SentUnixNano)
	return w.Bytes()
}

// DecodePing разбирает зонд RTT
func DecodePing(data []byte) (*Ping, error) {
	r, err := bodyReader(data, MsgPing)
	if err != nil {
		return nil, err
	}
	p := &Ping{Nonce: r.Uint32(), SentUnixNano: r.Int64()}
	if err := finish(r); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePong кодирует ответ на зонд
func EncodePong(p *Pong) []byte {
	w := NewWriter(1 + 12)
	w.Uint8(uint8(MsgPong))
	w.Uint32(p.Nonce)
	w.Int64(p.SentUnixNano)
	return w.Bytes()
}

// DecodePong разбирает ответ на зонд
func DecodePong(data []byte) (*Pong, error) {
	r, err := bodyReader(data, MsgPong)
	if err != nil {
		return nil, err
	}
	p := &Pong{Nonce: r.Uint32(), SentUnixNano: r.Int64()}
	if err := finish(r); err != nil {
		return nil, err
	}
	return p, nil
}

// AppendFrame добавляет сообщение в кадр: префикс длины uint32 + байты.
// Все сообщения одного тика для клиента склеиваются в единый кадр.
func AppendFrame(frame, msg []byte) []byte {
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(msg)))
	return append(frame, msg...)
}

// SplitFrame разрезает кадр обратно на сообщения. Окна указывают в
// исходный буфер, копий нет.
func SplitFrame(frame []byte) ([][]byte, error) {
	var msgs [][]byte
	for len(frame) > 0 {
		if len(frame) < 4 {
			return nil, ErrMalformedPacket
		}
		n := binary.LittleEndian.Uint32(frame)
		frame = frame[4:]
		if uint32(len(frame)) < n || n == 0 {
			return nil, ErrMalformedPacket
		}
		if len(msgs) >= MaxFrameMessages {
			return nil, ErrMalformedPacket
		}
		msgs = append(msgs, frame[:n])
		frame = frame[n:]
	}
	return msgs, nil
}

// bodyReader проверяет тип сообщения и возвращает читатель тела
func bodyReader(data []byte, want MsgType) (*Reader, error) {
	got, err := MsgTypeOf(data)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, ErrMalformedPacket
	}
	return NewReader(data[1:]), nil
}

// finish проверяет, что тело разобрано без ошибок и без остатка
func finish(r *Reader) error {
	if r.Err() != nil {
		return r.Err()
	}
	if r.Remaining() != 0 {
		return ErrMalformedPacket
	}
	return nil
}

func writeRef(w *Writer, ref EntityRef) {
	w.Uint32(ref.Index)
	w.Uint16(ref.Gen)
}

func readRef(r *Reader) EntityRef {
	return EntityRef{Index: r.Uint32(), Gen: r.Uint16()}
}

func writeEntityState(w *Writer, e *EntityState) {
	writeRef(w, e.Ref)
	w.Uint8(uint8(e.Mask))
	if e.Mask.Has(FieldTransform) {
		w.Float32(e.Transform.PosX)
		w.Float32(e.Transform.PosY)
		w.Float32(e.Transform.VelX)
		w.Float32(e.Transform.VelY)
		w.Float32(e.Transform.Rot)
		w.Float32(e.Transform.Scale)
	}
	if e.Mask.Has(FieldCharacter) {
		w.Uint8(e.Character.State)
		w.Int32(e.Character.Health)
		w.Float32(e.Character.FacingX)
		w.Float32(e.Character.FacingY)
	}
	if e.Mask.Has(FieldHitbox) {
		w.Float32(e.Hitbox.HalfX)
		w.Float32(e.Hitbox.HalfY)
		w.Uint8(e.Hitbox.Layer)
		w.Bool(e.Hitbox.Sensor)
		w.Float32(e.Hitbox.Mass)
	}
}

func readEntityState(r *Reader) EntityState {
	e := EntityState{Ref: readRef(r), Mask: FieldMask(r.Uint8())}
	if e.Mask.Has(FieldTransform) {
		e.Transform = TransformState{
			PosX:  r.Float32(),
			PosY:  r.Float32(),
			VelX:  r.Float32(),
			VelY:  r.Float32(),
			Rot:   r.Float32(),
			Scale: r.Float32(),
		}
	}
	if e.Mask.Has(FieldCharacter) {
		e.Character = CharacterState{
			State:   r.Uint8(),
			Health:  r.Int32(),
			FacingX: r.Float32(),
			FacingY: r.Float32(),
		}
	}
	if e.Mask.Has(FieldHitbox) {
		e.Hitbox = HitboxState{
			HalfX:  r.Float32(),
			HalfY:  r.Float32(),
			Layer:  r.Uint8(),
			Sensor: r.Bool(),
			Mass:   r.Float32(),
		}
	}
	return e
}
