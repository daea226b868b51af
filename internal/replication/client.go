package replication

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/game"
	"github.com/sha1d/pixel-sahur/internal/logging"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/transport"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// ClientOptions настраивает клиентскую репликацию. Тюнинг персонажа
// должен совпадать с серверным — от него зависит точность предсказания.
type ClientOptions struct {
	Tuning            character.Tuning
	PredictionHistory int
	ReconcileEpsilon  float64
	InterpDelay       time.Duration
	InputRedundancy   int
}

// DefaultClientOptions возвращает настройки клиента по умолчанию
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Tuning:            character.DefaultTuning(),
		PredictionHistory: 128,
		ReconcileEpsilon:  0.01,
		InterpDelay:       100 * time.Millisecond,
		InputRedundancy:   3,
	}
}

// predicted — запись кольца предсказаний: команда и состояние после неё
type predicted struct {
	cmd protocol.InputCommand
	pos vec.Vec2
	vel vec.Vec2
}

// RenderState — данные отрисовки одной сущности: предсказанные для
// собственной, интерполированные для чужих
type RenderState struct {
	Ref    protocol.EntityRef
	Pos    vec.Vec2
	Vel    vec.Vec2
	Rot    float64
	Scale  float64
	State  character.ActionState
	Health int32
	Owned  bool
}

// Client — клиентская сторона репликации: предсказание собственной
// сущности тем же кодом движения, что на сервере, сверка с авторитетными
// снимками и интерполяция чужих сущностей с фиксированной задержкой.
// Не потокобезопасен: все методы вызываются из цикла клиента.
type Client struct {
	ch      transport.Channel
	opts    ClientOptions
	machine *character.Machine
	logger  *logging.Logger

	joined   bool
	welcome  protocol.Welcome
	clientID uint32
	entity   protocol.EntityRef
	bounds   physics.Rect
	dt       float64

	seq        uint32
	localTick  uint32
	serverTick uint32
	pingNonce  uint32

	own       ecs.Transform
	ownStatus character.Status
	hasOwn    bool
	history   []predicted
	unacked   []protocol.InputCommand

	// replica зеркалирует чужие сущности под серверными идентификаторами:
	// авторитетный трансформ, боевое состояние и хитбокс для отрисовки и
	// локальных запросов. Образцы интерполяции живут отдельно в remotes.
	replica    *ecs.Store
	replicaIDs map[uint32]ecs.EntityID

	remotes    map[uint64]*remoteEntity
	reconciles uint64
	rtt        time.Duration
}

// NewClient создает клиента поверх открытого канала
func NewClient(ch transport.Channel, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.PredictionHistory <= 0 {
		opts.PredictionHistory = def.PredictionHistory
	}
	if opts.ReconcileEpsilon <= 0 {
		opts.ReconcileEpsilon = def.ReconcileEpsilon
	}
	if opts.InterpDelay <= 0 {
		opts.InterpDelay = def.InterpDelay
	}
	if opts.InputRedundancy <= 0 {
		opts.InputRedundancy = def.InputRedundancy
	}
	return &Client{
		ch:        ch,
		opts:      opts,
		machine:   character.NewMachine(opts.Tuning),
		logger:    logging.GetComponentLogger("replication"),
		ownStatus:  character.NewStatus(opts.Tuning),
		replica:    ecs.NewStore(),
		replicaIDs: make(map[uint32]ecs.EntityID),
		remotes:    make(map[uint64]*remoteEntity),
	}
}

// Join отправляет Hello и ждет Welcome. Сервер приклеивает к Welcome
// полный снимок, поэтому после возврата клиент уже знает мир.
func (c *Client) Join(ctx context.Context, token, name string) (*protocol.Welcome, error) {
	frame := protocol.AppendFrame(nil, protocol.EncodeHello(&protocol.Hello{Token: token, Name: name}))
	if err := c.ch.Send(frame, &transport.SendOptions{Reliable: true}); err != nil {
		return nil, fmt.Errorf("отправка Hello: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case data, ok := <-c.ch.Receive():
			if !ok {
				return nil, transport.ErrChannelClosed
			}
			if err := c.HandleFrame(data); err != nil {
				return nil, err
			}
			if c.joined {
				w := c.welcome
				return &w, nil
			}
		}
	}
}

// Poll дренирует входящие кадры без блокировки
func (c *Client) Poll() error {
	for {
		select {
		case data, ok := <-c.ch.Receive():
			if !ok {
				return transport.ErrChannelClosed
			}
			if err := c.HandleFrame(data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// HandleFrame разбирает кадр сервера на сообщения и применяет их
func (c *Client) HandleFrame(frame []byte) error {
	msgs, err := protocol.SplitFrame(frame)
	if err != nil {
		return fmt.Errorf("кадр сервера: %w", err)
	}
	for _, msg := range msgs {
		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleMessage(msg []byte) error {
	t, err := protocol.MsgTypeOf(msg)
	if err != nil {
		return err
	}
	switch t {
	case protocol.MsgWelcome:
		w, err := protocol.DecodeWelcome(msg)
		if err != nil {
			return err
		}
		c.applyWelcome(w)
	case protocol.MsgSnapshot:
		s, err := protocol.DecodeSnapshot(msg)
		if err != nil {
			return err
		}
		c.applySnapshot(s)
	case protocol.MsgPong:
		p, err := protocol.DecodePong(msg)
		if err != nil {
			return err
		}
		c.rtt = time.Duration(time.Now().UnixNano() - p.SentUnixNano)
	default:
		return fmt.Errorf("%w: сервер прислал %s", protocol.ErrMalformedPacket, t)
	}
	return nil
}

func (c *Client) applyWelcome(w *protocol.Welcome) {
	c.welcome = *w
	c.clientID = w.ClientID
	c.entity = w.Entity
	c.bounds = physics.NewRect(
		float64(w.BoundsMinX), float64(w.BoundsMinY),
		float64(w.BoundsMaxX), float64(w.BoundsMaxY),
	)
	c.dt = (time.Second / time.Duration(w.TickRate)).Seconds()
	c.localTick = w.Tick
	c.serverTick = w.Tick
	c.joined = true
	c.logger.Info("✅ В мире: клиент %d, сущность e%d.%d, тикрейт %d",
		w.ClientID, w.Entity.Index, w.Entity.Gen, w.TickRate)
}

// PredictInput — один клиентский тик: ввод применяется к собственной
// сущности немедленно тем же кодом движения, что на сервере, команда
// встает в очередь отправки. Возвращает порядковый номер команды.
func (c *Client) PredictInput(move vec.Vec2, actions character.Action) uint32 {
	if !c.joined {
		return 0
	}
	c.seq++
	c.localTick++
	cmd := protocol.InputCommand{
		Seq:     c.seq,
		Tick:    c.localTick,
		MoveX:   float32(move.X),
		MoveY:   float32(move.Y),
		Actions: actionsToWire(actions),
	}

	// Предсказание идет по квантованному вектору: сервер увидит ровно его
	qmove := moveFromWire(cmd.MoveX, cmd.MoveY)
	game.ApplyMovement(c.machine, &c.ownStatus, &c.own, qmove, c.dt, c.bounds)
	c.machine.Step(&c.ownStatus, character.Frame{Move: qmove, Actions: actions}, c.localTick)

	c.history = append(c.history, predicted{cmd: cmd, pos: c.own.Pos, vel: c.own.Vel})
	if len(c.history) > c.opts.PredictionHistory {
		c.history = c.history[len(c.history)-c.opts.PredictionHistory:]
	}
	c.unacked = append(c.unacked, cmd)
	if len(c.unacked) > protocol.MaxCommandsPerBatch {
		c.unacked = c.unacked[len(c.unacked)-protocol.MaxCommandsPerBatch:]
	}
	return c.seq
}

// FlushInput отправляет пачку ввода: несколько последних неподтвержденных
// команд и подтверждение последнего снимка. Пустая пачка — подтверждение.
func (c *Client) FlushInput() error {
	if !c.joined {
		return nil
	}
	cmds := c.unacked
	if n := len(cmds); n > c.opts.InputRedundancy {
		cmds = cmds[n-c.opts.InputRedundancy:]
	}
	batch := &protocol.InputBatch{AckTick: c.serverTick, Commands: cmds}
	frame := protocol.AppendFrame(nil, protocol.EncodeInputBatch(batch))
	return c.ch.Send(frame, nil)
}

// SendPing отправляет зонд RTT
func (c *Client) SendPing() error {
	c.pingNonce++
	frame := protocol.AppendFrame(nil, protocol.EncodePing(&protocol.Ping{
		Nonce:        c.pingNonce,
		SentUnixNano: time.Now().UnixNano(),
	}))
	return c.ch.Send(frame, nil)
}

// applySnapshot применяет авторитетный снимок: чужие сущности идут в
// буферы интерполяции, собственная — на сверку предсказания
func (c *Client) applySnapshot(s *protocol.Snapshot) {
	now := time.Now()
	if s.Tick > c.serverTick {
		c.serverTick = s.Tick
	}

	for _, ref := range s.Removed {
		delete(c.remotes, packRef(ref))
		c.dropReplica(ref)
		if ref == c.entity {
			c.logger.Warn("⚠️ Собственная сущность удалена сервером")
			c.hasOwn = false
		}
	}

	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Ref == c.entity {
			c.reconcile(e, s.LastInputSeq)
			continue
		}
		c.mirrorRemote(e)
		key := packRef(e.Ref)
		r := c.remotes[key]
		if r == nil {
			r = &remoteEntity{ref: e.Ref}
			c.remotes[key] = r
		}
		r.observe(e, s.Tick, now)
	}

	// Полный снимок перечисляет весь мир: чего в нем нет, того больше нет
	if s.IsFull() {
		present := make(map[uint64]struct{}, len(s.Entries))
		for i := range s.Entries {
			present[packRef(s.Entries[i].Ref)] = struct{}{}
		}
		for key := range c.remotes {
			if _, ok := present[key]; !ok {
				c.dropReplica(c.remotes[key].ref)
				delete(c.remotes, key)
			}
		}
	}

	c.dropAcked(s.LastInputSeq)
}

// mirrorRemote заводит чужую сущность в реплике под серверным
// идентификатором и замещает компоненты авторитетным состоянием снимка
func (c *Client) mirrorRemote(e *protocol.EntityState) {
	id := idOf(e.Ref)

	// Сервер переиспользует индексы: прежнее поколение на том же слоте
	// уничтожается, даже если его Removed потерялся между дельтами
	if old, ok := c.replicaIDs[e.Ref.Index]; ok && old != id {
		_ = c.replica.DestroyEntity(old)
	}
	if !c.replica.IsAlive(id) {
		if err := c.replica.CreateEntityWithID(id); err != nil {
			c.logger.Warn("⚠️ Реплика отвергла сущность e%d.%d: %v", e.Ref.Index, e.Ref.Gen, err)
			return
		}
		c.replicaIDs[e.Ref.Index] = id
	}

	if e.Mask.Has(protocol.FieldTransform) {
		_ = c.replica.SetTransform(id, transformFromWire(e.Transform))
	}
	if e.Mask.Has(protocol.FieldCharacter) {
		st := character.NewStatus(c.opts.Tuning)
		st.State = character.ActionState(e.Character.State)
		st.Health = e.Character.Health
		st.Facing = vec.Vec2{X: float64(e.Character.FacingX), Y: float64(e.Character.FacingY)}
		_ = c.replica.SetCharacter(id, st)
	}
	if e.Mask.Has(protocol.FieldHitbox) {
		_ = c.replica.SetHitbox(id, hitboxFromWire(e.Hitbox))
	}
}

// dropReplica уничтожает зеркало сущности, если оно есть
func (c *Client) dropReplica(ref protocol.EntityRef) {
	id := idOf(ref)
	if c.replica.IsAlive(id) {
		_ = c.replica.DestroyEntity(id)
	}
	if cur, ok := c.replicaIDs[ref.Index]; ok && cur == id {
		delete(c.replicaIDs, ref.Index)
	}
}

// reconcile сверяет предсказание с авторитетным состоянием собственной
// сущности. Расхождение в пределах эпсилона сохраняет предсказание;
// сверх него — принимается авторитетная позиция и неподтвержденные
// команды переигрываются тем же кодом движения.
func (c *Client) reconcile(e *protocol.EntityState, lastSeq uint32) {
	if e.Mask.Has(protocol.FieldCharacter) {
		c.ownStatus.State = character.ActionState(e.Character.State)
		c.ownStatus.Health = e.Character.Health
		c.ownStatus.Facing = vec.Vec2{X: float64(e.Character.FacingX), Y: float64(e.Character.FacingY)}
	}
	if !e.Mask.Has(protocol.FieldTransform) {
		return
	}
	authPos := vec.Vec2{X: float64(e.Transform.PosX), Y: float64(e.Transform.PosY)}
	authVel := vec.Vec2{X: float64(e.Transform.VelX), Y: float64(e.Transform.VelY)}

	idx := -1
	for i := range c.history {
		if c.history[i].cmd.Seq == lastSeq {
			idx = i
			break
		}
	}

	if idx >= 0 {
		if c.history[idx].pos.DistanceTo(authPos) <= c.opts.ReconcileEpsilon {
			// Предсказание подтвердилось: подтвержденная история не нужна
			c.history = append(c.history[:0], c.history[idx+1:]...)
			c.hasOwn = true
			return
		}
		divergence := c.history[idx].pos.DistanceTo(authPos)
		c.reconciles++
		rest := append([]predicted(nil), c.history[idx+1:]...)
		c.logger.Debug("🔁 Расхождение предсказания %.4f на seq %d — переигрываем %d команд",
			divergence, lastSeq, len(rest))
		c.own.Rot = float64(e.Transform.Rot)
		c.own.Scale = float64(e.Transform.Scale)
		c.replay(authPos, authVel, rest)
		return
	}

	// Подтвержденной команды нет в истории: первый снимок, простой без
	// ввода или база старше кольца предсказаний. Принимаем авторитет и
	// переигрываем все, что новее подтверждения.
	var rest []predicted
	for _, p := range c.history {
		if p.cmd.Seq > lastSeq {
			rest = append(rest, p)
		}
	}
	if len(c.history) > 0 {
		c.reconciles++
	}
	c.own.Rot = float64(e.Transform.Rot)
	c.own.Scale = float64(e.Transform.Scale)
	c.replay(authPos, authVel, rest)
}

// replay принимает авторитетное состояние и заново применяет
// неподтвержденные команды поверх него
func (c *Client) replay(pos, vel vec.Vec2, rest []predicted) {
	c.own.Pos = pos
	c.own.Vel = vel
	c.hasOwn = true

	c.history = c.history[:0]
	for _, p := range rest {
		move := moveFromWire(p.cmd.MoveX, p.cmd.MoveY)
		game.ApplyMovement(c.machine, &c.ownStatus, &c.own, move, c.dt, c.bounds)
		c.history = append(c.history, predicted{cmd: p.cmd, pos: c.own.Pos, vel: c.own.Vel})
	}
}

// dropAcked выбрасывает подтвержденные команды из очереди повторов
func (c *Client) dropAcked(lastSeq uint32) {
	keep := c.unacked[:0]
	for _, cmd := range c.unacked {
		if cmd.Seq > lastSeq {
			keep = append(keep, cmd)
		}
	}
	c.unacked = keep
}

// RenderStates возвращает данные отрисовки: собственная сущность — из
// предсказания, чужие — интерполяцией на момент now − InterpDelay
func (c *Client) RenderStates(now time.Time) []RenderState {
	out := make([]RenderState, 0, len(c.remotes)+1)
	if c.joined && c.hasOwn {
		out = append(out, RenderState{
			Ref:    c.entity,
			Pos:    c.own.Pos,
			Vel:    c.own.Vel,
			Rot:    c.own.Rot,
			Scale:  c.own.Scale,
			State:  c.ownStatus.State,
			Health: c.ownStatus.Health,
			Owned:  true,
		})
	}

	keys := make([]uint64, 0, len(c.remotes))
	for key := range c.remotes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	at := now.Add(-c.opts.InterpDelay)
	for _, key := range keys {
		r := c.remotes[key]
		s, ok := r.stateAt(at)
		if !ok {
			continue
		}
		rs := RenderState{Ref: r.ref, Pos: s.pos, Vel: s.vel, Rot: s.rot, Scale: s.scale}
		if st, ok := c.replica.Character(idOf(r.ref)); ok {
			rs.State = st.State
			rs.Health = st.Health
		}
		out = append(out, rs)
	}
	return out
}

// Close закрывает канал клиента
func (c *Client) Close() error {
	return c.ch.Close()
}

// ClientID возвращает выданный сервером идентификатор
func (c *Client) ClientID() uint32 { return c.clientID }

// Entity возвращает собственную сущность клиента
func (c *Client) Entity() protocol.EntityRef { return c.entity }

// Joined сообщает, завершено ли рукопожатие
func (c *Client) Joined() bool { return c.joined }

// ServerTick возвращает тик последнего принятого снимка
func (c *Client) ServerTick() uint32 { return c.serverTick }

// Reconciles возвращает число коррекций предсказания
func (c *Client) Reconciles() uint64 { return c.reconciles }

// RTT возвращает последнюю измеренную задержку туда-обратно
func (c *Client) RTT() time.Duration { return c.rtt }

// OwnTransform возвращает предсказанный трансформ собственной сущности
func (c *Client) OwnTransform() ecs.Transform { return c.own }

// OwnStatus возвращает зеркало боевого состояния собственной сущности
func (c *Client) OwnStatus() character.Status { return c.ownStatus }

// Replica возвращает зеркало чужих сущностей под серверными ID.
// Только для чтения: жизненным циклом управляют снимки сервера.
func (c *Client) Replica() *ecs.Store { return c.replica }
