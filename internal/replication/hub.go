package replication

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sha1d/pixel-sahur/internal/auth"
	"github.com/sha1d/pixel-sahur/internal/ecs"
	"github.com/sha1d/pixel-sahur/internal/eventbus"
	"github.com/sha1d/pixel-sahur/internal/game"
	"github.com/sha1d/pixel-sahur/internal/logging"
	"github.com/sha1d/pixel-sahur/internal/metrics"
	"github.com/sha1d/pixel-sahur/internal/presence"
	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/transport"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// HubOptions настраивает серверную репликацию
type HubOptions struct {
	TickRate          int
	SnapshotHistory   int           // глубина кольца состояний для дельт
	FullSnapshotEvery int           // принудительный полный снимок раз в N тиков
	MaxPendingInputs  int           // предел очереди команд клиента
	MalformedLimit    int           // битых пакетов подряд до отключения
	Grace             time.Duration // молчание клиента до отключения
	PresenceTTL       time.Duration // время жизни записи присутствия
}

// DefaultHubOptions возвращает настройки репликации по умолчанию
func DefaultHubOptions() HubOptions {
	return HubOptions{
		TickRate:          60,
		SnapshotHistory:   64,
		FullSnapshotEvery: 30,
		MaxPendingInputs:  8,
		MalformedLimit:    8,
		Grace:             5 * time.Second,
		PresenceTTL:       30 * time.Second,
	}
}

// HubStats — счетчики хаба для REST-статуса. Читаются из чужих горутин.
type HubStats struct {
	Tick     uint32
	Entities int
	Clients  int
}

type inboundKind uint8

const (
	inboundFrame inboundKind = iota
	inboundLeave
)

// inbound — событие из транспортной горутины, ждущее дренажа тиком
type inbound struct {
	kind    inboundKind
	connID  uint64
	payload []byte
}

// session — серверное состояние одного подключения
type session struct {
	connID      uint64
	clientID    uint32
	name        string
	userID      uint64
	guest       bool
	entity      ecs.EntityID
	joined      bool
	connectedAt time.Time
	lastSeen    time.Time

	lastInputSeq uint32
	lastMove     vec.Vec2
	ackTick      uint32
	pending      []protocol.InputCommand
	malformed    int
	sinceFull    int
	outbound     [][]byte
}

// Hub — серверная сторона репликации. Транспортные горутины только
// складывают события во входящую очередь; вся работа с миром и сессиями
// происходит в горутине тика, поэтому состояние сессий не требует блокировок.
type Hub struct {
	world    *game.World
	server   transport.Server
	auth     *auth.GameAuthenticator
	registry presence.Registry
	bus      eventbus.Bus
	sim      *metrics.SimMetrics
	logger   *logging.Logger
	opts     HubOptions

	mu    sync.Mutex
	inbox []inbound

	sessions     map[uint64]*session
	nextClientID uint32
	history      *snapshotHistory
	lastPresence time.Time

	statTick     atomic.Uint32
	statEntities atomic.Int32
	statClients  atomic.Int32
}

// NewHub создает хаб и подключает его к транспортному серверу
func NewHub(world *game.World, server transport.Server, authenticator *auth.GameAuthenticator,
	registry presence.Registry, bus eventbus.Bus, sim *metrics.SimMetrics, opts HubOptions) *Hub {

	h := &Hub{
		world:    world,
		server:   server,
		auth:     authenticator,
		registry: registry,
		bus:      bus,
		sim:      sim,
		logger:   logging.GetComponentLogger("replication"),
		opts:     opts,
		sessions: make(map[uint64]*session),
		history:  newSnapshotHistory(opts.SnapshotHistory),
	}
	server.SetHandlers(h.onConnect, h.onFrame, h.onDisconnect)
	return h
}

// onConnect вызывается из горутины приема соединений
func (h *Hub) onConnect(connID uint64, _ transport.Channel) {
	h.logger.Debug("🔗 Соединение %d ожидает рукопожатия", connID)
}

// onFrame вызывается из горутины чтения клиента: только кладет кадр в очередь
func (h *Hub) onFrame(connID uint64, payload []byte) {
	h.mu.Lock()
	h.inbox = append(h.inbox, inbound{kind: inboundFrame, connID: connID, payload: payload})
	h.mu.Unlock()
}

// onDisconnect вызывается из транспортной горутины при закрытии канала
func (h *Hub) onDisconnect(connID uint64, _ error) {
	h.mu.Lock()
	h.inbox = append(h.inbox, inbound{kind: inboundLeave, connID: connID})
	h.mu.Unlock()
}

// Tick выполняет один тик сервера: дренаж входящих, применение ввода,
// шаг мира, снимки, жизненный цикл сессий. Вызывается циклом игры.
func (h *Hub) Tick(tick uint32, dt float64) {
	start := time.Now()

	h.drainInbox()
	h.applyInputs()
	h.world.Step(dt)
	h.sim.CollisionPairs.Add(float64(len(h.world.ContactEvents())))
	h.captureAndSend()
	h.lifecycle(start)

	h.sim.TickDuration.Observe(time.Since(start).Seconds())
	h.sim.Entities.Set(float64(h.world.Store().Alive()))
	h.statTick.Store(h.world.Tick())
	h.statEntities.Store(int32(h.world.Store().Alive()))
}

// HandleOverrun — хук отставания цикла: счетчик и событие в шину
func (h *Hub) HandleOverrun(tick uint32, behind time.Duration) {
	h.sim.TickOverruns.Inc()
	budget := time.Second / time.Duration(h.opts.TickRate)
	h.publish(eventbus.EventTickOverrun, eventbus.OverrunPayload{
		Tick:      tick,
		ElapsedUS: behind.Microseconds(),
		BudgetUS:  budget.Microseconds(),
	})
}

// Stats возвращает моментальные счетчики хаба
func (h *Hub) Stats() HubStats {
	return HubStats{
		Tick:     h.statTick.Load(),
		Entities: int(h.statEntities.Load()),
		Clients:  int(h.statClients.Load()),
	}
}

// drainInbox забирает накопленные события и обрабатывает их по порядку
func (h *Hub) drainInbox() {
	h.mu.Lock()
	batch := h.inbox
	h.inbox = nil
	h.mu.Unlock()

	for _, in := range batch {
		switch in.kind {
		case inboundLeave:
			h.dropSession(in.connID, "соединение закрыто")
		case inboundFrame:
			h.handleFrame(in.connID, in.payload)
		}
	}
}

// handleFrame разбирает кадр клиента. Любое валидное сообщение сбрасывает
// счетчик битых пакетов; дефектный кадр увеличивает его.
func (h *Hub) handleFrame(connID uint64, frame []byte) {
	sess := h.sessions[connID]
	if sess == nil {
		now := time.Now()
		sess = &session{connID: connID, connectedAt: now, lastSeen: now}
		h.sessions[connID] = sess
	}

	msgs, err := protocol.SplitFrame(frame)
	if err != nil {
		h.punish(sess, err)
		return
	}
	for _, msg := range msgs {
		if err := h.handleMessage(sess, msg); err != nil {
			h.punish(sess, err)
			return
		}
	}
	sess.malformed = 0
	sess.lastSeen = time.Now()
}

func (h *Hub) handleMessage(sess *session, msg []byte) error {
	t, err := protocol.MsgTypeOf(msg)
	if err != nil {
		return err
	}
	switch t {
	case protocol.MsgHello:
		hello, err := protocol.DecodeHello(msg)
		if err != nil {
			return err
		}
		h.join(sess, hello)
		return nil
	case protocol.MsgInputBatch:
		batch, err := protocol.DecodeInputBatch(msg)
		if err != nil {
			return err
		}
		h.queueInputs(sess, batch)
		return nil
	case protocol.MsgPing:
		ping, err := protocol.DecodePing(msg)
		if err != nil {
			return err
		}
		sess.outbound = append(sess.outbound,
			protocol.EncodePong(&protocol.Pong{Nonce: ping.Nonce, SentUnixNano: ping.SentUnixNano}))
		return nil
	default:
		return fmt.Errorf("%w: клиент прислал %s", protocol.ErrMalformedPacket, t)
	}
}

// punish учитывает дефектный пакет; превышение лимита отключает клиента
func (h *Hub) punish(sess *session, err error) {
	sess.malformed++
	h.sim.Malformed.Inc()
	h.logger.Warn("⚠️ Битый пакет от соединения %d (%d подряд): %v", sess.connID, sess.malformed, err)
	if sess.malformed >= h.opts.MalformedLimit {
		h.logger.Warn("❌ Соединение %d отключено: лимит битых пакетов", sess.connID)
		h.server.Kick(sess.connID)
	}
}

// join обрабатывает рукопожатие: аутентификация, спавн, Welcome
func (h *Hub) join(sess *session, hello *protocol.Hello) {
	if sess.joined {
		h.logger.Warn("⚠️ Повторный Hello от клиента %d — игнорируем", sess.clientID)
		return
	}

	ident, err := h.auth.AuthenticateHello(hello.Token, hello.Name)
	if err != nil {
		h.logger.Warn("❌ Отказ в рукопожатии соединению %d: %v", sess.connID, err)
		h.server.Kick(sess.connID)
		return
	}

	h.nextClientID++
	clientID := h.nextClientID

	entity, err := h.world.SpawnPlayer(clientID)
	if err != nil {
		h.logger.Error("Спавн игрока для клиента %d не удался: %v", clientID, err)
		h.server.Kick(sess.connID)
		return
	}

	sess.clientID = clientID
	sess.name = ident.Username
	sess.userID = ident.UserID
	sess.guest = ident.Guest
	sess.entity = entity
	sess.joined = true

	bounds := h.world.Bounds()
	sess.outbound = append(sess.outbound, protocol.EncodeWelcome(&protocol.Welcome{
		ClientID:   clientID,
		Entity:     refOf(entity),
		TickRate:   uint16(h.opts.TickRate),
		Tick:       h.world.Tick(),
		BoundsMinX: float32(bounds.Min.X),
		BoundsMinY: float32(bounds.Min.Y),
		BoundsMaxX: float32(bounds.Max.X),
		BoundsMaxY: float32(bounds.Max.Y),
	}))

	h.statClients.Add(1)
	h.sim.Clients.Set(float64(h.statClients.Load()))
	h.logger.Info("👤 Клиент %d (%s) вошел в мир: сущность %v", clientID, ident.Username, entity)

	h.publish(eventbus.EventPlayerJoined, eventbus.PlayerPayload{
		ClientID: clientID,
		Name:     ident.Username,
		Entity:   entity.String(),
		Tick:     h.world.Tick(),
	})
	h.setPresence(sess)
}

// queueInputs кладет свежие команды в очередь сессии: дубликаты и уже
// примененные отбрасываются, очередь упорядочена и ограничена
func (h *Hub) queueInputs(sess *session, batch *protocol.InputBatch) {
	if !sess.joined {
		return
	}
	if batch.AckTick > sess.ackTick {
		sess.ackTick = batch.AckTick
	}
	for _, cmd := range batch.Commands {
		if cmd.Seq <= sess.lastInputSeq || sess.hasPending(cmd.Seq) {
			continue
		}
		sess.pending = append(sess.pending, cmd)
	}
	sort.Slice(sess.pending, func(i, j int) bool { return sess.pending[i].Seq < sess.pending[j].Seq })
	if over := len(sess.pending) - h.opts.MaxPendingInputs; over > 0 {
		sess.pending = sess.pending[over:]
	}
}

func (s *session) hasPending(seq uint32) bool {
	for _, cmd := range s.pending {
		if cmd.Seq == seq {
			return true
		}
	}
	return false
}

// applyInputs применяет по одной команде на клиента за тик. Без свежей
// команды сохраняется направление движения, разовые действия не повторяются.
func (h *Hub) applyInputs() {
	for _, sess := range h.orderedSessions() {
		if !sess.joined {
			continue
		}
		in := ecs.Input{Seq: sess.lastInputSeq, Move: sess.lastMove}
		if len(sess.pending) > 0 {
			cmd := sess.pending[0]
			sess.pending = sess.pending[1:]
			in = ecs.Input{
				Seq:     cmd.Seq,
				Tick:    cmd.Tick,
				Move:    moveFromWire(cmd.MoveX, cmd.MoveY),
				Actions: actionsFromWire(cmd.Actions),
			}
			sess.lastInputSeq = cmd.Seq
			sess.lastMove = in.Move
			h.sim.InputsApplied.Inc()
		}
		if err := h.world.ApplyInput(sess.entity, in); err != nil {
			h.logger.Warn("⚠️ Ввод клиента %d не применен: %v", sess.clientID, err)
		}
	}
}

// captureAndSend снимает состояние тика и рассылает снимки: дельту по
// подтвержденной базе или полный снимок, если база недоступна. Все
// сообщения клиента за тик уходят одним кадром транспорта.
func (h *Hub) captureAndSend() {
	cur := captureState(h.world.Store(), h.world.Tick())
	h.history.push(cur)

	for _, sess := range h.orderedSessions() {
		if sess.joined {
			snap := h.snapshotFor(sess, cur)
			sess.outbound = append(sess.outbound, protocol.EncodeSnapshot(snap))
		}
		h.flush(sess)
	}
}

func (h *Hub) snapshotFor(sess *session, cur *tickState) *protocol.Snapshot {
	sess.sinceFull++
	if sess.ackTick > 0 && sess.sinceFull < h.opts.FullSnapshotEvery {
		if base, ok := h.history.get(sess.ackTick); ok {
			h.sim.SnapshotsDelta.Inc()
			return buildDelta(cur, base, sess.entity.Packed(), sess.lastInputSeq)
		}
	}
	sess.sinceFull = 0
	h.sim.SnapshotsFull.Inc()
	return buildFull(cur, sess.lastInputSeq)
}

// flush объединяет накопленные сообщения сессии в один кадр и отправляет
func (h *Hub) flush(sess *session) {
	if len(sess.outbound) == 0 {
		return
	}
	var frame []byte
	for _, msg := range sess.outbound {
		frame = protocol.AppendFrame(frame, msg)
	}
	sess.outbound = sess.outbound[:0]

	h.sim.SnapshotBytes.Observe(float64(len(frame)))
	if err := h.server.SendTo(sess.connID, frame, nil); err != nil {
		h.logger.Warn("⚠️ Кадр клиенту %d не отправлен: %v", sess.clientID, err)
	}
}

// lifecycle — смерти в шину событий, отключение молчащих, обновление
// присутствия
func (h *Hub) lifecycle(now time.Time) {
	for _, d := range h.world.DrainDeaths() {
		h.publish(eventbus.EventEntityDied, eventbus.DeathPayload{Entity: d.Entity.String(), Tick: d.Tick})
	}

	for _, sess := range h.orderedSessions() {
		if now.Sub(sess.lastSeen) <= h.opts.Grace {
			continue
		}
		h.logger.Info("⏱️ Клиент %d молчит дольше %v — отключаем", sess.clientID, h.opts.Grace)
		connID := sess.connID
		h.dropSession(connID, "таймаут")
		h.server.Kick(connID)
	}

	if h.registry != nil && now.Sub(h.lastPresence) >= h.opts.PresenceTTL/3 {
		h.lastPresence = now
		for _, sess := range h.orderedSessions() {
			if sess.joined {
				h.setPresence(sess)
			}
		}
	}
}

// dropSession убирает сессию: деспавн сущности, события, присутствие.
// Удаление сущности попадет в Removed ближайшего снимка.
func (h *Hub) dropSession(connID uint64, reason string) {
	sess := h.sessions[connID]
	if sess == nil {
		return
	}
	delete(h.sessions, connID)
	if !sess.joined {
		return
	}

	if err := h.world.Despawn(sess.entity); err != nil {
		h.logger.Warn("⚠️ Деспавн сущности %v не удался: %v", sess.entity, err)
	}
	h.statClients.Add(-1)
	h.sim.Clients.Set(float64(h.statClients.Load()))
	h.logger.Info("👋 Клиент %d (%s) покинул мир: %s", sess.clientID, sess.name, reason)

	h.publish(eventbus.EventPlayerLeft, eventbus.PlayerPayload{
		ClientID: sess.clientID,
		Name:     sess.name,
		Entity:   sess.entity.String(),
		Tick:     h.world.Tick(),
	})
	if h.registry != nil {
		clientID := uint64(sess.clientID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = h.registry.Delete(ctx, clientID)
		}()
	}
}

// setPresence выносит запись присутствия из горутины тика: поход в Redis
// не должен задерживать симуляцию
func (h *Hub) setPresence(sess *session) {
	if h.registry == nil {
		return
	}
	info := presence.Info{
		ClientID:    uint64(sess.clientID),
		Name:        sess.name,
		EntityIndex: sess.entity.Index,
		EntityGen:   sess.entity.Gen,
		Guest:       sess.guest,
		ConnectedAt: sess.connectedAt,
	}
	ttl := h.opts.PresenceTTL
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.registry.Set(ctx, info, ttl); err != nil {
			h.logger.Warn("🔴 Присутствие клиента %d не обновлено: %v", info.ClientID, err)
		}
	}()
}

// publish заворачивает нагрузку в конверт и публикует в шину событий
func (h *Hub) publish(eventType string, payload any) {
	if h.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, "replication", 5, payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.bus.Publish(ctx, ev); err != nil {
		h.logger.Warn("🪵 Событие %s не опубликовано: %v", eventType, err)
	}
}

// orderedSessions возвращает сессии в стабильном порядке подключения
func (h *Hub) orderedSessions() []*session {
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].connID < out[j].connID })
	return out
}
