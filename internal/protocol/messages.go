package protocol

// MsgType — тип сообщения, первый байт каждого сообщения в кадре
type MsgType uint8

const (
	MsgHello      MsgType = 0x01 // клиент -> сервер: рукопожатие
	MsgWelcome    MsgType = 0x02 // сервер -> клиент: принятие в мир
	MsgInputBatch MsgType = 0x03 // клиент -> сервер: пачка команд ввода
	MsgSnapshot   MsgType = 0x04 // сервер -> клиент: снимок мира
	MsgPing       MsgType = 0x05
	MsgPong       MsgType = 0x06
)

// String возвращает имя типа сообщения для логов
func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgWelcome:
		return "Welcome"
	case MsgInputBatch:
		return "InputBatch"
	case MsgSnapshot:
		return "Snapshot"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	default:
		return "Unknown"
	}
}

// Лимиты декодера: счетчики сверх этих значений считаются дефектом пакета
const (
	MaxCommandsPerBatch = 64
	MaxSnapshotEntries  = 4096
	MaxSnapshotRemoved  = 4096
	MaxStringLen        = 1024
	MaxFrameMessages    = 256
)

// Флаги действий в команде ввода
const (
	ActionFlagAttack uint16 = 1 << 0
	ActionFlagDash   uint16 = 1 << 1
	ActionFlagJump   uint16 = 1 << 2
)

// EntityRef — сетевой идентификатор сущности: индекс слота и поколение.
// Совпадение обоих полей отличает живую сущность от переиспользованного слота.
type EntityRef struct {
	Index uint32
	Gen   uint16
}

// IsZero сообщает, пустая ли ссылка
func (r EntityRef) IsZero() bool { return r.Index == 0 && r.Gen == 0 }

// FieldMask — битовая маска компонентов, присутствующих в записи снимка
type FieldMask uint8

const (
	FieldTransform FieldMask = 1 << iota
	FieldCharacter
	FieldHitbox
)

// Has проверяет присутствие поля в маске
func (m FieldMask) Has(f FieldMask) bool { return m&f != 0 }

// Hello — первое сообщение клиента: JWT-токен и желаемое имя
type Hello struct {
	Token string
	Name  string
}

// Welcome — ответ сервера на Hello: параметры мира и выданная сущность
type Welcome struct {
	ClientID uint32
	Entity   EntityRef
	TickRate uint16
	Tick     uint32
	// Границы мира (мин/макс по осям)
	BoundsMinX float32
	BoundsMinY float32
	BoundsMaxX float32
	BoundsMaxY float32
}

// InputCommand — одна команда ввода за один клиентский тик
type InputCommand struct {
	Seq     uint32
	Tick    uint32
	MoveX   float32
	MoveY   float32
	Actions uint16
}

// InputBatch — пачка команд с подтверждением последнего снимка.
// Клиент повторяет несколько последних неподтвержденных команд,
// прикрывая потери отдельных датаграмм.
type InputBatch struct {
	AckTick  uint32
	Commands []InputCommand
}

// TransformState — позиция и движение сущности на проводе
type TransformState struct {
	PosX, PosY float32
	VelX, VelY float32
	Rot        float32
	Scale      float32
}

// CharacterState — боевое состояние персонажа на проводе
type CharacterState struct {
	State   uint8
	Health  int32
	FacingX float32
	FacingY float32
}

// HitboxState — коллизионный объем сущности на проводе
type HitboxState struct {
	HalfX, HalfY float32
	Layer        uint8
	Sensor       bool
	Mass         float32
}

// EntityState — одна запись снимка: присутствуют только компоненты,
// отмеченные в маске (в дельте — только изменившиеся с базового тика)
type EntityState struct {
	Ref       EntityRef
	Mask      FieldMask
	Transform TransformState
	Character CharacterState
	Hitbox    HitboxState
}

// Snapshot — снимок мира. BaseTick == 0 означает полный снимок,
// иначе — дельту относительно подтвержденного клиентом тика.
type Snapshot struct {
	Tick         uint32
	BaseTick     uint32
	LastInputSeq uint32
	Removed      []EntityRef
	Entries      []EntityState
}

// IsFull сообщает, полный ли это снимок
func (s *Snapshot) IsFull() bool { return s.BaseTick == 0 }

// Ping — зонд RTT; сервер возвращает Pong с теми же полями
type Ping struct {
	Nonce        uint32
	SentUnixNano int64
}

// Pong — ответ на Ping
type Pong struct {
	Nonce        uint32
	SentUnixNano int64
}
