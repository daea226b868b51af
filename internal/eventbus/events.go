package eventbus

// Типы событий, публикуемых симуляцией
const (
	EventPlayerJoined = "player.joined"
	EventPlayerLeft   = "player.left"
	EventEntityDied   = "entity.died"
	EventTickOverrun  = "tick.overrun"
)

// PlayerPayload — нагрузка событий player.joined / player.left
type PlayerPayload struct {
	ClientID uint32 `json:"client_id"`
	Name     string `json:"name"`
	Entity   string `json:"entity"`
	Tick     uint32 `json:"tick"`
}

// DeathPayload — нагрузка события entity.died
type DeathPayload struct {
	Entity string `json:"entity"`
	Tick   uint32 `json:"tick"`
}

// OverrunPayload — нагрузка события tick.overrun: тик обсчитывался
// дольше своего бюджета
type OverrunPayload struct {
	Tick      uint32 `json:"tick"`
	ElapsedUS int64  `json:"elapsed_us"`
	BudgetUS  int64  `json:"budget_us"`
}
