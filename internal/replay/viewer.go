package replay

// ViewerState стадия начальной загрузки зрителя во время воспроизведения
type ViewerState uint8

const (
	// StateNone зритель ещё не видел границу снимка
	StateNone ViewerState = iota
	// StateReceiving зритель получает пакеты снимка
	StateReceiving
	// StateStateful зритель имеет полное состояние и получает живой трафик
	StateStateful
)

func (s ViewerState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateReceiving:
		return "receiving"
	case StateStateful:
		return "stateful"
	default:
		return "unknown"
	}
}

// Advance переводит состояние зрителя по очередной записи и решает,
// пересылать ли её. Переход выполняется до решения о пересылке.
func Advance(state ViewerState, mode Mode) (ViewerState, bool) {
	switch mode {
	case UpdatePacket:
		switch state {
		case StateNone:
			state = StateReceiving
		case StateReceiving:
			state = StateStateful
		}
		return state, false
	case StatePacket:
		return state, state == StateReceiving
	case RealPacket:
		if state == StateReceiving {
			state = StateStateful
		}
		return state, state == StateStateful
	default:
		return state, false
	}
}

// Viewer подключение зрителя
type Viewer interface {
	ID() int
	Active() bool
	ReplayState() ViewerState
	SetReplayState(ViewerState)
	// Deliver отправляет сообщение. data действительно только на время вызова.
	Deliver(code uint16, data []byte) error
}

// Broadcaster слой рассылки зрителям
type Broadcaster interface {
	Viewers() []Viewer
	// Notice текстовое сообщение всем зрителям
	Notice(text string)
}

// ResetViewers сбрасывает всех зрителей в StateNone
func ResetViewers(b Broadcaster) {
	if b == nil {
		return
	}
	for _, v := range b.Viewers() {
		v.SetReplayState(StateNone)
	}
}
