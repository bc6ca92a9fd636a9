package protocol

// SettingsSize размер упакованных настроек мира
const SettingsSize = 30

// Game types
const (
	TeamFFA uint16 = iota
	ClassicCTF
	OpenFFA
	RabbitChase
)

// Settings упакованная конфигурация игры, сохраняемая в заголовке записи
type Settings struct {
	WorldSize    float32
	GameType     uint16
	GameOptions  uint16
	MaxPlayers   uint16
	MaxShots     uint16
	NumFlags     uint16
	LinearAccel  float32
	AngularAccel float32
	ShakeTimeout uint16
	ShakeWins    uint16
	SyncTime     uint32
}

// Pack упаковывает настройки ровно в SettingsSize байт
func (s Settings) Pack() []byte {
	w := NewWriter(SettingsSize)
	w.PutF32(s.WorldSize)
	w.PutU16(s.GameType)
	w.PutU16(s.GameOptions)
	w.PutU16(s.MaxPlayers)
	w.PutU16(s.MaxShots)
	w.PutU16(s.NumFlags)
	w.PutF32(s.LinearAccel)
	w.PutF32(s.AngularAccel)
	w.PutU16(s.ShakeTimeout)
	w.PutU16(s.ShakeWins)
	w.PutU32(s.SyncTime)
	return w.Bytes()
}

// UnpackSettings разбирает настройки из b
func UnpackSettings(b []byte) (Settings, error) {
	r := NewReader(b)
	s := Settings{
		WorldSize:    r.F32(),
		GameType:     r.U16(),
		GameOptions:  r.U16(),
		MaxPlayers:   r.U16(),
		MaxShots:     r.U16(),
		NumFlags:     r.U16(),
		LinearAccel:  r.F32(),
		AngularAccel: r.F32(),
		ShakeTimeout: r.U16(),
		ShakeWins:    r.U16(),
		SyncTime:     r.U32(),
	}
	return s, r.Err()
}

// IsRabbitChase true для режима охоты на кролика
func (s Settings) IsRabbitChase() bool {
	return s.GameType == RabbitChase
}
