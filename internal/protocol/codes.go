// Package protocol содержит коды сообщений, лимиты и big-endian упаковку,
// общие для файлов записи и сетевых каналов.
package protocol

import "fmt"

// Коды сообщений. Два ASCII символа в big-endian, как на проводе.
const (
	MsgNull         uint16 = 0x0000
	MsgAddPlayer    uint16 = 0x6170 // 'ap'
	MsgAdminInfo    uint16 = 0x6169 // 'ai'
	MsgFlagUpdate   uint16 = 0x6675 // 'fu'
	MsgGameTime     uint16 = 0x6774 // 'gt'
	MsgMessage      uint16 = 0x6d67 // 'mg'
	MsgReplayReset  uint16 = 0x6d72 // 'mr'
	MsgNewRabbit    uint16 = 0x6e52 // 'nR'
	MsgPlayerInfo   uint16 = 0x7062 // 'pb'
	MsgPlayerUpdate uint16 = 0x7075 // 'pu'
	MsgRemovePlayer uint16 = 0x7270 // 'rp'
	MsgShotBegin    uint16 = 0x7362 // 'sb'
	MsgSetVar       uint16 = 0x7376 // 'sv'
	MsgTeamUpdate   uint16 = 0x7475 // 'tu'
)

// Лимиты протокола
const (
	MaxPacketLen     = 1024
	CallSignLen      = 32
	MottoLen         = 128
	MessageLen       = 128
	ServerVersionLen = 8
	AppVersionLen    = 128
	HashLen          = 64
)

// MaxPayloadLen максимальная полезная нагрузка одного пакета (за вычетом len+code)
const MaxPayloadLen = MaxPacketLen - 4

var codeNames = map[uint16]string{
	MsgNull:         "MsgNull",
	MsgAddPlayer:    "MsgAddPlayer",
	MsgAdminInfo:    "MsgAdminInfo",
	MsgFlagUpdate:   "MsgFlagUpdate",
	MsgGameTime:     "MsgGameTime",
	MsgMessage:      "MsgMessage",
	MsgReplayReset:  "MsgReplayReset",
	MsgNewRabbit:    "MsgNewRabbit",
	MsgPlayerInfo:   "MsgPlayerInfo",
	MsgPlayerUpdate: "MsgPlayerUpdate",
	MsgRemovePlayer: "MsgRemovePlayer",
	MsgShotBegin:    "MsgShotBegin",
	MsgSetVar:       "MsgSetVar",
	MsgTeamUpdate:   "MsgTeamUpdate",
}

// CodeName возвращает имя кода для логов
func CodeName(code uint16) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("MsgUnknown: 0x%04X", code)
}
