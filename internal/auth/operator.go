package auth

import "time"

// Operator учётная запись оператора админ-API.
// Токен выдаётся утилитой или при старте сервера, хранилища пользователей нет.
type Operator struct {
	Name    string        // имя в логах и в Subject токена
	IsAdmin bool          // право на команды записи/воспроизведения
	TTL     time.Duration // 0 - сутки
}
