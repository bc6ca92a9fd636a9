// Package game содержит серверное состояние, которое записывается в снимки:
// переменные конфигурации, команды, флаги, игроков, а также реестр зрителей.
package game

import (
	"sync"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/annel0/mmo-replay/internal/replay"
)

// VarStore переменные сервера в порядке первого появления.
// Порядок важен: снимки одного состояния дают одинаковые байты.
type VarStore struct {
	mu   sync.RWMutex
	vars *orderedmap.OrderedMap[string, string]
}

func NewVarStore() *VarStore {
	return &VarStore{vars: orderedmap.NewOrderedMap[string, string]()}
}

func (s *VarStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vars.Get(name)
}

func (s *VarStore) Set(name, value string) {
	s.mu.Lock()
	s.vars.Set(name, value)
	s.mu.Unlock()
}

func (s *VarStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars.Delete(name)
}

func (s *VarStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vars.Len()
}

// Each обходит переменные в порядке добавления
func (s *VarStore) Each(fn func(name, value string)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for el := s.vars.Front(); el != nil; el = el.Next() {
		fn(el.Key, el.Value)
	}
}

// Apply применяет тело MsgSetVar из живого трафика
func (s *VarStore) Apply(data []byte) error {
	vars, err := replay.DecodeSetVar(data)
	if err != nil {
		return err
	}
	for _, v := range vars {
		s.Set(v.Name, v.Value)
	}
	return nil
}

// Snapshot копия переменных в порядке добавления
func (s *VarStore) Snapshot() []replay.Var {
	var out []replay.Var
	s.Each(func(name, value string) {
		out = append(out, replay.Var{Name: name, Value: value})
	})
	return out
}
