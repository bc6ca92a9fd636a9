package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/mmo-replay/internal/archive"
)

var (
	ErrBadFilename = errors.New("replay: bad filename")
	ErrNoSuchFile  = errors.New("replay: no such file")
)

// Summary сведения о файле записи для списков
type Summary struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Duration int64     `json:"duration_us"`
	Player   uint32    `json:"player"`
	CallSign string    `json:"callsign"`
	Motto    string    `json:"motto"`
	RealHash string    `json:"hash"`
	Archived bool      `json:"archived"`
}

// Catalog кэш сводок, чтобы не перечитывать заголовки при каждом списке
type Catalog interface {
	Lookup(name string, size int64, modTime time.Time) (Summary, bool)
	Store(s Summary) error
}

// SortOrder порядок списка файлов
type SortOrder int

const (
	SortByName SortOrder = iota
	SortByTime
)

// ParseSortOrder "name" или "time"
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "", "name", "-n":
		return SortByName, nil
	case "time", "-t":
		return SortByTime, nil
	default:
		return SortByName, fmt.Errorf("неизвестный порядок сортировки %q", s)
	}
}

// ListOptions параметры списка файлов
type ListOptions struct {
	Sort    SortOrder
	Pattern string // glob по имени файла
}

// EnsureDir создаёт директорию записей или проверяет, что это директория
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("не удалось проверить директорию %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", dir)
	}
	return nil
}

// BadFilename true если имя выходит за пределы директории записей
func BadFilename(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return true
	}
	if strings.ContainsAny(name, `/\:`) {
		return true
	}
	return strings.Contains(name, "..")
}

// IsRecordFile проверяет magic в начале файла (архивы проверяются после распаковки)
func IsRecordFile(path string) bool {
	var r io.ReadCloser
	var err error
	if archive.IsArchive(path) {
		r, err = archive.Open(path)
	} else {
		r, err = os.Open(path)
	}
	if err != nil {
		return false
	}
	defer r.Close()

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return false
	}
	return binary.BigEndian.Uint32(magic[:]) == FileMagic
}

// ReadSummary читает заголовок файла в директории
func ReadSummary(dir, name string) (Summary, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, err
	}

	var r io.ReadCloser
	if archive.IsArchive(name) {
		r, err = archive.Open(path)
	} else {
		r, err = os.Open(path)
	}
	if err != nil {
		return Summary{}, err
	}
	defer r.Close()

	h, err := ReadHeader(r)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", name, err)
	}
	return Summary{
		Name:     name,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Duration: h.Duration,
		Player:   h.Player,
		CallSign: h.CallSign,
		Motto:    h.Motto,
		RealHash: h.RealHash,
		Archived: archive.IsArchive(name),
	}, nil
}

// ListFiles перечисляет файлы записей в dir. Файлы без magic пропускаются.
func ListFiles(dir string, opts ListOptions, cat Catalog) ([]Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать директорию %s: %w", dir, err)
	}

	var list []Summary
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if opts.Pattern != "" {
			ok, err := filepath.Match(opts.Pattern, name)
			if err != nil {
				return nil, fmt.Errorf("неверный шаблон %q: %w", opts.Pattern, err)
			}
			if !ok {
				continue
			}
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if cat != nil {
			if s, ok := cat.Lookup(name, info.Size(), info.ModTime()); ok {
				list = append(list, s)
				continue
			}
		}

		if !IsRecordFile(filepath.Join(dir, name)) {
			continue
		}
		s, err := ReadSummary(dir, name)
		if err != nil {
			continue
		}
		if cat != nil {
			_ = cat.Store(s)
		}
		list = append(list, s)
	}

	switch opts.Sort {
	case SortByTime:
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].ModTime.Equal(list[j].ModTime) {
				return list[i].Name < list[j].Name
			}
			return list[i].ModTime.Before(list[j].ModTime)
		})
	default:
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return list, nil
}

// ResolveName превращает "#N" (с единицы, по списку, отсортированному по имени)
// в имя файла и проверяет безопасность обычного имени.
func ResolveName(dir, name string, cat Catalog) (string, error) {
	if !strings.HasPrefix(name, "#") {
		if BadFilename(name) {
			return "", fmt.Errorf("%w: %q", ErrBadFilename, name)
		}
		return name, nil
	}

	idx, err := strconv.Atoi(name[1:])
	if err != nil || idx < 1 {
		return "", fmt.Errorf("%w: неверный индекс %q", ErrBadFilename, name)
	}
	list, err := ListFiles(dir, ListOptions{Sort: SortByName}, cat)
	if err != nil {
		return "", err
	}
	if idx > len(list) {
		return "", fmt.Errorf("%w: индекс %d, файлов %d", ErrNoSuchFile, idx, len(list))
	}
	return list[idx-1].Name, nil
}
