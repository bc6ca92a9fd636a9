package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/annel0/mmo-replay/internal/archive"
	"github.com/annel0/mmo-replay/internal/auth"
	"github.com/annel0/mmo-replay/internal/protocol"
	"github.com/annel0/mmo-replay/internal/replay"
)

// errVerify файл не прошёл проверку, подробности уже напечатаны
var errVerify = errors.New("файл повреждён")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// oneFile разбирает флаги и требует ровно один позиционный аргумент
func oneFile(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("нужен один файл, получено %d аргументов", fs.NArg())
	}
	return fs.Arg(0), nil
}

func openRecord(path string) (io.ReadCloser, error) {
	if archive.IsArchive(path) {
		return archive.Open(path)
	}
	return os.Open(path)
}

func seconds(us int64) string {
	return fmt.Sprintf("%.3f", float64(us)/1e6)
}

func runList(w io.Writer, args []string) error {
	fs := newFlagSet("list")
	dir := fs.String("dir", "recordings", "директория записей")
	sortBy := fs.String("sort", "name", "порядок: name или time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	order, err := replay.ParseSortOrder(*sortBy)
	if err != nil {
		return err
	}
	files, err := replay.ListFiles(*dir, replay.ListOptions{Sort: order, Pattern: fs.Arg(0)}, nil)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "No record files found")
		return nil
	}
	for i, s := range files {
		fmt.Fprintf(w, "#%-3d %-32s %10s %10ss  %s  %s\n",
			i+1, s.Name, humanize.IBytes(uint64(s.Size)), seconds(s.Duration),
			s.ModTime.Format("2006-01-02 15:04"), s.CallSign)
	}
	return nil
}

func runInfo(w io.Writer, args []string) error {
	path, err := oneFile(newFlagSet("info"), args)
	if err != nil {
		return err
	}
	r, err := openRecord(path)
	if err != nil {
		return err
	}
	defer r.Close()

	h, err := replay.ReadHeader(r)
	if err != nil {
		return err
	}
	hashOK := "ok"
	if replay.WorldHash(h.World) != h.RealHash {
		hashOK = "MISMATCH"
	}
	st := h.Settings
	fmt.Fprintf(w, "file:           %s\n", filepath.Base(path))
	fmt.Fprintf(w, "duration:       %s seconds\n", seconds(h.Duration))
	fmt.Fprintf(w, "author:         %s (%s), player %d\n", h.CallSign, h.Motto, h.Player)
	fmt.Fprintf(w, "server version: %s\n", h.ServerVersion)
	fmt.Fprintf(w, "app version:    %s\n", h.AppVersion)
	fmt.Fprintf(w, "world:          %s, hash %s (%s)\n", humanize.IBytes(uint64(len(h.World))), h.RealHash, hashOK)
	fmt.Fprintf(w, "flags:          %s\n", humanize.IBytes(uint64(len(h.Flags))))
	fmt.Fprintf(w, "settings:       size %.0f, type %d, options 0x%04x, players %d, shots %d, flags %d\n",
		st.WorldSize, st.GameType, st.GameOptions, st.MaxPlayers, st.MaxShots, st.NumFlags)
	return nil
}

func runDump(w io.Writer, args []string) error {
	fs := newFlagSet("dump")
	limit := fs.Int("n", 0, "не больше N записей (0 - все)")
	hidden := fs.Bool("hidden", true, "показывать скрытые записи")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	r, err := openRecord(path)
	if err != nil {
		return err
	}
	defer r.Close()

	h, err := replay.ReadHeader(r)
	if err != nil {
		return err
	}
	var first int64
	shown := 0
	for i := 0; *limit == 0 || shown < *limit; i++ {
		p, err := replay.ReadPacket(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("запись %d: %w", i, err)
		}
		if i == 0 {
			first = p.Timestamp
		}
		if p.Mode == replay.HiddenPacket && !*hidden {
			continue
		}
		fmt.Fprintf(w, "%6d %10s  %-6s %-16s %5d\n",
			i, seconds(p.Timestamp-first), p.Mode, protocol.CodeName(p.Code), len(p.Data))
		shown++
	}
	fmt.Fprintf(w, "-- %d records shown, header duration %s seconds\n", shown, seconds(h.Duration))
	return nil
}

// verifyReport итог проверки файла
type verifyReport struct {
	Packets  int
	ByMode   map[replay.Mode]int
	Span     int64
	Problems []string
}

func (vr *verifyReport) problem(format string, args ...interface{}) {
	vr.Problems = append(vr.Problems, fmt.Sprintf(format, args...))
}

// verifyStream проверяет ссылки между записями, порядок времени и границы снимков
func verifyStream(r io.Reader) (*verifyReport, error) {
	h, err := replay.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	vr := &verifyReport{ByMode: make(map[replay.Mode]int)}
	if replay.WorldHash(h.World) != h.RealHash {
		vr.problem("хэш мира не совпадает с заголовком")
	}

	offset := h.Offset()
	var prevOffset uint32
	var first, last int64
	sawVars := false
	for {
		p, err := replay.ReadPacket(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			vr.problem("запись %d по смещению %d: %v", vr.Packets, offset, err)
			break
		}
		if p.Mode > replay.HiddenPacket {
			vr.problem("запись %d: неизвестный режим %d", vr.Packets, p.Mode)
		}
		if p.PrevFilePos != prevOffset {
			vr.problem("запись %d: prev=%d, ожидалось %d", vr.Packets, p.PrevFilePos, prevOffset)
		}
		next := offset + uint32(p.WireSize())
		if p.NextFilePos != next {
			vr.problem("запись %d: next=%d, ожидалось %d", vr.Packets, p.NextFilePos, next)
		}
		if vr.Packets == 0 {
			first = p.Timestamp
			if p.Mode != replay.UpdatePacket {
				vr.problem("первая запись %s, а не граница снимка", p.Mode)
			}
		} else if p.Timestamp < last {
			vr.problem("запись %d: время идёт назад (%d < %d)", vr.Packets, p.Timestamp, last)
		}
		if p.Mode == replay.StatePacket && p.Code == protocol.MsgSetVar {
			sawVars = true
		}

		vr.ByMode[p.Mode]++
		last = p.Timestamp
		prevOffset = offset
		offset = next
		vr.Packets++
	}

	if vr.Packets == 0 {
		vr.problem("в файле нет записей")
		return vr, nil
	}
	if !sawVars {
		vr.problem("нет переменных сервера (MsgSetVar)")
	}
	vr.Span = last - first
	if h.Duration != vr.Span {
		vr.problem("длительность в заголовке %s, по записям %s", seconds(h.Duration), seconds(vr.Span))
	}
	return vr, nil
}

func runVerify(w io.Writer, args []string) error {
	path, err := oneFile(newFlagSet("verify"), args)
	if err != nil {
		return err
	}
	r, err := openRecord(path)
	if err != nil {
		return err
	}
	defer r.Close()

	vr, err := verifyStream(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s records (real %d, state %d, update %d, hidden %d), %s seconds\n",
		filepath.Base(path), humanize.Comma(int64(vr.Packets)),
		vr.ByMode[replay.RealPacket], vr.ByMode[replay.StatePacket],
		vr.ByMode[replay.UpdatePacket], vr.ByMode[replay.HiddenPacket], seconds(vr.Span))
	for _, p := range vr.Problems {
		fmt.Fprintf(w, "  ⚠️ %s\n", p)
	}
	if len(vr.Problems) > 0 {
		return errVerify
	}
	fmt.Fprintln(w, "  ✅ ok")
	return nil
}

func runPack(w io.Writer, args []string) error {
	fs := newFlagSet("pack")
	remove := fs.Bool("rm", false, "удалить исходный файл")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	if archive.IsArchive(path) {
		return fmt.Errorf("%s уже сжат", path)
	}
	if !replay.IsRecordFile(path) {
		return fmt.Errorf("%s: %w", path, replay.ErrBadMagic)
	}
	dst := path + archive.Ext
	if err := archive.Pack(path, dst); err != nil {
		return err
	}
	return report(w, path, dst, *remove)
}

func runUnpack(w io.Writer, args []string) error {
	fs := newFlagSet("unpack")
	remove := fs.Bool("rm", false, "удалить архив")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	if !archive.IsArchive(path) {
		return fmt.Errorf("%s: нет расширения %s", path, archive.Ext)
	}
	dst := archive.BaseName(path)
	if err := archive.Unpack(path, dst); err != nil {
		return err
	}
	return report(w, path, dst, *remove)
}

func report(w io.Writer, src, dst string, remove bool) error {
	si, err := os.Stat(src)
	if err != nil {
		return err
	}
	di, err := os.Stat(dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s) -> %s (%s)\n",
		filepath.Base(src), humanize.IBytes(uint64(si.Size())),
		filepath.Base(dst), humanize.IBytes(uint64(di.Size())))
	if remove {
		return os.Remove(src)
	}
	return nil
}

func runToken(w io.Writer, args []string) error {
	fs := newFlagSet("token")
	name := fs.String("name", "", "имя оператора")
	admin := fs.Bool("admin", false, "право управления записью и воспроизведением")
	ttl := fs.Duration("ttl", 24*time.Hour, "срок действия")
	secret := fs.String("secret", os.Getenv("REPLAY_JWT_SECRET"), "секрет сервера (base64)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("секрет не задан: -secret или REPLAY_JWT_SECRET")
	}
	if err := auth.SetJWTSecret(*secret); err != nil {
		return err
	}
	token, err := auth.GenerateJWT(auth.Operator{Name: *name, IsAdmin: *admin, TTL: *ttl})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}
