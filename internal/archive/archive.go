// Package archive упаковывает закрытые файлы записи в zstd и обратно.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Ext расширение упакованного файла
const Ext = ".zst"

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// IsArchive определяет архив по имени
func IsArchive(name string) bool {
	return strings.HasSuffix(name, Ext)
}

// BaseName имя файла записи без расширения архива
func BaseName(name string) string {
	return strings.TrimSuffix(name, Ext)
}

// Pack сжимает src в dst
func Pack(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("не удалось открыть %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("не удалось создать %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err = io.Copy(enc, in); err != nil {
		enc.Close()
		return fmt.Errorf("ошибка сжатия %s: %w", src, err)
	}
	return enc.Close()
}

// Unpack распаковывает src в dst
func Unpack(src, dst string) (err error) {
	rc, err := Open(src)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("не удалось создать %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, rc); err != nil {
		return fmt.Errorf("ошибка распаковки %s: %w", src, err)
	}
	return nil
}

type decoderCloser struct {
	*zstd.Decoder
	f *os.File
}

func (d decoderCloser) Close() error {
	d.Decoder.Close()
	return d.f.Close()
}

// Open открывает архив для потокового чтения
func Open(src string) (io.ReadCloser, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть %s: %w", src, err)
	}

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil || !bytes.Equal(magic[:], zstdMagic) {
		f.Close()
		return nil, fmt.Errorf("%s: не zstd архив", src)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return decoderCloser{Decoder: dec, f: f}, nil
}
