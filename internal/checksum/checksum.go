// Пакет checksum — потоковый подсчёт SHA-256 за один проход.
//
// Pipeline оборачивает входной поток: каждый прочитанный байт одновременно
// уходит потребителю и в hash-аккумулятор. Digest доступен только после
// того, как поток дочитан до io.EOF, и выдаётся ровно один раз.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Ошибки пакета.
var (
	// ErrNotDrained — Finalize до того, как поток дочитан до конца.
	ErrNotDrained = errors.New("поток не дочитан: контрольная сумма недоступна")
	// ErrFinalized — повторный Finalize или чтение после Finalize.
	ErrFinalized = errors.New("контрольная сумма уже получена")
	// ErrMismatch — содержимое не совпало с ожидаемой контрольной суммой.
	ErrMismatch = errors.New("контрольная сумма не совпадает")
)

// HexLen — длина hex-представления SHA-256.
const HexLen = sha256.Size * 2

// Pipeline — pass-through reader с подсчётом SHA-256.
// Не потокобезопасен: читает одна горутина, Finalize вызывается
// после завершения чтения.
type Pipeline struct {
	src       io.Reader
	hash      hash.Hash
	n         int64
	drained   bool
	finalized bool
}

// New оборачивает src в Pipeline.
func New(src io.Reader) *Pipeline {
	return &Pipeline{src: src, hash: sha256.New()}
}

// Read читает из исходного потока и добавляет прочитанное в hash.
func (p *Pipeline) Read(b []byte) (int, error) {
	if p.finalized {
		return 0, ErrFinalized
	}
	n, err := p.src.Read(b)
	if n > 0 {
		p.hash.Write(b[:n])
		p.n += int64(n)
	}
	if errors.Is(err, io.EOF) {
		p.drained = true
	}
	return n, err
}

// BytesRead возвращает количество байт, прошедших через Pipeline.
func (p *Pipeline) BytesRead() int64 {
	return p.n
}

// Finalize возвращает hex SHA-256 прочитанных данных.
// Доступен только после io.EOF и только один раз.
func (p *Pipeline) Finalize() (string, error) {
	if p.finalized {
		return "", ErrFinalized
	}
	if !p.drained {
		return "", ErrNotDrained
	}
	p.finalized = true
	return hex.EncodeToString(p.hash.Sum(nil)), nil
}

// Sum вычисляет SHA-256 всего потока. Возвращает hex и число байт.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("ошибка вычисления checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Equal сравнивает две hex-суммы без учёта регистра за постоянное время.
func Equal(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// IsValidHex проверяет формат hex SHA-256.
func IsValidHex(s string) bool {
	if len(s) != HexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Verifier — ReadCloser, пересчитывающий SHA-256 при чтении.
// На io.EOF сверяет сумму и длину с ожидаемыми и при расхождении
// возвращает ErrMismatch вместо io.EOF.
type Verifier struct {
	rc       io.ReadCloser
	p        *Pipeline
	expected string
	size     int64
	done     bool
}

// NewVerifier оборачивает rc проверкой целостности.
func NewVerifier(rc io.ReadCloser, expected string, size int64) *Verifier {
	return &Verifier{rc: rc, p: New(rc), expected: expected, size: size}
}

// Read читает данные и на конце потока проверяет контрольную сумму.
func (v *Verifier) Read(b []byte) (int, error) {
	if v.done {
		return 0, io.EOF
	}
	n, err := v.p.Read(b)
	if !errors.Is(err, io.EOF) {
		return n, err
	}

	v.done = true
	sum, ferr := v.p.Finalize()
	if ferr != nil {
		return n, ferr
	}
	if v.p.BytesRead() != v.size || !Equal(sum, v.expected) {
		return n, fmt.Errorf("%w: ожидалось %s (%d байт), получено %s (%d байт)",
			ErrMismatch, v.expected, v.size, sum, v.p.BytesRead())
	}
	return n, io.EOF
}

// Close закрывает исходный поток.
func (v *Verifier) Close() error {
	return v.rc.Close()
}
