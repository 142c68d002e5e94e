/*
serial.go - Collision-free document and lot numbers

PURPOSE:
  Issues serials of the form PREFIX-YYYYMMDD-NNNN. The counter is scoped by
  prefix and period (day) and advanced with an atomic increment-and-read in
  the SerialStore. Never computed as max()+1 on the client.

DUPLICATES:
  A counter can fall behind existing rows (restored backup, counter reset,
  Redis flush). Writers that hit a unique-constraint violation on the serial
  retry via WithSerial, which mints a fresh serial with backoff before giving
  up with ErrDuplicateSerial.
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Serial is one issued number.
type Serial struct {
	Prefix string
	Period string
	Seq    int64
	Value  string
}

type SerialGenerator struct {
	Store SerialStore
	Clock func() time.Time

	// Width is the zero-padded digit count of the sequence part.
	Width int

	// Attempts and Backoff bound WithSerial retries.
	Attempts int
	Backoff  time.Duration
}

// NewSerialGenerator returns a generator with 4-digit sequences.
func NewSerialGenerator(store SerialStore) *SerialGenerator {
	return &SerialGenerator{
		Store:    store,
		Clock:    time.Now,
		Width:    4,
		Attempts: 5,
		Backoff:  10 * time.Millisecond,
	}
}

// Bind returns a copy that uses s for counters. Used to run inside a unit
// of work's transaction.
func (g *SerialGenerator) Bind(s SerialStore) *SerialGenerator {
	cp := *g
	cp.Store = s
	return &cp
}

// Next issues the next serial for prefix in the current period.
func (g *SerialGenerator) Next(ctx context.Context, prefix string) (Serial, error) {
	if prefix == "" {
		return Serial{}, invalid("prefix", "일련번호 접두사는 필수 항목입니다.")
	}
	period := g.now().Format("20060102")
	seq, err := g.Store.IncrementSerial(ctx, prefix+"-"+period)
	if err != nil {
		return Serial{}, Storage("increment serial", err, true)
	}
	width := g.Width
	if width <= 0 {
		width = 4
	}
	return Serial{
		Prefix: prefix,
		Period: period,
		Seq:    seq,
		Value:  fmt.Sprintf("%s-%s-%0*d", prefix, period, width, seq),
	}, nil
}

// WithSerial mints a serial and calls use with it, retrying with a fresh
// serial while use reports ErrDuplicateSerial.
func (g *SerialGenerator) WithSerial(ctx context.Context, prefix string, use func(serial string) error) error {
	attempts := g.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := g.Backoff
	var lastErr error
	for i := 0; i < attempts; i++ {
		s, err := g.Next(ctx, prefix)
		if err != nil {
			return err
		}
		err = use(s.Value)
		if !errors.Is(err, ErrDuplicateSerial) {
			return err
		}
		lastErr = err
		if i < attempts-1 && backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("serial %s exhausted after %d attempts: %w", prefix, attempts, lastErr)
}

func (g *SerialGenerator) now() time.Time {
	if g.Clock == nil {
		return time.Now()
	}
	return g.Clock()
}
