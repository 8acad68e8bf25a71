package dia

import (
	"context"
	"errors"
)

// Source tells whether a payload came from a real endpoint or from the
// substitute data set.
type Source string

const (
	SourceLive    Source = "live"
	SourceOffline Source = "offline"
)

// Result is the tagged outcome of an operation before it is collapsed
// into an Envelope. Err holds the reason a substitute was used.
type Result[T any] struct {
	Source Source
	Data   T
	Err    error
}

// Live reports whether the data came from a real endpoint.
func (r Result[T]) Live() bool { return r.Source == SourceLive }

// Envelope collapses the result into the uniform success envelope.
func (r Result[T]) Envelope() Envelope[T] {
	return Envelope[T]{Success: true, Data: r.Data, Source: r.Source}
}

// Envelope is what every operation returns. Success is always true;
// Source tells live answers from substitutes.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Source  Source `json:"source,omitempty"`
}

// Invoke runs op against the client's endpoints. decode turns a live
// response body into T; a decode error counts as a failed attempt.
// When every endpoint fails, fallback supplies the substitute.
func Invoke[T any](ctx context.Context, c *Client, op Operation, arg string, body any, decode func([]byte) (T, error), fallback func() T) Result[T] {
	var out T
	_, err := c.fetch(ctx, call{
		op:   op,
		arg:  arg,
		body: body,
		accept: func(b []byte) error {
			v, err := decode(b)
			if err != nil {
				return err
			}
			out = v
			return nil
		},
	})
	if err == nil {
		return Result[T]{Source: SourceLive, Data: out}
	}

	c.substitutions.Add(1)
	entry := c.log.WithField("op", op.String()).WithError(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		entry.Debug("caller gone, answering with substitute data")
	} else {
		entry.Info("answering with substitute data")
	}
	return Result[T]{Source: SourceOffline, Data: fallback(), Err: err}
}
