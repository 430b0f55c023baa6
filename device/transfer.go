package device

import (
	"context"

	"github.com/ardnew/usbfunc/device/hal"
	"github.com/ardnew/usbfunc/pkg"
)

// Read performs a blocking OUT transfer into buf on p. It returns the number
// of bytes received.
func (s *Stack) Read(ctx context.Context, p *Pipe, buf []byte) (int, error) {
	if p == nil || !p.IsOpen() || p.endpoint.IsIn() {
		return 0, pkg.ErrInvalidArgument
	}
	return s.transfer(ctx, p, hal.NewTransfer(buf, false))
}

// Write performs a blocking IN transfer of data on p. It returns the number
// of bytes sent.
func (s *Stack) Write(ctx context.Context, p *Pipe, data []byte) (int, error) {
	if p == nil || !p.IsOpen() || !p.endpoint.IsIn() {
		return 0, pkg.ErrInvalidArgument
	}
	return s.transfer(ctx, p, hal.NewTransfer(data, true))
}

func (s *Stack) transfer(ctx context.Context, p *Pipe, t *hal.Transfer) (int, error) {
	done := make(chan struct{})
	t.WithContext(ctx).WithCallback(func(*hal.Transfer) { close(done) })
	if err := s.SubmitTransfer(p, t); err != nil {
		return 0, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Cancel()
		return 0, ctx.Err()
	}
	if err := t.Status.Err(); err != nil {
		return t.Actual, err
	}
	return t.Actual, t.Error
}
