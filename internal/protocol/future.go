package protocol

import (
	"context"
	"sync"

	"esa_go/internal/domain"
	"esa_go/internal/esa"
)

// RequestResponse is the pending reply of one request.
type RequestResponse struct {
	ID int

	onSuccess func()
	done      chan struct{}
	once      sync.Once
	status    *esa.StatusMessage
	err       error
}

func newRequestResponse(id int, onSuccess func()) *RequestResponse {
	return &RequestResponse{
		ID:        id,
		onSuccess: onSuccess,
		done:      make(chan struct{}),
	}
}

// resolve completes the request with a status reply. The success callback
// runs before waiters are released.
func (r *RequestResponse) resolve(status *esa.StatusMessage) {
	r.once.Do(func() {
		r.status = status
		if status.IsSuccess() {
			if r.onSuccess != nil {
				r.onSuccess()
			}
		} else {
			r.err = &domain.StatusError{
				ID:               r.ID,
				ErrorCode:        status.ErrorCode,
				ErrorMessage:     status.ErrorMessage,
				ConnectionClosed: status.ConnectionClosed,
			}
		}
		close(r.done)
	})
}

func (r *RequestResponse) cancel() {
	r.once.Do(func() {
		r.err = domain.ErrCancelled
		close(r.done)
	})
}

// Done is closed once the request is resolved or cancelled.
func (r *RequestResponse) Done() <-chan struct{} {
	return r.done
}

// Wait blocks for the reply. It returns *domain.StatusError on a failure
// status and domain.ErrCancelled when the connection was reset.
func (r *RequestResponse) Wait(ctx context.Context) (*esa.StatusMessage, error) {
	select {
	case <-r.done:
		return r.status, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connectionFuture is the one-shot handshake of a connection.
type connectionFuture struct {
	done chan struct{}
	once sync.Once
	msg  *esa.ConnectionMessage
	err  error
}

func newConnectionFuture() *connectionFuture {
	return &connectionFuture{done: make(chan struct{})}
}

func (f *connectionFuture) resolve(msg *esa.ConnectionMessage) {
	f.once.Do(func() {
		f.msg = msg
		close(f.done)
	})
}

func (f *connectionFuture) cancel() {
	f.once.Do(func() {
		f.err = domain.ErrCancelled
		close(f.done)
	})
}

func (f *connectionFuture) wait(ctx context.Context) (*esa.ConnectionMessage, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
