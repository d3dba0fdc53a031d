package adapter

import (
	"errors"

	"storesync/internal/model"
)

// Response is the settled outcome of a remote mutation. It is one of
// *FullCollection, *AckOnly or *Failure; callers switch over all three.
type Response interface {
	response()
}

// FullCollection carries the backend's authoritative collection.
type FullCollection struct {
	Items []model.Item
}

// AckOnly is a 2xx response without a usable collection body (empty,
// boolean, or an unrecognized shape). The mutation is treated as applied.
type AckOnly struct {
	Status int
}

// Failure is any error outcome: transport error, timeout, or non-2xx status.
type Failure struct {
	Err error
}

func (*FullCollection) response() {}
func (*AckOnly) response()        {}
func (*Failure) response()        {}

// Unauthorized reports whether the failure is a 401-class rejection.
func (f *Failure) Unauthorized() bool {
	return errors.Is(f.Err, model.ErrUnauthorized)
}

// Settle folds a Mutate result into a single Response value. A nil
// response, including a typed nil, settles as an acknowledgement.
func Settle(resp Response, err error) Response {
	if err != nil {
		return &Failure{Err: err}
	}
	switch r := resp.(type) {
	case nil:
		return &AckOnly{}
	case *FullCollection:
		if r == nil {
			return &AckOnly{}
		}
	case *AckOnly:
		if r == nil {
			return &AckOnly{}
		}
	case *Failure:
		if r == nil || r.Err == nil {
			return &Failure{Err: model.NewMalformedError("backend")}
		}
	}
	return resp
}
