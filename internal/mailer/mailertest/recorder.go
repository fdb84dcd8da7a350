// Package mailertest provides an in-memory mailer for tests.
package mailertest

import (
	"context"
	"sync"

	"github.com/gloriousnetworker/nysc-backend/internal/mailer"
)

type Delivery struct {
	Kind mailer.Kind
	To   string
	Name string
	Code string
}

// Recorder captures deliveries. Setting Fail makes every send return
// mailer.ErrDelivery without recording anything.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       map[mailer.Kind]bool
	failAll    bool
}

func New() *Recorder {
	return &Recorder{fail: map[mailer.Kind]bool{}}
}

func (r *Recorder) FailAll(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = fail
}

func (r *Recorder) Fail(kind mailer.Kind, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[kind] = fail
}

func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Last returns the most recent delivery of kind to the given address.
func (r *Recorder) Last(kind mailer.Kind, to string) (Delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.deliveries) - 1; i >= 0; i-- {
		d := r.deliveries[i]
		if d.Kind == kind && d.To == to {
			return d, true
		}
	}
	return Delivery{}, false
}

func (r *Recorder) Count(kind mailer.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.deliveries {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Recorder) SendVerificationCode(_ context.Context, to, name, code string) error {
	return r.record(Delivery{Kind: mailer.KindVerification, To: to, Name: name, Code: code})
}

func (r *Recorder) SendWelcome(_ context.Context, to, name string) error {
	return r.record(Delivery{Kind: mailer.KindWelcome, To: to, Name: name})
}

func (r *Recorder) SendTwoFactorCode(_ context.Context, to, name, code string) error {
	return r.record(Delivery{Kind: mailer.KindTwoFactorCode, To: to, Name: name, Code: code})
}

func (r *Recorder) SendPasswordReset(_ context.Context, to, name, code string) error {
	return r.record(Delivery{Kind: mailer.KindPasswordReset, To: to, Name: name, Code: code})
}

func (r *Recorder) record(d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll || r.fail[d.Kind] {
		return mailer.ErrDelivery
	}
	r.deliveries = append(r.deliveries, d)
	return nil
}
