// Package provision serves the credential form while the switch is in
// configuration mode and drives the local access point.
//
// The portal never touches device state. Each form submission is handed to
// the control loop through Submissions and the HTTP handler waits for the
// loop's reply.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/logic"
)

// ErrBusy is reported to the client when the control loop did not take the
// submission in time.
var ErrBusy = errors.New("provision: device busy")

// Submission is one credential form post handed to the control loop.
// Values holds only the fields the form carried.
type Submission struct {
	Values map[credentials.Field]string
	Reply  chan<- error
}

// Config configures a Portal.
type Config struct {
	Addr string
	SSID string
	// ReplyTimeout bounds how long a request waits for the control loop.
	ReplyTimeout time.Duration
	// AccessLog receives one line per request. Nil discards.
	AccessLog io.Writer
}

// Portal is the provisioning HTTP server. It can be started and stopped
// repeatedly, once per configuration session.
type Portal struct {
	cfg         Config
	log         logrus.FieldLogger
	handler     http.Handler
	submissions chan Submission

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewPortal creates a stopped portal.
func NewPortal(cfg Config, log logrus.FieldLogger) *Portal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = io.Discard
	}
	p := &Portal{
		cfg:         cfg,
		log:         log,
		submissions: make(chan Submission),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", p.handleForm).Methods(http.MethodGet)
	r.HandleFunc("/save", p.handleSave).Methods(http.MethodPost)
	p.handler = handlers.LoggingHandler(cfg.AccessLog, r)
	return p
}

// Submissions delivers form posts to the control loop. The loop must send
// exactly one reply per submission.
func (p *Portal) Submissions() <-chan Submission {
	return p.submissions
}

// Handler returns the portal's HTTP handler.
func (p *Portal) Handler() http.Handler {
	return p.handler
}

// Running reports whether the portal is serving.
func (p *Portal) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server != nil
}

// Addr returns the bound address while running.
func (p *Portal) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addr
}

// Start binds the portal address and serves in the background. Starting a
// running portal is a no-op.
func (p *Portal) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.server = srv
	p.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.WithError(err).Error("portal server")
		}
	}()
	p.log.WithField("addr", ln.Addr().String()).Info("portal started")
	return nil
}

// Stop shuts the portal down. Stopping a stopped portal is a no-op.
func (p *Portal) Stop(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.addr = nil
	p.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown portal: %w", err)
	}
	p.log.Info("portal stopped")
	return nil
}

func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	p.render(w, http.StatusOK, newFormPage(p.cfg.SSID, nil, nil))
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		page := newFormPage(p.cfg.SSID, nil, nil)
		page.Error = "malformed form"
		p.render(w, http.StatusBadRequest, page)
		return
	}

	values := make(map[credentials.Field]string)
	for key := range r.PostForm {
		f, err := credentials.ParseField(key)
		if err != nil {
			// Unknown inputs are not part of the record
			continue
		}
		values[f] = r.PostForm.Get(key)
	}

	err := p.submit(r.Context(), values)
	if err == nil {
		p.render(w, http.StatusOK, formPage{SSID: p.cfg.SSID, Saved: true, Device: values[credentials.FieldDevice]})
		return
	}

	page := newFormPage(p.cfg.SSID, values, err)
	p.render(w, statusFor(err), page)
}

// submit hands values to the control loop and waits for its verdict.
func (p *Portal) submit(ctx context.Context, values map[credentials.Field]string) error {
	reply := make(chan error, 1)
	timer := time.NewTimer(p.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case p.submissions <- Submission{Values: values, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusy
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusy
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, logic.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (p *Portal) render(w http.ResponseWriter, code int, page formPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := formTmpl.Execute(w, page); err != nil {
		p.log.WithError(err).Warn("render portal page")
	}
}
