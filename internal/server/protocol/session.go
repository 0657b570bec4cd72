package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/arkadyv/blinddb/internal/common"
	"github.com/arkadyv/blinddb/internal/logging"
	"github.com/arkadyv/blinddb/internal/server/engine"
	"github.com/arkadyv/blinddb/internal/server/identity"
)

// sessionState tracks where a connection is in its lifecycle. Transitions
// only move forward; Closed is terminal.
type sessionState int

const (
	stateInit sessionState = iota
	stateChallenged
	stateAuthenticated
	stateDraining
	stateClosed
)

// session drives one connection through the handshake and the command
// loop. Commands run concurrently; responses are serialized by writeMu and
// correlated by the client-chosen cmd_id. A session holds at most one
// nonce, issued at challenge time and consumed by the matching response.
type session struct {
	conn        net.Conn
	dec         *json.Decoder
	enc         *json.Encoder
	writeMu     sync.Mutex
	state       sessionState
	username    string
	nonce       []byte
	engine      *engine.Engine
	users       identity.Repository
	logger      logging.Logger
	authTimeout time.Duration
	inflight    sync.WaitGroup
}

func newSession(conn net.Conn, e *engine.Engine, users identity.Repository, authTimeout time.Duration, logger logging.Logger) *session {
	return &session{
		conn:        conn,
		dec:         json.NewDecoder(conn),
		enc:         json.NewEncoder(conn),
		state:       stateInit,
		engine:      e,
		users:       users,
		logger:      logger.With("remote", conn.RemoteAddr().String()),
		authTimeout: authTimeout,
	}
}

func (s *session) write(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.Warn(context.Background(), "write failed", "error", err)
	}
}

func (s *session) run(ctx context.Context) {
	defer func() {
		s.state = stateClosed
		_ = s.conn.Close()
	}()

	if !s.authenticate(ctx) {
		return
	}
	s.commandLoop(ctx)
}

// authenticate walks Init → Challenged → Authenticated. Any failure sends
// the matching error message and closes the connection; the read deadline
// bounds how long a client may stall the handshake.
func (s *session) authenticate(ctx context.Context) bool {
	if s.authTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.authTimeout))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}

	var login envelope
	if err := s.dec.Decode(&login); err != nil || login.Username == nil || *login.Username == "" {
		s.write(challengeMsg{Error: int(engine.CodeMalformedRequest)})
		return false
	}

	user, err := s.users.GetByUsername(ctx, *login.Username)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "identity lookup failed", "error", err)
		}
		s.write(challengeMsg{Error: int(engine.CodeUserNotFound)})
		return false
	}

	pub, err := parsePublicKey(user.PublicKey)
	if err != nil {
		s.logger.Error(ctx, "stored public key is unusable", "username", user.Username, "error", err)
		s.write(challengeMsg{Error: int(engine.CodeUserNotFound)})
		return false
	}

	s.nonce = common.GenerateRandByteArray(32)
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, s.nonce)
	if err != nil {
		s.logger.Error(ctx, "nonce encryption failed", "error", err)
		s.write(challengeMsg{Error: int(engine.CodeUserNotFound)})
		return false
	}

	challenge := hex.EncodeToString(encrypted)
	s.write(challengeMsg{Challenge: &challenge})
	s.state = stateChallenged

	var resp envelope
	if err := s.dec.Decode(&resp); err != nil || resp.Response == nil {
		s.write(verifyMsg{Success: false, Error: int(engine.CodeMalformedRequest)})
		return false
	}

	claimed, err := hex.DecodeString(*resp.Response)
	if err != nil || subtle.ConstantTimeCompare(claimed, s.nonce) != 1 {
		s.write(verifyMsg{Success: false, Error: int(engine.CodeAuthMismatch)})
		return false
	}

	// nonce is consumed; never reused for another challenge
	s.nonce = nil
	s.username = user.Username
	s.state = stateAuthenticated
	s.logger = s.logger.With("username", user.Username)
	s.logger.Info(ctx, "session authenticated")
	s.write(verifyMsg{Success: true})
	return true
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, common.ErrInvalidKey
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, common.ErrInvalidKey
	}
	return pub, nil
}

// commandLoop reads command envelopes until exit or disconnect. Each
// command runs in its own goroutine; exit stops intake, waits for every
// outstanding command's response to be delivered, then sends the farewell
// carrying the exit command's own id.
func (s *session) commandLoop(ctx context.Context) {
	for {
		var env envelope
		if err := s.dec.Decode(&env); err != nil {
			s.logger.Debug(ctx, "session read ended", "error", err)
			s.inflight.Wait()
			return
		}

		if env.Cmd == nil || env.CmdID == nil {
			s.write(shapeError{Error: int(engine.CodeMalformedRequest)})
			continue
		}

		if *env.Cmd == "exit" {
			s.state = stateDraining
			s.inflight.Wait()
			s.write(farewellMsg{CmdID: *env.CmdID, Farewell: true})
			s.logger.Info(ctx, "session drained")
			return
		}

		s.inflight.Add(1)
		go func(env envelope) {
			defer s.inflight.Done()
			s.write(s.dispatch(&env))
		}(env)
	}
}
