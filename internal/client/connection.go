package client

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/arkadyv/blinddb/internal/common"
)

// ColumnSpec describes one indexed column when creating a table.
type ColumnSpec struct {
	Kind    string `json:"kind"`
	Modulus string `json:"modulus,omitempty"`
}

// Row is one row as it travels over the wire: hex ciphertexts for indexed
// columns and an opaque sealed blob for the rest.
type Row struct {
	Indexed map[string]string `json:"indexed"`
	Extra   string            `json:"extra"`
}

// RowOutcome is the per-row verdict of an insert.
type RowOutcome struct {
	Success     bool     `json:"success"`
	Error       int      `json:"error,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Column      string   `json:"column,omitempty"`
	Value       string   `json:"value,omitempty"`
	ExistingRow string   `json:"existing_row,omitempty"`
}

// Mod is one modification in an update command.
type Mod struct {
	Op     string `json:"op"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Filter is the wire form of a query predicate. Build values with Ids,
// Range, And, Or and Not rather than by hand.
type Filter map[string]any

func Ids(ids ...string) Filter { return Filter{"ids": ids} }

// Range selects rows whose column value lies in [low, high], both ends
// inclusive; a nil bound leaves that side open.
func Range(column string, low, high *string) Filter {
	return Filter{"range": map[string]any{"column": column, "low": low, "high": high}}
}

func And(filters ...Filter) Filter { return Filter{"and": filters} }
func Or(filters ...Filter) Filter  { return Filter{"or": filters} }
func Not(f Filter) Filter          { return Filter{"not": f} }

// CommandError is a non-zero error code returned by the server for a whole
// command.
type CommandError struct {
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("server rejected command: code %d", e.Code)
}

// serverMsg is the superset of all server → client messages after the
// handshake.
type serverMsg struct {
	CmdID    *int64                `json:"cmd_id"`
	Farewell bool                  `json:"farewell"`
	Success  bool                  `json:"success"`
	Error    int                   `json:"error"`
	Count    *int                  `json:"count"`
	Results  map[string]RowOutcome `json:"results"`
	Data     map[string]Row        `json:"data"`
}

// Connection is an authenticated session with the server. Commands may be
// issued from multiple goroutines; responses are correlated by cmd_id.
type Connection struct {
	conn net.Conn
	enc  *json.Encoder

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan *serverMsg
	readErr  error
	closed   bool
	farewell chan struct{}
}

// Dial connects, runs the challenge-response handshake with the
// credential's private key, and returns an authenticated connection.
func Dial(ctx context.Context, address string, cred *Credential) (*Connection, error) {

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		conn:     conn,
		enc:      json.NewEncoder(conn),
		pending:  make(map[int64]chan *serverMsg),
		farewell: make(chan struct{}),
	}

	dec := json.NewDecoder(conn)

	if err := c.handshake(dec, cred); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop(dec)

	return c, nil
}

func (c *Connection) handshake(dec *json.Decoder, cred *Credential) error {

	if err := c.send(map[string]any{"username": cred.Username}); err != nil {
		return err
	}

	var challenge struct {
		Challenge *string `json:"challenge"`
		Error     int     `json:"error"`
	}
	if err := dec.Decode(&challenge); err != nil {
		return fmt.Errorf("error reading challenge: %w", err)
	}
	if challenge.Challenge == nil {
		return fmt.Errorf("%w: login rejected with code %d", common.ErrorUnauthorized, challenge.Error)
	}

	ciphertext, err := hex.DecodeString(*challenge.Challenge)
	if err != nil {
		return fmt.Errorf("malformed challenge: %w", err)
	}

	nonce, err := rsa.DecryptPKCS1v15(nil, cred.Key, ciphertext)
	if err != nil {
		return fmt.Errorf("error decrypting challenge: %w", err)
	}

	if err := c.send(map[string]any{"response": hex.EncodeToString(nonce)}); err != nil {
		return err
	}

	var verdict struct {
		Success bool `json:"success"`
		Error   int  `json:"error"`
	}
	if err := dec.Decode(&verdict); err != nil {
		return fmt.Errorf("error reading verification: %w", err)
	}
	if !verdict.Success {
		return fmt.Errorf("%w: verification failed with code %d", common.ErrorUnauthorized, verdict.Error)
	}

	return nil
}

func (c *Connection) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(v)
}

// readLoop dispatches every incoming message to the goroutine waiting on
// its cmd_id. It exits on the farewell message or a broken connection.
func (c *Connection) readLoop(dec *json.Decoder) {
	for {
		var msg serverMsg
		if err := dec.Decode(&msg); err != nil {
			c.failAll(err)
			return
		}

		if msg.Farewell {
			c.mu.Lock()
			if ch, ok := c.pending[derefID(msg.CmdID)]; ok {
				delete(c.pending, derefID(msg.CmdID))
				ch <- &msg
			}
			c.mu.Unlock()
			close(c.farewell)
			return
		}

		if msg.CmdID == nil {
			// Unsolicited error, nothing to correlate it with.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.CmdID]
		if ok {
			delete(c.pending, *msg.CmdID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &msg
		}
	}
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func (c *Connection) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// do sends one command and waits for its correlated response.
func (c *Connection) do(ctx context.Context, cmd string, payload map[string]any) (*serverMsg, error) {

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *serverMsg, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	msg := map[string]any{"cmd": cmd, "cmd_id": id}
	for k, v := range payload {
		msg[k] = v
	}

	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return nil, fmt.Errorf("connection lost: %w", err)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// CreateTable registers a table with the given indexed columns.
func (c *Connection) CreateTable(ctx context.Context, name string, indices map[string]ColumnSpec) error {
	resp, err := c.do(ctx, "create_table", map[string]any{"name": name, "indices": indices})
	if err != nil {
		return err
	}
	if !resp.Success {
		return &CommandError{Code: resp.Error}
	}
	return nil
}

// DropTable removes a table and everything in it.
func (c *Connection) DropTable(ctx context.Context, name string) error {
	resp, err := c.do(ctx, "drop_table", map[string]any{"name": name})
	if err != nil {
		return err
	}
	if !resp.Success {
		return &CommandError{Code: resp.Error}
	}
	return nil
}

// Insert stores a batch of rows and returns the per-row outcomes.
func (c *Connection) Insert(ctx context.Context, table string, rows map[string]Row) (map[string]RowOutcome, error) {
	resp, err := c.do(ctx, "insert", map[string]any{"table": table, "rows": rows})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &CommandError{Code: resp.Error}
	}
	return resp.Results, nil
}

// Query returns the rows matching the filter.
func (c *Connection) Query(ctx context.Context, table string, f Filter) (map[string]Row, error) {
	resp, err := c.do(ctx, "query", map[string]any{"table": table, "filter": f})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &CommandError{Code: resp.Error}
	}
	return resp.Data, nil
}

// Update applies the modifications to every matching row and returns how
// many rows were touched.
func (c *Connection) Update(ctx context.Context, table string, f Filter, mods []Mod) (int, error) {
	resp, err := c.do(ctx, "update", map[string]any{"table": table, "filter": f, "mods": mods})
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, &CommandError{Code: resp.Error}
	}
	if resp.Count == nil {
		return 0, nil
	}
	return *resp.Count, nil
}

// Delete removes every matching row and returns how many were removed.
func (c *Connection) Delete(ctx context.Context, table string, f Filter) (int, error) {
	resp, err := c.do(ctx, "delete", map[string]any{"table": table, "filter": f})
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, &CommandError{Code: resp.Error}
	}
	if resp.Count == nil {
		return 0, nil
	}
	return *resp.Count, nil
}

// Close sends exit, waits for the server's farewell (which arrives only
// after all in-flight commands are answered), and closes the socket.
func (c *Connection) Close(ctx context.Context) error {

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	if err := c.send(map[string]any{"cmd": "exit", "cmd_id": id}); err != nil {
		c.conn.Close()
		return err
	}

	select {
	case <-c.farewell:
	case <-ctx.Done():
		c.conn.Close()
		return ctx.Err()
	}

	return c.conn.Close()
}
