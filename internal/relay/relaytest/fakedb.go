// Package relaytest provides an in-memory stand-in for the relay's
// Postgres pool, implementing just the fixed set of queries the
// handlers in internal/relay issue. It lets both the relay's own tests
// and the sync engine's integration tests exercise a full relay
// without a live database.
package relaytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type clientRow struct {
	id, apiKeyHash, deviceName, deviceType, createdAt, lastSeenAt string
	lastPullAt                                                    *string
	isActive                                                      bool
}

type noteRow struct {
	id, clientID, createdAt, modifiedAt, serverModifiedAt string
	content, tags                                         []byte
	pinned, deleted                                       bool
	deletedAt                                              *string
	version, serverVersion                                int
	wordWrap                                               bool
	syntaxLanguage                                         string
}

type attMetaRow struct {
	id, noteID, clientID string
	filename             []byte
	mimeType             string
	size                 int64
	createdAt            string
}

type attDataRow struct {
	id, createdAt string
	data          []byte
}

// FakeDB implements internal/relay.DB over in-memory maps.
type FakeDB struct {
	mu       sync.Mutex
	clients  map[string]*clientRow // keyed by id
	notes    map[string]*noteRow   // keyed by id+"|"+clientID
	attMetas map[string]*attMetaRow
	attDatas map[string]*attDataRow
}

// New builds an empty FakeDB.
func New() *FakeDB {
	return &FakeDB{
		clients:  map[string]*clientRow{},
		notes:    map[string]*noteRow{},
		attMetas: map[string]*attMetaRow{},
		attDatas: map[string]*attDataRow{},
	}
}

func noteKey(id, clientID string) string { return id + "|" + clientID }

func (f *FakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO clients"):
		f.clients[args[0].(string)] = &clientRow{
			id:         args[0].(string),
			apiKeyHash: args[1].(string),
			deviceName: args[2].(string),
			deviceType: args[3].(string),
			createdAt:  args[4].(string),
			lastSeenAt: args[4].(string),
			isActive:   true,
		}
	case strings.Contains(sql, "UPDATE clients SET last_seen_at"):
		if c, ok := f.clients[args[0].(string)]; ok {
			c.lastSeenAt = time.Now().UTC().Format(time.RFC3339Nano)
		}
	case strings.Contains(sql, "UPDATE clients SET last_pull_at"):
		if c, ok := f.clients[args[1].(string)]; ok {
			at := args[0].(string)
			c.lastPullAt = &at
		}
	case strings.Contains(sql, "INSERT INTO notes"):
		id := args[0].(string)
		clientID := args[1].(string)
		var deletedAt *string
		if v, ok := args[9].(*string); ok {
			deletedAt = v
		}
		f.notes[noteKey(id, clientID)] = &noteRow{
			id:               id,
			clientID:         clientID,
			createdAt:        args[2].(string),
			modifiedAt:       args[3].(string),
			serverModifiedAt: args[4].(string),
			content:          args[5].([]byte),
			tags:             args[6].([]byte),
			pinned:           args[7].(bool),
			deleted:          args[8].(bool),
			deletedAt:        deletedAt,
			version:          args[10].(int),
			serverVersion:    args[11].(int),
			wordWrap:         args[12].(bool),
			syntaxLanguage:   args[13].(string),
		}
	case strings.Contains(sql, "INSERT INTO attachments_meta"):
		f.attMetas[args[0].(string)] = &attMetaRow{
			id:        args[0].(string),
			noteID:    args[1].(string),
			clientID:  args[2].(string),
			filename:  args[3].([]byte),
			mimeType:  args[4].(string),
			size:      args[5].(int64),
			createdAt: args[6].(string),
		}
	case strings.Contains(sql, "INSERT INTO attachments_data"):
		f.attDatas[args[0].(string)] = &attDataRow{
			id:        args[0].(string),
			data:      args[1].([]byte),
			createdAt: args[2].(string),
		}
	case strings.Contains(sql, "DELETE FROM notes"):
		id := args[0].(string)
		clientID := args[1].(string)
		delete(f.notes, noteKey(id, clientID))
		for attID, meta := range f.attMetas {
			if meta.noteID == id && meta.clientID == clientID {
				delete(f.attMetas, attID)
				delete(f.attDatas, attID)
			}
		}
	default:
		return pgconn.CommandTag{}, fmt.Errorf("relaytest: unhandled exec: %s", sql)
	}
	return pgconn.CommandTag{}, nil
}

func (f *FakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "SELECT id, is_active FROM clients"):
		hash := args[0].(string)
		for _, c := range f.clients {
			if c.apiKeyHash == hash {
				return &scanRow{values: []any{c.id, c.isActive}}
			}
		}
		return &scanRow{err: pgx.ErrNoRows}
	case strings.Contains(sql, "SELECT modified_at, server_version FROM notes"):
		n, ok := f.notes[noteKey(args[0].(string), args[1].(string))]
		if !ok {
			return &scanRow{err: pgx.ErrNoRows}
		}
		return &scanRow{values: []any{n.modifiedAt, n.serverVersion}}
	case strings.Contains(sql, "SELECT last_pull_at FROM clients"):
		c, ok := f.clients[args[0].(string)]
		if !ok {
			return &scanRow{err: pgx.ErrNoRows}
		}
		return &scanRow{values: []any{c.lastPullAt}}
	case strings.Contains(sql, "SELECT COUNT(*) FROM notes"):
		clientID := args[0].(string)
		var count int64
		for _, n := range f.notes {
			if n.clientID == clientID {
				count++
			}
		}
		return &scanRow{values: []any{count}}
	case strings.Contains(sql, "SELECT server_modified_at FROM notes"):
		clientID := args[0].(string)
		var latest string
		for _, n := range f.notes {
			if n.clientID == clientID && n.serverModifiedAt > latest {
				latest = n.serverModifiedAt
			}
		}
		if latest == "" {
			return &scanRow{err: pgx.ErrNoRows}
		}
		return &scanRow{values: []any{latest}}
	case strings.Contains(sql, "SELECT data FROM attachments_data"):
		d, ok := f.attDatas[args[0].(string)]
		if !ok {
			return &scanRow{err: pgx.ErrNoRows}
		}
		return &scanRow{values: []any{d.data}}
	default:
		return &scanRow{err: fmt.Errorf("relaytest: unhandled query row: %s", sql)}
	}
}

func (f *FakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "FROM notes WHERE client_id") && strings.Contains(sql, "server_modified_at >"):
		clientID := args[0].(string)
		cursor := args[1].(string)
		var matched []*noteRow
		for _, n := range f.notes {
			if n.clientID == clientID && n.serverModifiedAt > cursor {
				matched = append(matched, n)
			}
		}
		return newNoteRows(matched), nil
	case strings.Contains(sql, "FROM notes WHERE client_id"):
		clientID := args[0].(string)
		var matched []*noteRow
		for _, n := range f.notes {
			if n.clientID == clientID {
				matched = append(matched, n)
			}
		}
		return newNoteRows(matched), nil
	case strings.Contains(sql, "FROM attachments_meta"):
		noteID := args[0].(string)
		clientID := args[1].(string)
		var data [][]any
		for _, m := range f.attMetas {
			if m.noteID == noteID && m.clientID == clientID {
				data = append(data, []any{m.id, m.filename, m.mimeType, m.size})
			}
		}
		return &fakeRows{data: data, idx: -1}, nil
	default:
		return nil, fmt.Errorf("relaytest: unhandled query: %s", sql)
	}
}

func newNoteRows(matched []*noteRow) *fakeRows {
	sort.Slice(matched, func(i, j int) bool { return matched[i].serverModifiedAt < matched[j].serverModifiedAt })
	data := make([][]any, 0, len(matched))
	for _, n := range matched {
		data = append(data, []any{
			n.id, n.createdAt, n.modifiedAt, n.content, n.tags,
			n.pinned, n.deleted, n.deletedAt, n.version, n.wordWrap, n.syntaxLanguage,
		})
	}
	return &fakeRows{data: data, idx: -1}
}

type scanRow struct {
	values []any
	err    error
}

func (s *scanRow) Scan(dest ...any) error {
	if s.err != nil {
		return s.err
	}
	return scanInto(dest, s.values)
}

type fakeRows struct {
	data [][]any
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}
func (r *fakeRows) Scan(dest ...any) error                       { return scanInto(dest, r.data[r.idx]) }
func (r *fakeRows) Close()                                        {}
func (r *fakeRows) Err() error                                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *fakeRows) Values() ([]any, error)                        { return r.data[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                           { return nil }
func (r *fakeRows) Conn() *pgx.Conn                                { return nil }

func scanInto(dest []any, src []any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("relaytest: scan arity mismatch: dest=%d src=%d", len(dest), len(src))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			if v, ok := src[i].(string); ok {
				*d = v
			}
		case **string:
			if v, ok := src[i].(*string); ok {
				*d = v
			} else {
				*d = nil
			}
		case *int:
			if v, ok := src[i].(int); ok {
				*d = v
			}
		case *int64:
			if v, ok := src[i].(int64); ok {
				*d = v
			}
		case *bool:
			if v, ok := src[i].(bool); ok {
				*d = v
			}
		case *[]byte:
			if v, ok := src[i].([]byte); ok {
				*d = v
			}
		default:
			return fmt.Errorf("relaytest: unsupported scan dest %T", dest[i])
		}
	}
	return nil
}
