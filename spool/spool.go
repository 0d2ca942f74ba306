// Package spool keeps accepted messages on disk. Content is written to
// <id>.eml during DATA; an accepted message gets a msgpack <id>.meta sidecar.
package spool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/synqronlabs/quill"
)

const (
	contentExt = ".eml"
	metaExt    = ".meta"
)

// Dir is a spool directory.
type Dir struct {
	path string
}

// Open creates the directory if needed.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Sinks is a quill.SinkFactory creating one content file per envelope.
func (d *Dir) Sinks(_ *quill.Session, env *quill.Envelope) (quill.Sink, error) {
	if env.ID == "" || strings.ContainsAny(env.ID, `/\`) {
		return nil, fmt.Errorf("spool: invalid message id %q", env.ID)
	}
	name := filepath.Join(d.path, env.ID+contentExt)
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &File{dir: d, path: name, f: f, w: bufio.NewWriter(f)}, nil
}

// Commit writes the sidecar for a message whose content is already closed.
// The sidecar appears atomically.
func (d *Dir) Commit(meta Meta) error {
	data, err := meta.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("spool: encode meta: %w", err)
	}

	tmp, err := os.CreateTemp(d.path, meta.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("spool: write meta: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("spool: sync meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool: close meta: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.path, meta.ID+metaExt))
}

// List returns the ids of committed messages, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), metaExt); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Meta reads the sidecar of a committed message.
func (d *Dir) Meta(id string) (Meta, error) {
	return ReadMeta(filepath.Join(d.path, id+metaExt))
}

// Content opens the content of a spooled message.
func (d *Dir) Content(id string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.path, id+contentExt))
}

// ReadMeta decodes a sidecar file.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, fmt.Errorf("spool: %w", err)
	}
	var m Meta
	if _, err := m.UnmarshalMsg(data); err != nil {
		return Meta{}, fmt.Errorf("spool: decode %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// AcceptHook returns a message hook accepting messages spooled in d. Place
// it last; earlier hooks can still reject. The sidecar is written only once
// the final reply is 2xx, see File.Commit.
func (d *Dir) AcceptHook() quill.MessageHook {
	return quill.HandleMessage("spool", func(_ context.Context, s *quill.Session, env *quill.Envelope) quill.HookResult {
		f, ok := env.Sink().(*File)
		if !ok || f.dir != d {
			s.Logger().Error("message not spooled here", slog.String("mail_id", env.ID))
			return quill.DenySoft("")
		}
		return quill.HookResult{
			Return:  quill.ReturnOK,
			Message: fmt.Sprintf("Message queued as %s", env.ID),
		}
	})
}

// NewMeta describes env as received on s.
func NewMeta(s *quill.Session, env *quill.Envelope) Meta {
	to := make([]string, len(env.To))
	for i, rcpt := range env.To {
		to[i] = rcpt.Mailbox.String()
	}
	helo, _ := s.ConnectionState()[quill.KeyHelo].(string)
	remote := ""
	if addr := s.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return Meta{
		ID:         env.ID,
		From:       env.From.Mailbox.String(),
		To:         to,
		Params:     env.FromParams,
		Helo:       helo,
		RemoteAddr: remote,
		TLS:        s.IsTLSStarted(),
		Size:       env.Size(),
		ReceivedAt: env.ReceivedAt,
	}
}

// File is the content of one spooled message.
type File struct {
	dir    *Dir
	path   string
	f      *os.File
	w      *bufio.Writer
	closed bool
}

var (
	_ quill.Sink      = (*File)(nil)
	_ quill.Opener    = (*File)(nil)
	_ quill.Discarder = (*File)(nil)
	_ quill.Committer = (*File)(nil)
)

// Path returns the content file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, quill.ErrSinkClosed
	}
	return f.w.Write(p)
}

func (f *File) Flush() error {
	if f.closed {
		return nil
	}
	return f.w.Flush()
}

// Close flushes and syncs the content to disk.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	err := f.w.Flush()
	if err == nil {
		err = f.f.Sync()
	}
	return errors.Join(err, f.f.Close())
}

// Open reads the content back.
func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Commit writes the sidecar of an accepted message.
func (f *File) Commit(s *quill.Session, env *quill.Envelope) error {
	return f.dir.Commit(NewMeta(s, env))
}

// Discard removes the content file.
func (f *File) Discard() error {
	if !f.closed {
		_ = f.Close()
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
