// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store provides committable storage for merged dex images.
// Images are written through a WriteCommitter and become visible to
// Open only once committed, so that a failed merge leaves no partial
// output behind.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Info stores metadata for a stored image.
type Info struct {
	// Size is the byte size of the image.
	Size int64
}

// A WriteCommitter represents a committable write stream into a
// store.
type WriteCommitter interface {
	io.Writer
	// Commit commits the written data to storage.
	Commit(ctx context.Context) error
	// Discard discards the writer; it will not be committed.
	Discard(ctx context.Context) error
}

// Store is an abstraction that stores named dex images.
type Store interface {
	// Create returns a writer that populates the image with the
	// given name. The data is not available to Open until the
	// returned writer has been committed.
	Create(ctx context.Context, name string) (WriteCommitter, error)

	// Open returns a ReadCloser from which the stored image can be
	// read. If the image is not stored, an error with kind
	// errors.NotExist is returned.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat returns metadata for the stored image.
	Stat(ctx context.Context, name string) (Info, error)

	// Remove removes a committed image.
	Remove(ctx context.Context, name string) error
}

// Memory is a store implementation that maintains images in memory.
type Memory struct {
	mu     sync.Mutex
	images map[string][]byte
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{images: make(map[string][]byte)}
}

func (m *Memory) get(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[name]
}

func (m *Memory) put(name string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.images[name] != nil {
		return errors.E(errors.Exists, fmt.Sprintf("image %s already stored", name))
	}
	if p == nil {
		p = []byte{}
	}
	m.images[name] = p
	return nil
}

func (m *Memory) remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.images[name]
	delete(m.images, name)
	return ok
}

// Names returns the names of the committed images, in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.images))
	for name := range m.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type memoryWriter struct {
	bytes.Buffer
	name  string
	store *Memory
}

func (*memoryWriter) Discard(context.Context) error {
	return nil
}

func (w *memoryWriter) Commit(ctx context.Context) error {
	return w.store.put(w.name, w.Buffer.Bytes())
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, name string) (WriteCommitter, error) {
	if m.get(name) != nil {
		return nil, errors.E(errors.Exists, fmt.Sprintf("create %s", name))
	}
	return &memoryWriter{name: name, store: m}, nil
}

// Open implements Store.
func (m *Memory) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p := m.get(name)
	if p == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("open %s", name))
	}
	return ioutil.NopCloser(bytes.NewReader(p)), nil
}

// Stat implements Store.
func (m *Memory) Stat(ctx context.Context, name string) (Info, error) {
	p := m.get(name)
	if p == nil {
		return Info{}, errors.E(errors.NotExist, fmt.Sprintf("stat %s", name))
	}
	return Info{Size: int64(len(p))}, nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, name string) error {
	if !m.remove(name) {
		return errors.E(errors.NotExist, fmt.Sprintf("remove %s", name))
	}
	return nil
}

// Dir is a store implementation that uses grailfiles; thus images
// can be stored at any URL supported by grailfile (e.g., S3). An
// image is stored at "{Prefix}/{name}".
type Dir struct {
	Prefix string
}

type fileWriter struct {
	file.File
	io.Writer
}

func (w *fileWriter) Commit(ctx context.Context) error {
	return w.File.Close(ctx)
}

func (w *fileWriter) Discard(ctx context.Context) error {
	w.File.Discard(ctx)
	return nil
}

// Create implements Store.
func (d *Dir) Create(ctx context.Context, name string) (WriteCommitter, error) {
	f, err := file.Create(ctx, file.Join(d.Prefix, name))
	if err != nil {
		return nil, err
	}
	return &fileWriter{File: f, Writer: f.Writer(ctx)}, nil
}

// Open implements Store.
func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := file.Open(ctx, file.Join(d.Prefix, name))
	if err != nil {
		return nil, err
	}
	return &fileReadCloser{Reader: f.Reader(ctx), ctx: ctx, file: f}, nil
}

// Stat implements Store.
func (d *Dir) Stat(ctx context.Context, name string) (Info, error) {
	info, err := file.Stat(ctx, file.Join(d.Prefix, name))
	if err != nil {
		return Info{}, err
	}
	return Info{Size: info.Size()}, nil
}

// Remove implements Store.
func (d *Dir) Remove(ctx context.Context, name string) error {
	return file.Remove(ctx, file.Join(d.Prefix, name))
}

type fileReadCloser struct {
	io.Reader
	ctx  context.Context
	file file.File
}

func (f *fileReadCloser) Close() error {
	return f.file.Close(f.ctx)
}

// CommitAll writes and commits the given images to store s. If any
// image cannot be created or written, the writers created so far are
// discarded and no image is committed. If a commit fails, the images
// already committed are removed again.
func CommitAll(ctx context.Context, s Store, names []string, images [][]byte) error {
	if len(names) != len(images) {
		panic("store.CommitAll: mismatched names and images")
	}
	wcs := make([]WriteCommitter, 0, len(names))
	discard := func() {
		for _, wc := range wcs {
			_ = wc.Discard(ctx)
		}
	}
	for i, name := range names {
		wc, err := s.Create(ctx, name)
		if err != nil {
			discard()
			return err
		}
		wcs = append(wcs, wc)
		if _, err := wc.Write(images[i]); err != nil {
			discard()
			return errors.E(fmt.Sprintf("write %s", name), err)
		}
	}
	for i, wc := range wcs {
		if err := wc.Commit(ctx); err != nil {
			for _, rest := range wcs[i+1:] {
				_ = rest.Discard(ctx)
			}
			for _, name := range names[:i] {
				if rerr := s.Remove(ctx, name); rerr != nil {
					log.Error.Printf("remove %s: %v", name, rerr)
				}
			}
			return errors.E(fmt.Sprintf("commit %s", names[i]), err)
		}
	}
	return nil
}
