// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package process

import (
	"fmt"
	"io"

	"github.com/pintosgo/kernel/internal/fsdir"
)

// Create makes a new regular file, optionally pre-sized to initialSize
// zero bytes, matching the CREATE syscall of spec §6.
func (t *Table) Create(p *Process, name string, initialSize int64) error {
	root, err := t.fs.Root()
	if err != nil {
		return err
	}
	defer root.Close()

	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	if err := t.fs.Create(root, cwd, name); err != nil {
		return err
	}
	if initialSize <= 0 {
		return nil
	}

	f, err := t.fs.Open(root, cwd, name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(make([]byte, initialSize), 0)
	return err
}

// Remove unlinks name, per the REMOVE syscall.
func (t *Table) Remove(p *Process, name string) error {
	root, err := t.fs.Root()
	if err != nil {
		return err
	}
	defer root.Close()

	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()
	return t.fs.Remove(root, cwd, name)
}

// Open resolves name and installs it under a fresh descriptor, per the
// OPEN syscall.
func (t *Table) Open(p *Process, name string) (fd int, err error) {
	root, err := t.fs.Root()
	if err != nil {
		return -1, err
	}
	defer root.Close()

	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	ino, err := t.fs.Open(root, cwd, name)
	if err != nil {
		return -1, err
	}

	var dir *fsdir.Dir
	if ino.IsDir() {
		dir = fsdir.Open(ino)
	}
	return p.addFD(&fileHandle{ino: ino, dir: dir}), nil
}

// Filesize returns the length of the file open at fd.
func (t *Table) Filesize(p *Process, fd int) (int64, error) {
	h, ok := p.fd(fd)
	if !ok {
		return 0, fmt.Errorf("process: fd %d not open", fd)
	}
	return h.ino.Length(), nil
}

// Read reads into buf from fd's current position, advancing it. Per the
// READ syscall, reaching end-of-file is reported as a short (possibly
// zero-length) read, not an error.
func (t *Table) Read(p *Process, fd int, buf []byte) (int, error) {
	h, ok := p.fd(fd)
	if !ok {
		return 0, fmt.Errorf("process: fd %d not open", fd)
	}
	if h.dir != nil {
		return 0, fmt.Errorf("process: fd %d is a directory", fd)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.ino.ReadAt(buf, h.pos)
	h.pos += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes buf at fd's current position, advancing it, per the
// WRITE syscall.
func (t *Table) Write(p *Process, fd int, buf []byte) (int, error) {
	h, ok := p.fd(fd)
	if !ok {
		return 0, fmt.Errorf("process: fd %d not open", fd)
	}
	if h.dir != nil {
		return 0, fmt.Errorf("process: fd %d is a directory", fd)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.ino.WriteAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

// Seek repositions fd, per the SEEK syscall.
func (t *Table) Seek(p *Process, fd int, pos int64) error {
	h, ok := p.fd(fd)
	if !ok {
		return fmt.Errorf("process: fd %d not open", fd)
	}
	h.mu.Lock()
	h.pos = pos
	h.mu.Unlock()
	return nil
}

// Tell returns fd's current position, per the TELL syscall.
func (t *Table) Tell(p *Process, fd int) (int64, error) {
	h, ok := p.fd(fd)
	if !ok {
		return 0, fmt.Errorf("process: fd %d not open", fd)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos, nil
}

// Close closes fd, per the CLOSE syscall.
func (t *Table) Close(p *Process, fd int) error {
	return p.closeFD(fd)
}

// Chdir changes p's working directory, per the CHDIR syscall.
func (t *Table) Chdir(p *Process, path string) error {
	root, err := t.fs.Root()
	if err != nil {
		return err
	}
	defer root.Close()

	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	next, err := t.fs.Open(root, cwd, path)
	if err != nil {
		return err
	}
	if !next.IsDir() {
		next.Close()
		return fmt.Errorf("process: %q is not a directory", path)
	}

	p.mu.Lock()
	p.cwd = next
	p.mu.Unlock()
	return cwd.Close()
}

// Mkdir creates a new directory, per the MKDIR syscall.
func (t *Table) Mkdir(p *Process, path string) error {
	root, err := t.fs.Root()
	if err != nil {
		return err
	}
	defer root.Close()

	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()
	return t.fs.Mkdir(root, cwd, path)
}

// Readdir returns the next directory entry name at fd, advancing its
// read cursor, per the READDIR syscall. ok is false once exhausted.
func (t *Table) Readdir(p *Process, fd int) (name string, ok bool) {
	h, found := p.fd(fd)
	if !found || h.dir == nil {
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.dir.List()
	if h.readPos >= len(entries) {
		return "", false
	}
	name = entries[h.readPos].Name
	h.readPos++
	return name, true
}

// Isdir reports whether fd refers to a directory, per the ISDIR syscall.
func (t *Table) Isdir(p *Process, fd int) (bool, error) {
	h, ok := p.fd(fd)
	if !ok {
		return false, fmt.Errorf("process: fd %d not open", fd)
	}
	return h.ino.IsDir(), nil
}

// Inumber returns fd's underlying inode sector number, per the INUMBER
// syscall.
func (t *Table) Inumber(p *Process, fd int) (int, error) {
	h, ok := p.fd(fd)
	if !ok {
		return 0, fmt.Errorf("process: fd %d not open", fd)
	}
	return int(h.ino.Sector()), nil
}
