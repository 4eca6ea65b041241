// Package uploader implements the chunked streaming log uploader
// (SPEC_FULL.md C9 / spec.md §4.9), the subtlest part of the pipeline.
//
// A log named N is published as three artifact families while streaming
// is in progress:
//
//	N.<start>-<end>   an immutable byte range of one frozen chunk
//	N.chunks          a JSON array of chunk byte-lengths, in order
//	N                 the final, complete log, written once at finalization
//
// After finalization every N.* auxiliary artifact is deleted, so a client
// that gets 404 on N.chunks knows streaming has ended.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package uploader

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/pkg/errors"

	"github.com/cockpit-project/citransfer/index"
	"github.com/cockpit-project/citransfer/metrics"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SizeLimit is the pending-buffer size that forces an immediate flush.
const SizeLimit = 1_000_000

// TimeLimit is how long a non-empty pending buffer waits before an
// armed timer forces a flush.
const TimeLimit = 30 * time.Second

// chunksSuffix is the artifact suffix for the manifest of chunk sizes.
const chunksSuffix = "chunks"

// ErrFinalized is returned by Write when called after a prior call with
// final=true. The source left this behavior undefined; SPEC_FULL.md's
// Open Question decision makes it a hard rejection.
var ErrFinalized = errors.New("uploader: write after finalization")

//go:embed assets
var staticAssets embed.FS

// Uploader accumulates a byte stream into growing chunks and publishes
// range/manifest artifacts as it goes, finishing with a single complete
// object. One Uploader instance owns its chunks/pending state; it is not
// safe to share a stream's writes across goroutines without the internal
// mutex, which every exported method already takes.
type Uploader struct {
	name string
	idx  *index.Index

	mu        sync.Mutex
	chunks    [][][]byte // each chunk is a list of blocks, oldest chunk first
	pending   []byte
	timer     *time.Timer
	suffixes  map[string]struct{}
	decodeBuf []byte // incomplete trailing UTF-8 bytes held across writes
	finalized bool
}

// New returns an Uploader that publishes artifacts named name through idx.
func New(name string, idx *index.Index) *Uploader {
	return &Uploader{
		name:     name,
		idx:      idx,
		suffixes: map[string]struct{}{chunksSuffix: struct{}{}},
	}
}

// Start seeds pending with initialText, flushes immediately so the
// .chunks manifest exists before any subscriber might poll, then mirrors
// the bundled viewer assets into the index.
func (u *Uploader) Start(initialText string) error {
	u.mu.Lock()
	u.pending = []byte(initialText)
	err := u.sendPendingLocked()
	u.mu.Unlock()
	if err != nil {
		return err
	}
	return u.mirrorAssets()
}

func (u *Uploader) mirrorAssets() error {
	return fs.WalkDir(staticAssets, "assets", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := staticAssets.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "uploader: read embedded asset %s", p)
		}
		rel, err := path.Rel("assets", p)
		if err != nil {
			return err
		}
		return u.idx.Write(rel, data)
	})
}

// Write feeds data through an incremental UTF-8 decoder (replacing
// malformed sequences, never splitting a valid one across a flush
// boundary) and appends the result to pending. If final is true this is
// the last write: the complete log is assembled and written as the
// finalized artifact, and every transient N.* artifact is deleted.
// Write returns ErrFinalized if the stream was already finalized.
func (u *Uploader) Write(data []byte, final bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finalized {
		return ErrFinalized
	}

	decoded := u.decodeLocked(data, final)
	u.pending = append(u.pending, decoded...)

	if final {
		return u.finalizeLocked()
	}

	if len(u.pending) == 0 {
		return nil
	}
	if len(u.pending) > SizeLimit {
		return u.sendPendingLocked()
	}
	if u.timer == nil {
		u.timer = time.AfterFunc(TimeLimit, u.onTimerFire)
	}
	return nil
}

func (u *Uploader) onTimerFire() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timer = nil
	if u.finalized {
		return
	}
	_ = u.sendPendingLocked()
}

// decodeLocked transcodes data to well-formed UTF-8, holding back any
// incomplete trailing sequence until more bytes arrive or final forces a
// decision. Must be called with mu held.
func (u *Uploader) decodeLocked(data []byte, final bool) []byte {
	buf := append(u.decodeBuf, data...)
	var out []byte
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size <= 1 {
			if !final && !utf8.FullRune(buf[i:]) {
				break // incomplete sequence at the end, wait for more data
			}
			out = utf8.AppendRune(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, buf[i:i+size]...)
		i += size
	}
	u.decodeBuf = append([]byte(nil), buf[i:]...)
	if final && len(u.decodeBuf) > 0 {
		out = utf8.AppendRune(out, utf8.RuneError)
		u.decodeBuf = nil
	}
	return out
}

// finalizeLocked concatenates every accepted byte and publishes it as the
// complete log, then deletes every transient artifact. Must be called
// with mu held; sets finalized unconditionally.
func (u *Uploader) finalizeLocked() error {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.finalized = true

	var buf bytes.Buffer
	for _, chunk := range u.chunks {
		for _, block := range chunk {
			buf.Write(block)
		}
	}
	buf.Write(u.pending)
	u.pending = nil

	if err := u.idx.Write(u.name, buf.Bytes()); err != nil {
		return errors.Wrap(err, "uploader: write finalized log")
	}

	names := make([]string, 0, len(u.suffixes))
	for suffix := range u.suffixes {
		names = append(names, u.name+"."+suffix)
	}
	u.idx.Underlying().Delete(names)
	return nil
}

// sendPendingLocked freezes pending as a new chunk, applies the 2048
// merge rule, and publishes the resulting range and manifest artifacts.
// Must be called with mu held.
func (u *Uploader) sendPendingLocked() error {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}

	u.chunks = append(u.chunks, [][]byte{u.pending})
	u.pending = nil

	for len(u.chunks) >= 2 {
		last := u.chunks[len(u.chunks)-1]
		secondLast := u.chunks[len(u.chunks)-2]
		if len(last) != len(secondLast) {
			break
		}
		merged := make([][]byte, 0, len(secondLast)+len(last))
		merged = append(merged, secondLast...)
		merged = append(merged, last...)
		u.chunks = u.chunks[:len(u.chunks)-2]
		u.chunks = append(u.chunks, merged)
		metrics.ChunkMergesTotal.Inc()
	}

	sizes := make([]int, len(u.chunks))
	for i, chunk := range u.chunks {
		sum := 0
		for _, block := range chunk {
			sum += len(block)
		}
		sizes[i] = sum
	}

	start := 0
	for _, s := range sizes[:len(sizes)-1] {
		start += s
	}
	end := start + sizes[len(sizes)-1]

	var rangeBuf bytes.Buffer
	for _, block := range u.chunks[len(u.chunks)-1] {
		rangeBuf.Write(block)
	}
	suffix := fmt.Sprintf("%d-%d", start, end)
	dest := u.idx.Underlying()
	if err := dest.Write(u.name+"."+suffix, rangeBuf.Bytes()); err != nil {
		return errors.Wrap(err, "uploader: write range artifact")
	}
	u.suffixes[suffix] = struct{}{}
	metrics.BytesUploaded.Add(float64(rangeBuf.Len()))

	payload, err := jsonAPI.Marshal(sizes)
	if err != nil {
		return errors.Wrap(err, "uploader: marshal chunk manifest")
	}
	if err := dest.Write(u.name+"."+chunksSuffix, payload); err != nil {
		return errors.Wrap(err, "uploader: write chunk manifest")
	}
	return nil
}

// Flush forces any buffered pending bytes to be frozen into a chunk and
// published immediately, without waiting for the size or time trigger.
// Exposed for callers (and tests) driving the flush schedule explicitly;
// Write itself calls this path when a trigger fires.
func (u *Uploader) Flush() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finalized {
		return ErrFinalized
	}
	return u.sendPendingLocked()
}
