// Package interceptor – LogTailer
//
// Some clients talk to the inference server directly and never pass the
// proxy. When their logs are available, LogTailer follows them with fsnotify
// and feeds every JSON line carrying both a prompt and a response to the same
// Observer the proxy uses.
package interceptor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// LogTailer follows inference-server log files and reports JSON lines that
// carry both a prompt and a response. It is a diagnostic side channel; the
// proxy remains the primary source of exchanges.
type LogTailer struct {
	Paths    []string
	Observer Observer
	Now      func() time.Time

	offsets map[string]int64
}

// Run tails the configured files until ctx is done. Files are read from
// their current end; truncation restarts from the beginning.
func (t *LogTailer) Run(ctx context.Context) error {
	if len(t.Paths) == 0 {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	t.offsets = make(map[string]int64, len(t.Paths))
	watched := map[string]struct{}{}
	for _, p := range t.Paths {
		p = filepath.Clean(p)
		if fi, err := os.Stat(p); err == nil {
			t.offsets[p] = fi.Size()
		}
		dir := filepath.Dir(p)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot watch log directory")
			continue
		}
		watched[dir] = struct{}{}
	}
	if len(watched) == 0 {
		return errors.New("no log directory could be watched")
	}
	log.Info().Strs("paths", t.Paths).Msg("log tailer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			p := filepath.Clean(ev.Name)
			if !t.tracked(p) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				t.readNew(ctx, p)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				t.offsets[p] = 0
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("log watcher error")
		}
	}
}

func (t *LogTailer) tracked(p string) bool {
	for _, want := range t.Paths {
		if filepath.Clean(want) == p {
			return true
		}
	}
	return false
}

func (t *LogTailer) readNew(ctx context.Context, p string) {
	f, err := os.Open(p)
	if err != nil {
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return
	}
	off := t.offsets[p]
	if fi.Size() < off {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	// only consume complete lines
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return
	}
	t.offsets[p] = off + int64(end) + 1

	sc := bufio.NewScanner(bytes.NewReader(data[:end+1]))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if ex, ok := t.ParseLine(sc.Text()); ok && t.Observer != nil {
			t.Observer.Observe(ctx, ex)
		}
	}
}

// ParseLine extracts an exchange from a log line that embeds a JSON object
// with both "prompt" and "response".
func (t *LogTailer) ParseLine(line string) (Exchange, bool) {
	i, j := strings.IndexByte(line, '{'), strings.LastIndexByte(line, '}')
	if i < 0 || j <= i {
		return Exchange{}, false
	}
	obj := line[i : j+1]
	if !gjson.Valid(obj) {
		return Exchange{}, false
	}
	prompt, resp := gjson.Get(obj, "prompt"), gjson.Get(obj, "response")
	if !prompt.Exists() || !resp.Exists() || prompt.String() == "" {
		return Exchange{}, false
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return Exchange{
		At:       now(),
		Endpoint: EndpointGenerate,
		Model:    gjson.Get(obj, "model").String(),
		Prompt:   prompt.String(),
		Response: resp.String(),
		Origin:   "log",
	}, true
}
