/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package config

import (
	"log"
	"path/filepath"

	"github.com/dc0d/onexit"
	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads path's config file into a Store whenever the
// file changes on disk, mirroring storage/settings.go's InitSettings,
// which registers an onexit.Register cleanup hook alongside wiring its
// settings. TLS cert/key paths are deliberately excluded from reload:
// a certificate rotation needs a fresh listener, not a config swap, so
// callers that need that must restart the process.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path's parent directory (fsnotify watches
// directories, not bare files, so
// that it keeps working across editors that replace-via-rename rather
// than write-in-place) for changes. It does not load path itself: store
// keeps whatever value it already holds until the file changes. Reload
// failures are logged
// and otherwise ignored: the previous good Store value stays in effect
// rather than crash the server over a malformed edit.
func WatchFile(path string, store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{store: store, watcher: fsw, done: make(chan struct{})}
	go w.loop(path)

	onexit.Register(func() { w.Close() })

	return w, nil
}

func (w *Watcher) loop(path string) {
	target := filepath.Clean(path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			w.reload(path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(path string) {
	current := w.store.Get()
	next, err := Load(path)
	if err != nil {
		log.Printf("config: reload of %s failed, keeping previous settings: %v", path, err)
		return
	}
	// TLS material never changes via hot reload; preserve whatever the
	// process started with.
	next.TLSCertFile = current.TLSCertFile
	next.TLSKeyFile = current.TLSKeyFile
	w.store.Swap(next)
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
