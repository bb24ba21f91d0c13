// Package watch turns a directory into a drop target: files copied into it
// are collected into one batch per burst and handed to the viewer.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/logging"
)

// DefaultDebounce is how long the folder must stay quiet before a batch is
// emitted.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Folder.
type Options struct {
	Debounce time.Duration
	// Extensions limits accepted files, e.g. ".dcm". Empty accepts every
	// regular file, since DICOM files often have no extension.
	Extensions []string
	Logger     *logging.Logger
}

// Folder watches one directory.
type Folder struct {
	dir     string
	opts    Options
	log     *logging.Logger
	watcher *fsnotify.Watcher

	batches chan []engine.File
	stopCh  chan struct{}
	stopped sync.Once
	done    chan struct{}
}

// New starts watching dir. Call Start to begin emitting batches.
func New(dir string, opts Options) (*Folder, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch folder: %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Folder{
		dir:     dir,
		opts:    opts,
		log:     log.WithComponent("watch"),
		watcher: watcher,
		batches: make(chan []engine.File, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Dir is the watched directory.
func (f *Folder) Dir() string { return f.dir }

// Batches delivers one slice of files per quiet period. It is closed after
// Stop.
func (f *Folder) Batches() <-chan []engine.File { return f.batches }

// Start begins processing filesystem events.
func (f *Folder) Start() {
	go f.watchLoop()
}

// Stop ends the watch and waits for the loop to exit.
func (f *Folder) Stop() {
	f.stopped.Do(func() {
		close(f.stopCh)
		_ = f.watcher.Close()
	})
	<-f.done
}

func (f *Folder) watchLoop() {
	defer close(f.done)
	defer close(f.batches)

	// Debounce: copying a series fires many events
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C
	pending := make(map[string]struct{})

	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !f.accepts(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounceTimer.Reset(f.opts.Debounce)
		case <-debounceTimer.C:
			batch := f.collect(pending)
			pending = make(map[string]struct{})
			if len(batch) == 0 {
				continue
			}
			f.log.Info("files dropped", "dir", f.dir, "count", len(batch))
			select {
			case f.batches <- batch:
			case <-f.stopCh:
				return
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("watch error", "error", err)
		}
	}
}

func (f *Folder) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(f.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, want := range f.opts.Extensions {
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// collect stats pending paths and keeps the regular files still present.
func (f *Folder) collect(pending map[string]struct{}) []engine.File {
	files := make([]engine.File, 0, len(pending))
	for path := range pending {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, fileOf(path, info))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func fileOf(path string, info fs.FileInfo) engine.File {
	return engine.File{Name: info.Name(), Path: path, Size: info.Size()}
}

// ErrNoFiles is returned by Collect when the paths hold no usable files.
var ErrNoFiles = errors.New("no files found")

// Collect expands paths into files. Directories are walked recursively;
// hidden entries are skipped. The result is sorted by path.
func Collect(paths []string) ([]engine.File, error) {
	var files []engine.File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.Mode().IsRegular() {
			files = append(files, fileOf(p, info))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, fileOf(path, fi))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
