package core

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// StoreWatcher 监听存储文件的外部修改 (其它进程写入)，去抖后回调 onChange
type StoreWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *logrus.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
	fsw      *fsnotify.Watcher
}

func NewStoreWatcher(path string, debounce time.Duration, logger *logrus.Logger, onChange func()) *StoreWatcher {
	return &StoreWatcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start 监听所在目录：存储文件通过 rename 替换，直接监听文件会在第一次写入后失效
func (w *StoreWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
	return nil
}

func (w *StoreWatcher) loop() {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	target := filepath.Clean(w.path)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("store watcher error")
		case <-timerCh:
			timerCh = nil
			w.onChange()
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *StoreWatcher) Close() error {
	close(w.stop)
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
