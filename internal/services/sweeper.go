package services

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SRL-GEN/internal/logger"

	"go.uber.org/zap"
)

// ScratchSweeper periodically removes transient files (downloaded signature
// and stamp images) once they are older than maxAge.
type ScratchSweeper struct {
	dirs     []string
	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func NewScratchSweeper(maxAge, interval time.Duration, log *zap.Logger, dirs ...string) *ScratchSweeper {
	return &ScratchSweeper{
		dirs:     dirs,
		maxAge:   maxAge,
		interval: interval,
		log:      logger.OrNop(log),
		done:     make(chan struct{}),
	}
}

func (s *ScratchSweeper) Start() {
	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
	s.log.Info("Scratch sweeper started", zap.Duration("max_age", s.maxAge), zap.Strings("dirs", s.dirs))
}

// Stop ends the background loop and waits for it. It is safe to call more
// than once.
func (s *ScratchSweeper) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.Info("Scratch sweeper stopped")
	})
}

// Sweep removes every regular file older than maxAge relative to now and
// returns how many were removed.
func (s *ScratchSweeper) Sweep(now time.Time) int {
	removed := 0
	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if now.Sub(info.ModTime()) > s.maxAge {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					s.log.Warn("Failed to remove scratch file", zap.String("path", path), zap.Error(err))
					return nil
				}
				s.log.Debug("Removed scratch file", zap.String("path", path))
				removed++
			}
			return nil
		})
		if err != nil {
			s.log.Warn("Scratch sweep failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	return removed
}
