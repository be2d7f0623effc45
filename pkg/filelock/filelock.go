// Package filelock 基于 flock(2) 的进程间互斥锁
//
// 用来保证同一个数据目录只被一个 vlab 进程管理，进程退出时内核自动释放锁。
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ErrLocked 锁已被其他进程持有
var ErrLocked = errors.New("file lock is held by another process")

// FileLock 文件锁
type FileLock struct {
	path string
	file *os.File
}

// New 创建文件锁，此时还未加锁
func New(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// TryLock 非阻塞加锁，被占用时返回 ErrLocked
func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}

	file, err := fl.open()
	if err != nil {
		return err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrLocked, fl.path)
		}
		return fmt.Errorf("flock %s: %w", fl.path, err)
	}

	// 写入持有者 pid 方便排查
	_ = file.Truncate(0)
	_, _ = fmt.Fprintf(file, "%d\n", os.Getpid())

	fl.file = file
	log.Debug().Str("lock_path", fl.path).Msg("Lock acquired")
	return nil
}

// Unlock 释放锁，未持有时什么也不做
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		log.Warn().Err(err).Str("lock_path", fl.path).Msg("Failed to unlock file")
	}
	if err := fl.file.Close(); err != nil {
		log.Warn().Err(err).Str("lock_path", fl.path).Msg("Failed to close lock file")
	}
	fl.file = nil

	log.Debug().Str("lock_path", fl.path).Msg("Lock released")
	return nil
}
