package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/vlab/pkg/apierror"
	"github.com/jimyag/vlab/pkg/qemuimg"
	"github.com/rs/zerolog"
)

const (
	overlayFormat = "qcow2"
	// pendingSuffix wipe 时新 overlay 的临时后缀
	pendingSuffix = ".new"
)

// OverlayDriver 管理节点的 copy-on-write overlay 磁盘
type OverlayDriver struct {
	qemuImg qemuimg.QemuImgClient
}

// NewOverlayDriver 创建 OverlayDriver
func NewOverlayDriver(qemuImg qemuimg.QemuImgClient) *OverlayDriver {
	return &OverlayDriver{qemuImg: qemuImg}
}

// Create 创建以 basePath 为 backing file 的 qcow2 overlay
// 基础镜像不存在时直接返回 ErrBaseImageNotFound，不调用 qemu-img
func (d *OverlayDriver) Create(ctx context.Context, basePath, overlayPath string) error {
	logger := zerolog.Ctx(ctx)

	if _, err := os.Stat(basePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apierror.WrapError(apierror.ErrBaseImageNotFound,
				fmt.Sprintf("base image %s does not exist", filepath.Base(basePath)), err)
		}
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to stat base image", err)
	}

	if err := os.MkdirAll(filepath.Dir(overlayPath), 0o755); err != nil {
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to create overlay directory", err)
	}

	backingFormat, err := d.qemuImg.GetFormat(ctx, basePath)
	if err != nil {
		logger.Warn().Err(err).Str("base_image", basePath).Msg("Failed to detect base image format, assuming qcow2")
		backingFormat = overlayFormat
	}

	if err := d.qemuImg.CreateFromBackingFile(ctx, overlayFormat, backingFormat, basePath, overlayPath); err != nil {
		// qemu-img 失败时可能留下半成品
		_ = os.Remove(overlayPath)
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to create overlay disk", err)
	}

	// overlay 必须以 basePath 为 backing file，否则节点启动的不是记录里的基础镜像
	if err := d.verifyBacking(ctx, basePath, overlayPath); err != nil {
		_ = os.Remove(overlayPath)
		return err
	}

	logger.Debug().
		Str("base_image", basePath).
		Str("overlay_path", overlayPath).
		Str("backing_format", backingFormat).
		Msg("Overlay created")
	return nil
}

func (d *OverlayDriver) verifyBacking(ctx context.Context, basePath, overlayPath string) error {
	backing, err := d.qemuImg.BackingFile(ctx, overlayPath)
	if err != nil {
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to inspect overlay disk", err)
	}
	if filepath.Clean(backing) != filepath.Clean(basePath) {
		return apierror.WrapError(apierror.ErrImageCreate,
			fmt.Sprintf("overlay %s is backed by %q, want %q", filepath.Base(overlayPath), backing, basePath), nil)
	}
	return nil
}

// Delete 删除 overlay 以及可能残留的 wipe 临时文件，文件不存在视为成功
func (d *OverlayDriver) Delete(_ context.Context, overlayPath string) error {
	var errs []error
	for _, p := range []string{overlayPath, overlayPath + pendingSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recreate 把 overlay 重置为干净的状态
// 先在 <overlay>.new 创建新盘再 rename 覆盖，任意时刻崩溃都至少保留新旧其中一个
func (d *OverlayDriver) Recreate(ctx context.Context, basePath, overlayPath string) error {
	pending := overlayPath + pendingSuffix

	if err := os.Remove(pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to remove stale pending overlay", err)
	}

	if err := d.Create(ctx, basePath, pending); err != nil {
		return err
	}

	if err := os.Rename(pending, overlayPath); err != nil {
		_ = os.Remove(pending)
		return apierror.WrapError(apierror.ErrImageCreate, "Failed to swap in new overlay", err)
	}
	return nil
}

// Exists overlay 文件是否存在
func (d *OverlayDriver) Exists(overlayPath string) bool {
	info, err := os.Stat(overlayPath)
	return err == nil && info.Mode().IsRegular()
}
