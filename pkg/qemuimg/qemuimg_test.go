package qemuimg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQemuImg 写一个记录参数并输出固定内容的假 qemu-img 脚本
// 使用它的测试不能并行：并发 fork 可能继承脚本的写句柄导致 ETXTBSY
func fakeQemuImg(t *testing.T, stdout string, exitCode int) (bin string, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	outFile := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(outFile, []byte(stdout), 0o644))

	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"cat " + outFile + "\n" +
		"exit " + strconv.Itoa(exitCode) + "\n"
	bin = filepath.Join(dir, "qemu-img")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func readArgs(t *testing.T, argsFile string) string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("default path", func(t *testing.T) {
		t.Parallel()
		client := New("")
		assert.Equal(t, "qemu-img", client.qemuImgPath)
		assert.Equal(t, 2*time.Minute, client.timeout)
	})

	t.Run("custom path with timeout", func(t *testing.T) {
		t.Parallel()
		client := New("/usr/local/bin/qemu-img").WithTimeout(time.Minute)
		assert.Equal(t, "/usr/local/bin/qemu-img", client.qemuImgPath)
		assert.Equal(t, time.Minute, client.timeout)
	})
}

func TestClient_CreateFromBackingFile_Args(t *testing.T) {
	bin, argsFile := fakeQemuImg(t, "Formatting ...", 0)
	client := New(bin)

	err := client.CreateFromBackingFile(context.Background(), "qcow2", "qcow2", "/base/cirros.qcow2", "/overlays/node-1.qcow2")
	require.NoError(t, err)
	assert.Equal(t, "create -f qcow2 -F qcow2 -b /base/cirros.qcow2 /overlays/node-1.qcow2", readArgs(t, argsFile))
}

func TestClient_CreateFromBackingFile_Failure(t *testing.T) {
	bin, _ := fakeQemuImg(t, "Could not open backing file", 1)
	client := New(bin)

	err := client.CreateFromBackingFile(context.Background(), "qcow2", "qcow2", "/base/missing.qcow2", "/overlays/node-1.qcow2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not open backing file")
}

func TestClient_ParseInfo(t *testing.T) {
	info := `image: node-1.qcow2
file format: qcow2
virtual size: 1 GiB (1073741824 bytes)
disk size: 196 KiB
cluster_size: 65536
backing file: /base/cirros.qcow2 (actual path: /base/cirros.qcow2)
backing file format: qcow2
`
	bin, argsFile := fakeQemuImg(t, info, 0)
	client := New(bin)
	ctx := context.Background()

	format, err := client.GetFormat(ctx, "/overlays/node-1.qcow2")
	require.NoError(t, err)
	assert.Equal(t, "qcow2", format)
	assert.Equal(t, "info /overlays/node-1.qcow2", readArgs(t, argsFile))

	backing, err := client.BackingFile(ctx, "/overlays/node-1.qcow2")
	require.NoError(t, err)
	assert.Equal(t, "/base/cirros.qcow2", backing)
}

func TestClient_BackingFile_None(t *testing.T) {
	bin, _ := fakeQemuImg(t, "image: base.qcow2\nfile format: raw\n", 0)
	client := New(bin)

	backing, err := client.BackingFile(context.Background(), "/base/base.img")
	require.NoError(t, err)
	assert.Empty(t, backing)
}

func TestClient_GetFormat_Unparsable(t *testing.T) {
	bin, _ := fakeQemuImg(t, "garbage\n", 0)
	client := New(bin)

	_, err := client.GetFormat(context.Background(), "/base/base.img")
	assert.Error(t, err)
}

func TestClient_RealQemuImg(t *testing.T) {
	// 检查 qemu-img 是否可用
	if _, err := exec.LookPath("qemu-img"); err != nil {
		t.Skip("qemu-img not found in PATH, skipping test")
	}

	t.Parallel()

	client := New("")
	ctx := context.Background()
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "base.qcow2")
	overlay := filepath.Join(tmpDir, "node-1.qcow2")

	require.NoError(t, exec.CommandContext(ctx, "qemu-img", "create", "-f", "qcow2", base, "1G").Run())
	require.NoError(t, client.CreateFromBackingFile(ctx, "qcow2", "qcow2", base, overlay))

	format, err := client.GetFormat(ctx, overlay)
	require.NoError(t, err)
	assert.Equal(t, "qcow2", format)

	backing, err := client.BackingFile(ctx, overlay)
	require.NoError(t, err)
	assert.Equal(t, base, backing)
}
