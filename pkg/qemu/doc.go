// Package qemu 负责拉起和终止 qemu-system 虚拟机进程
//
// 虚拟机进程以独立会话（setsid）启动，标准输入输出全部丢弃，
// 管理进程退出或重启都不会影响已经运行的虚拟机。
// 因此 pid 只是一个弱引用：调用方不能假设它一定指向存活的进程，
// Terminate 对已经退出的进程返回 ErrProcessNotFound。
//
// 示例：
//
//	sup := qemu.New("qemu-system-x86_64", 512)
//	pid, err := sup.Spawn(ctx, qemu.LaunchSpec{
//		Name:     "node-1",
//		DiskPath: "/var/lib/vlab/overlays/node-1.qcow2",
//		VNCPort:  5901,
//	})
//	// ...
//	err = sup.Terminate(pid)
package qemu
