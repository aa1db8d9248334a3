package guest

import (
	"context"

	"github.com/michaelquigley/pfxlog"
)

// OS families as resolved from the hypervisor guest identifier.
const (
	FamilyLinux   = "linux"
	FamilyWindows = "windows"
)

var removeVMwareToolsLinux = []string{
	"if command -v apt-get >/dev/null 2>&1; then " +
		"  DEBIAN_FRONTEND=noninteractive apt-get remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true; " +
		"elif command -v dnf >/dev/null 2>&1; then " +
		"  dnf remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true; " +
		"elif command -v yum >/dev/null 2>&1; then " +
		"  yum remove -y open-vm-tools open-vm-tools-desktop 2>/dev/null || true; " +
		"elif command -v zypper >/dev/null 2>&1; then " +
		"  zypper --non-interactive remove open-vm-tools 2>/dev/null || true; " +
		"fi",
	"if [ -x /usr/bin/vmware-uninstall-tools.pl ]; then /usr/bin/vmware-uninstall-tools.pl || true; fi",
	"rm -rf /etc/vmware-tools 2>/dev/null || true",
}

// CleanTools removes VMware guest tools from the boot disk. Windows guests
// keep their tools; removing them offline is not supported.
func (t *Tools) CleanTools(ctx context.Context, disk, family string) error {
	if family == FamilyWindows {
		pfxlog.Logger().Info("windows guest: VMware tools are left in place")
		return nil
	}
	return t.Customize(ctx, disk, removeVMwareToolsLinux...)
}

var virtioInitramfs = "if [ -d /etc/initramfs-tools ]; then " +
	"  for mod in virtio_blk virtio_scsi virtio_net virtio_pci; do " +
	"    grep -q $mod /etc/initramfs-tools/modules 2>/dev/null || echo $mod >> /etc/initramfs-tools/modules; " +
	"  done; " +
	"  update-initramfs -u 2>/dev/null || true; " +
	"elif command -v dracut >/dev/null 2>&1; then " +
	"  dracut --force --add-drivers 'virtio_blk virtio_scsi virtio_net virtio_pci' 2>/dev/null || true; " +
	"fi"

// InjectVirtioLinux makes sure the initramfs can find a virtio root disk.
func (t *Tools) InjectVirtioLinux(ctx context.Context, disk string) error {
	return t.Customize(ctx, disk, virtioInitramfs)
}

var bootloaderFixes = []string{
	// fstab: /dev/sd* to /dev/vd*, UUID and LABEL entries are untouched
	"if [ -f /etc/fstab ]; then " +
		"  cp /etc/fstab /etc/fstab.vmware2scw.bak; " +
		"  sed -i 's|/dev/sda|/dev/vda|g; s|/dev/sdb|/dev/vdb|g; s|/dev/sdc|/dev/vdc|g' /etc/fstab; " +
		"fi",
	"if [ -f /etc/default/grub ]; then " +
		"  cp /etc/default/grub /etc/default/grub.vmware2scw.bak; " +
		"  sed -i 's|/dev/sda|/dev/vda|g' /etc/default/grub; " +
		"fi",
	"if [ -f /boot/grub/device.map ]; then " +
		"  sed -i 's|/dev/sda|/dev/vda|g' /boot/grub/device.map; " +
		"fi",
	"if command -v grub-mkconfig >/dev/null 2>&1; then " +
		"  grub-mkconfig -o /boot/grub/grub.cfg 2>/dev/null || true; " +
		"elif command -v grub2-mkconfig >/dev/null 2>&1; then " +
		"  grub2-mkconfig -o /boot/grub2/grub.cfg 2>/dev/null || true; " +
		"fi",
	virtioInitramfs,
	"rm -f /etc/modprobe.d/*vmw* 2>/dev/null || true; " +
		"rm -f /etc/modprobe.d/*vmware* 2>/dev/null || true",
	// interface names change under virtio
	"rm -f /etc/udev/rules.d/70-persistent-net.rules 2>/dev/null || true; " +
		"rm -f /etc/udev/rules.d/75-persistent-net-generator.rules 2>/dev/null || true",
	"if [ -d /etc/netplan ]; then " +
		"  printf 'network:\\n  version: 2\\n  ethernets:\\n    ens2:\\n      dhcp4: true\\n    eth0:\\n      dhcp4: true\\n' > /etc/netplan/50-cloud-init.yaml; " +
		"elif [ -d /etc/sysconfig/network-scripts ]; then " +
		"  printf 'DEVICE=eth0\\nONBOOT=yes\\nBOOTPROTO=dhcp\\n' > /etc/sysconfig/network-scripts/ifcfg-eth0; " +
		"fi",
}

// FixBootloader adapts fstab, GRUB, initramfs and network configuration of a
// Linux guest to virtio devices, in a single virt-customize pass.
func (t *Tools) FixBootloader(ctx context.Context, disk string) error {
	return t.Customize(ctx, disk, bootloaderFixes...)
}

const restoreFstab = "if [ -f /etc/fstab.augsave ]; then mv -f /etc/fstab.augsave /etc/fstab; fi"

// RestoreFstab undoes the fstab rewrite virt-v2v performs on Linux guests;
// FixBootloader applies its own device mapping afterwards.
func (t *Tools) RestoreFstab(ctx context.Context, disk string) error {
	return t.Customize(ctx, disk, restoreFstab)
}
