package guest

import (
	"bufio"
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmware2scw/vmware2scw/kernel/runner"
)

const (
	BootUEFI = "uefi"
	BootBIOS = "bios"
)

// espGrowth is the space appended to the disk to hold a new EFI system
// partition.
const espGrowth = "+300M"

// DetectBootType reports uefi when the disk has a GPT label and a vfat
// filesystem that can serve as the EFI system partition.
func (t *Tools) DetectBootType(ctx context.Context, disk string) (string, error) {
	out, err := t.Inspect(ctx, disk, "part-get-parttype", "/dev/sda", ":", "list-filesystems")
	if err != nil {
		return "", errors.Wrap(err, "failed to inspect partition table")
	}
	return parseBootType(out), nil
}

func parseBootType(out string) string {
	scanner := bufio.NewScanner(strings.NewReader(out))
	gpt := false
	vfat := false
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			gpt = line == "gpt"
			first = false
			continue
		}
		if strings.HasSuffix(line, ": vfat") {
			vfat = true
		}
	}
	if gpt && vfat {
		return BootUEFI
	}
	return BootBIOS
}

var uefiConversion = "set -e; " +
	"command -v sgdisk >/dev/null 2>&1 || { echo 'sgdisk not available in guest' >&2; exit 1; }; " +
	"sgdisk -g /dev/sda; " +
	"sgdisk -e /dev/sda; " +
	"sgdisk -n 0:0:0 -t 0:ef00 -c 0:EFI /dev/sda; " +
	"partprobe /dev/sda 2>/dev/null || true; " +
	"ESP=$(lsblk -lnpo NAME /dev/sda | tail -n1); " +
	"mkfs.vfat -F 32 \"$ESP\"; " +
	"mkdir -p /boot/efi; " +
	"mount \"$ESP\" /boot/efi; " +
	"grep -q ' /boot/efi ' /etc/fstab || echo \"UUID=$(blkid -s UUID -o value \"$ESP\") /boot/efi vfat umask=0077 0 1\" >> /etc/fstab; " +
	"if command -v grub-install >/dev/null 2>&1; then " +
	"  grub-install --target=x86_64-efi --efi-directory=/boot/efi --removable --no-nvram; " +
	"  grub-mkconfig -o /boot/grub/grub.cfg; " +
	"else " +
	"  grub2-install --target=x86_64-efi --efi-directory=/boot/efi --removable --no-nvram; " +
	"  grub2-mkconfig -o /boot/grub2/grub.cfg; " +
	"fi; " +
	"umount /boot/efi"

// ConvertToUEFI turns a BIOS/MBR Linux disk into a GPT disk with an EFI system
// partition and a removable-path GRUB EFI loader.
func (t *Tools) ConvertToUEFI(ctx context.Context, disk string) error {
	if _, err := t.Runner.Run(ctx, runner.Command{
		Name:    "qemu-img",
		Args:    []string{"resize", disk, espGrowth},
		Timeout: t.Timeout,
	}); err != nil {
		return errors.Wrap(err, "failed to grow disk for the EFI partition")
	}
	return errors.Wrap(t.Customize(ctx, disk, uefiConversion), "BIOS to UEFI conversion")
}
