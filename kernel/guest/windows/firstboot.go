package windows

import (
	"strings"
)

const (
	FirstbootScriptName = "0000-install-virtio-drivers.bat"
	FirstbootScriptsDir = "/Program Files/Guestfs/Firstboot/scripts"
)

// firstbootScript installs every staged driver package with pnputil, forces
// DHCP on all adapters and reboots once.
var firstbootScript = strings.Join([]string{
	`@echo off`,
	`setlocal EnableDelayedExpansion`,
	`set LOG=C:\virtio-install.log`,
	`echo [%date% %time%] installing virtio drivers >> %LOG%`,
	``,
	`for /d %%D in (C:\Drivers\*) do (`,
	`    for %%F in (%%D\*.inf) do (`,
	`        echo [%date% %time%] pnputil /add-driver "%%F" /install >> %LOG%`,
	`        pnputil /add-driver "%%F" /install >> %LOG% 2>&1`,
	`        echo [%date% %time%] exit code !ERRORLEVEL! >> %LOG%`,
	`    )`,
	`)`,
	``,
	`echo [%date% %time%] enabling DHCP >> %LOG%`,
	`powershell -Command "Get-NetAdapter | ForEach-Object { Set-NetIPInterface -InterfaceIndex $_.ifIndex -Dhcp Enabled -ErrorAction SilentlyContinue; Set-DnsClientServerAddress -InterfaceIndex $_.ifIndex -ResetServerAddresses -ErrorAction SilentlyContinue }" >> %LOG% 2>&1`,
	`netsh interface ip set address name="Ethernet" dhcp >> %LOG% 2>&1`,
	`netsh interface ip set address name="Ethernet 2" dhcp >> %LOG% 2>&1`,
	`netsh interface ip set address name="Ethernet Instance 0" dhcp >> %LOG% 2>&1`,
	`ipconfig /renew >> %LOG% 2>&1`,
	``,
	`echo [%date% %time%] virtio driver installation complete, rebooting >> %LOG%`,
	`shutdown /r /t 15 /c "virtio driver installation complete"`,
	``,
}, "\r\n")

// FirstbootScript returns the batch file staged for the guest's first boot.
func FirstbootScript() string {
	return firstbootScript
}

func firstbootGuestPath() string {
	return FirstbootScriptsDir + "/" + FirstbootScriptName
}
