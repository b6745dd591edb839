// Package banner prints the startup banner with the effective runtime
// settings so operators can confirm what the process loaded.
package banner

import (
	"fmt"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██╗  ██╗██╗████████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██║ ██╔╝██║╚══██╔══╝
██║     ███████║███████║   ██║   █████╔╝ ██║   ██║
██║     ██╔══██║██╔══██║   ██║   ██╔═██╗ ██║   ██║
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██╗██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚═╝   ╚═╝
`

// Print writes the banner and the effective runtime settings to stdout.
func Print(addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("===============================================================")
}
