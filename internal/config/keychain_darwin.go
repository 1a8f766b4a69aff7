//go:build darwin

package config

import "os/exec"

// keychainExec reads a generic password item, e.g. one added with
// security add-generic-password -s cory -a openai_api_key -w <key>.
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}
