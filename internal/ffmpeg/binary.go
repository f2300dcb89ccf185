package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
)

// findBinary resolves an executable by name. An env var override wins,
// then a copy in the working directory, then PATH.
func findBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && executable(p) {
			return p, nil
		}
	}

	if local := "./" + name; executable(local) {
		return local, nil
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
