package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// maxDotenvDepth bounds the upward search for .env files.
const maxDotenvDepth = 8

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files once per process. ENV_FILE names an
// explicit file; otherwise every .env from the working directory up to the
// module root is loaded, nearest first. Existing variables win unless
// DOTENV_OVERLOAD=1. NO_DOTENV=1 disables loading.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	load := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		load = godotenv.Overload
	}
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = load(envFile)
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	if files := DotenvFiles(wd); len(files) > 0 {
		_ = load(files...)
	}
}

// DotenvFiles lists existing .env files from dir upwards, stopping at the
// first directory holding go.mod or .git.
func DotenvFiles(dir string) []string {
	var out []string
	for i := 0; i < maxDotenvDepth; i++ {
		if p := filepath.Join(dir, ".env"); exists(p) {
			out = append(out, p)
		}
		if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return out
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
