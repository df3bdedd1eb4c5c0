package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files into the environment. Variables already set
// win. A missing file is reported as ok=false, not as an error.
func LoadDotEnv(filenames ...string) (ok bool, err error) {
	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
