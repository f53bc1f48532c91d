package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	"go-comfy-model-manager/internal/models"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// SanitizeName converts a model name into a safe directory name: every
// character outside [A-Za-z0-9_.-] becomes an underscore. Idempotent.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '_' || ch == '.' || ch == '-':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CheckAndMakeDir ensures a directory exists, creating parents if necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// CheckHash verifies a file against the provided hashes (BLAKE3, SHA256).
// It returns true if any of the hashes match.
func CheckHash(filepath string, hashes models.Hashes) bool {
	if hashes.BLAKE3 == "" && hashes.SHA256 == "" {
		return false
	}
	data, err := os.ReadFile(filepath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error reading file %s for hash check", filepath)
		}
		return false
	}

	if hashes.BLAKE3 != "" {
		sum := blake3.Sum256(data)
		calculated := strings.ToUpper(hex.EncodeToString(sum[:]))
		if calculated == strings.ToUpper(strings.TrimSpace(hashes.BLAKE3)) {
			log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", filepath)
			return true
		}
	}

	if hashes.SHA256 != "" {
		sum := sha256.Sum256(data)
		calculated := hex.EncodeToString(sum[:])
		if calculated == strings.ToLower(strings.TrimSpace(hashes.SHA256)) {
			log.WithField("hash", "SHA256").Debugf("Hash match for %s", filepath)
			return true
		}
	}

	return false
}

// BytesToSize converts a byte count into a human-readable string.
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}
