package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

// UUIDint64 returns a snowflake int64 identifier for database rows.
func UUIDint64() int64 {
	snowflakeOnce.Do(func() {
		var err error
		snowflakeNode, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return snowflakeNode.Generate().Int64()
}

// UUIDv7 returns a time-ordered UUID string. Falls back to a random
// UUIDv4 if v7 generation fails (entropy exhaustion).
func UUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CleanUUID returns a UUIDv7 with the dashes stripped, suitable for
// use in file names and storage paths.
func CleanUUID() string {
	return strings.ReplaceAll(UUIDv7(), "-", "")
}

// Sha256HashWithSalt hashes value+salt and returns the hex digest.
func Sha256HashWithSalt(value, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}

// GetSecretSalt returns the process-level secret salt.
func GetSecretSalt() string {
	if s := os.Getenv("WAGATE_SECRET_SALT"); s != "" {
		return s
	}
	return "wagate"
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
