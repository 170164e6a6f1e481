package commands

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strongbox-io/strongbox/pkg/config"
	"github.com/strongbox-io/strongbox/pkg/store"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Create a configuration file with sane defaults and freshly generated
secrets (session signing key and file encryption master key).

The master key encrypts every per-file key. Losing it makes all stored
files unrecoverable, so back it up before uploading anything.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = "strongbox.yaml"
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	jwtSecret, err := randomHex(32)
	if err != nil {
		return err
	}
	masterKey, err := randomBase64(32)
	if err != nil {
		return err
	}

	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: jwtSecret},
		Storage: config.StorageConfig{
			Path:      "./data/files",
			MasterKey: masterKey,
		},
		Database: store.Config{
			Type:   store.DatabaseTypeSQLite,
			SQLite: store.SQLiteConfig{Path: "./data/strongbox.db"},
		},
	}
	config.ApplyDefaults(cfg)

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Back up the generated master_key, files cannot be decrypted without it")
	fmt.Println("  2. Review the configuration and adjust paths and origins")
	fmt.Printf("  3. Start the server: strongbox start --config %s\n", path)
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func randomBase64(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
