package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alanyoungcy/snipebot/internal/crypto"
)

const keyPasswordEnv = "SNIPEBOT_WALLET_KEY_PASSWORD"

// writeKeyFile reads a secret key from in and writes it encrypted to path.
// An existing file is never overwritten.
func writeKeyFile(path string, in io.Reader, password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%s must be set", keyPasswordEnv)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	raw := strings.TrimSpace(line)
	key, err := crypto.ParsePrivateKey(raw)
	if err != nil {
		return "", err
	}
	blob, err := crypto.EncryptKey(raw, password)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	return key.PublicKey().String(), nil
}
