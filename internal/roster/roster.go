// Package roster は改行区切りのアイデンティティ一覧を読み込む。
package roster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Normalize はアイデンティティを小文字化し前後の空白を除去する。
func Normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Read は1行1アイデンティティのロスターを読み込む。
// 空行と重複は除外し、最初に現れた位置を保持する。
func Read(r io.Reader) ([]string, error) {
	var identities []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		id := Normalize(scanner.Text())
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		identities = append(identities, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return identities, nil
}

// ReadFile はファイルからロスターを読み込む。
func ReadFile(path string) ([]string, error) {
	// #nosec G304 -- path is operator supplied configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	return Read(f)
}
